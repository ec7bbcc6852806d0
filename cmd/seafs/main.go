package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/seafile-fuse/seafs-go/internal/credentials"
	"github.com/seafile-fuse/seafs-go/internal/fuse"
	"github.com/seafile-fuse/seafs-go/internal/repo"
	"github.com/seafile-fuse/seafs-go/internal/repo/mongodb"
	"github.com/seafile-fuse/seafs-go/internal/repo/postgres"
	"github.com/seafile-fuse/seafs-go/internal/repo/s3"
	"github.com/seafile-fuse/seafs-go/internal/repo/seafile"
)

func main() {
	var (
		mountpoint = flag.String("mountpoint", "", "Mount point directory")
		backend    = flag.String("backend", "seafile", "Repository backend: seafile, postgres, mongodb or s3")
		cacheTTL   = flag.Duration("cache-ttl", 10*time.Second, "Directory attribute cache TTL")
		debug      = flag.Bool("debug", false, "Enable debug logging")

		// Seafile backend
		server     = flag.String("server", "", "Seafile server URL")
		repoID     = flag.String("repo", "", "Repository ID (defaults to the first repository)")
		passwdFile = flag.String("passwd_file", "", "Path to passwd file (USERNAME:PASSWORD)")

		// Postgres backend
		postgresConn = flag.String("postgres-conn", "", "PostgreSQL connection string")

		// MongoDB backend
		mongoURI = flag.String("mongo-uri", "", "MongoDB URI")

		// S3 backend
		s3Bucket   = flag.String("s3-bucket", "", "S3 bucket name")
		s3Region   = flag.String("s3-region", "us-east-1", "S3 region")
		s3Endpoint = flag.String("s3-endpoint", "", "S3 endpoint URL (for S3-compatible services)")
	)
	flag.Parse()

	if *mountpoint == "" {
		log.Fatal("mountpoint is required")
	}

	logger, err := buildLogger(*debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	repository, err := buildRepository(ctx, backendConfig{
		backend:      *backend,
		server:       *server,
		repoID:       *repoID,
		passwdFile:   *passwdFile,
		postgresConn: *postgresConn,
		mongoURI:     *mongoURI,
		s3Bucket:     *s3Bucket,
		s3Region:     *s3Region,
		s3Endpoint:   *s3Endpoint,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize %s backend: %v", *backend, err)
	}

	fmt.Printf("Mounting %s repository to %s\n", *backend, *mountpoint)
	if err := fuse.Mount(*mountpoint, repository, fuse.Options{
		CacheTTL: *cacheTTL,
		Logger:   logger,
	}); err != nil {
		log.Fatalf("Failed to mount filesystem: %v", err)
	}
}

type backendConfig struct {
	backend      string
	server       string
	repoID       string
	passwdFile   string
	postgresConn string
	mongoURI     string
	s3Bucket     string
	s3Region     string
	s3Endpoint   string
}

func buildRepository(ctx context.Context, cfg backendConfig, logger *zap.Logger) (repo.Repository, error) {
	switch cfg.backend {
	case "seafile":
		if cfg.server == "" {
			return nil, fmt.Errorf("server is required for the seafile backend")
		}
		creds := credentials.NewCredentials()
		if cfg.passwdFile != "" {
			if err := creds.LoadFromPasswdFile(cfg.passwdFile); err != nil {
				return nil, err
			}
		} else {
			if err := creds.LoadFromEnvironment(); err != nil {
				return nil, err
			}
		}
		if !creds.IsValid() {
			return nil, fmt.Errorf("invalid credentials")
		}

		client := seafile.NewClient(cfg.server)
		if err := client.Authenticate(ctx, creds.Username, creds.Password); err != nil {
			return nil, err
		}
		bound, err := client.SelectRepo(ctx, cfg.repoID)
		if err != nil {
			return nil, err
		}
		logger.Info("bound to repository", zap.String("repo", bound.ID()))
		return bound, nil

	case "postgres":
		if cfg.postgresConn == "" {
			return nil, fmt.Errorf("postgres-conn is required for the postgres backend")
		}
		repoID := cfg.repoID
		if repoID == "" {
			repoID = "default"
		}
		return postgres.New(cfg.postgresConn, "seafs_entries", repoID)

	case "mongodb":
		if cfg.mongoURI == "" {
			return nil, fmt.Errorf("mongo-uri is required for the mongodb backend")
		}
		repoID := cfg.repoID
		if repoID == "" {
			repoID = "default"
		}
		return mongodb.New(cfg.mongoURI, "seafs", "entries", repoID)

	case "s3":
		if cfg.s3Bucket == "" {
			return nil, fmt.Errorf("s3-bucket is required for the s3 backend")
		}
		return s3.New(ctx, s3.Config{
			Bucket:   cfg.s3Bucket,
			Region:   cfg.s3Region,
			Endpoint: cfg.s3Endpoint,
		})

	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.backend)
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
