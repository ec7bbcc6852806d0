// Package s3 implements the repository interface on an S3 bucket.
// Directories are represented by "<dir>/.keep" marker objects; rename
// and move are copy-then-delete, since S3 has no rename primitive.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/seafile-fuse/seafs-go/internal/repo"
)

const dirMarker = ".keep"

// Config holds S3 backend settings. Endpoint is optional and enables
// path-style addressing for S3-compatible services.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Backend implements repo.Repository on one S3 bucket
type Backend struct {
	bucket string
	client *awss3.Client
}

// New creates an S3 backend. Static credentials are used when set in
// cfg; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*awss3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Backend{
		bucket: cfg.Bucket,
		client: awss3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// key converts a repository path to an object key
func key(p string) string {
	return strings.TrimPrefix(p, "/")
}

// prefix converts a directory path to a listing prefix
func prefix(dirPath string) string {
	k := key(dirPath)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (b *Backend) ListEntries(ctx context.Context, dirPath string, forceRefresh bool) ([]repo.Entry, error) {
	pfx := prefix(dirPath)
	out, err := b.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(pfx),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dirPath, err)
	}
	if dirPath != "/" && len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return nil, fmt.Errorf("list %s: %w", dirPath, repo.ErrNotFound)
	}

	var entries []repo.Entry
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		name := strings.TrimPrefix(*obj.Key, pfx)
		if name == "" || name == dirMarker {
			continue
		}
		e := repo.Entry{Name: name, Kind: repo.KindFile}
		if obj.Size != nil {
			e.Size = *obj.Size
		}
		if obj.LastModified != nil {
			e.Ctime = *obj.LastModified
			e.Mtime = *obj.LastModified
		} else {
			now := time.Now()
			e.Ctime = now
			e.Mtime = now
		}
		entries = append(entries, e)
	}
	for _, cp := range out.CommonPrefixes {
		if cp.Prefix == nil {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, pfx), "/")
		if name == "" {
			continue
		}
		now := time.Now()
		entries = append(entries, repo.Entry{Name: name, Kind: repo.KindDir, Ctime: now, Mtime: now})
	}
	return entries, nil
}

func (b *Backend) FileContent(ctx context.Context, p string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(p)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("get %s: %w", p, repo.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *Backend) Upload(ctx context.Context, dirPath, name string, data []byte) error {
	k := prefix(dirPath) + name
	_, err := b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(k),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", k, err)
	}
	return nil
}

func (b *Backend) MakeDirectory(ctx context.Context, dirPath, name string) error {
	k := prefix(dirPath) + name + "/" + dirMarker
	_, err := b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(k),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", k, err)
	}
	return nil
}

func (b *Backend) DeleteDirectory(ctx context.Context, p string) error {
	pfx := prefix(p)
	out, err := b.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(pfx),
	})
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	if len(out.Contents) == 0 {
		return fmt.Errorf("rmdir %s: %w", p, repo.ErrNotFound)
	}
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		if _, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    obj.Key,
		}); err != nil {
			return fmt.Errorf("rmdir %s: %w", p, err)
		}
	}
	return nil
}

func (b *Backend) DeleteFile(ctx context.Context, p string) error {
	// DeleteObject succeeds on missing keys; probe first so absent
	// files surface as not found.
	if _, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(p)),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", p, repo.ErrNotFound)
	}
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(p)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (b *Backend) RenameFile(ctx context.Context, p, newName string) error {
	dir := "/"
	if i := strings.LastIndex(p, "/"); i > 0 {
		dir = p[:i]
	}
	return b.relocate(ctx, p, strings.TrimSuffix(prefix(dir)+newName, "/"))
}

func (b *Backend) MoveFile(ctx context.Context, p, targetDir string) error {
	base := p[strings.LastIndex(p, "/")+1:]
	return b.relocate(ctx, p, prefix(targetDir)+base)
}

// relocate copies the object to newKey, then deletes the original
func (b *Backend) relocate(ctx context.Context, p, newKey string) error {
	_, err := b.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + key(p)),
		Key:        aws.String(newKey),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("relocate %s: %w", p, repo.ErrNotFound)
		}
		return fmt.Errorf("relocate %s: %w", p, err)
	}
	if _, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key(p)),
	}); err != nil {
		return fmt.Errorf("relocate %s: %w", p, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "NoSuchKey") ||
		strings.Contains(err.Error(), "NotFound"))
}

var _ repo.Repository = (*Backend)(nil)
