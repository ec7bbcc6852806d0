// Package postgres implements the repository interface on a
// PostgreSQL table, one row per entry. Useful for self-hosted setups
// and integration testing without a Seafile server.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"time"

	_ "github.com/lib/pq"

	"github.com/seafile-fuse/seafs-go/internal/repo"
)

// Backend implements repo.Repository using PostgreSQL
type Backend struct {
	db     *sql.DB
	table  string
	repoID string // namespace, one logical repository per value
}

// New opens a connection and ensures the schema exists
func New(connStr, table, repoID string) (*Backend, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	b := &Backend{db: db, table: table, repoID: repoID}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return b, nil
}

func (b *Backend) initSchema() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			repo_id VARCHAR(64) NOT NULL,
			path VARCHAR(4096) NOT NULL,
			parent VARCHAR(4096) NOT NULL,
			name VARCHAR(255) NOT NULL,
			is_dir BOOLEAN NOT NULL DEFAULT FALSE,
			data BYTEA,
			size BIGINT NOT NULL DEFAULT 0,
			ctime TIMESTAMP NOT NULL DEFAULT NOW(),
			mtime TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (repo_id, path)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_parent ON %s(repo_id, parent);
	`, b.table, b.table, b.table)

	_, err := b.db.Exec(query)
	return err
}

// Close releases the database connection
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) ListEntries(ctx context.Context, dirPath string, forceRefresh bool) ([]repo.Entry, error) {
	if dirPath != "/" {
		exists, err := b.dirExists(ctx, dirPath)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("list %s: %w", dirPath, repo.ErrNotFound)
		}
	}

	query := fmt.Sprintf(
		"SELECT name, is_dir, size, ctime, mtime FROM %s WHERE repo_id = $1 AND parent = $2",
		b.table)
	rows, err := b.db.QueryContext(ctx, query, b.repoID, dirPath)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dirPath, err)
	}
	defer rows.Close()

	var entries []repo.Entry
	for rows.Next() {
		var e repo.Entry
		var isDir bool
		if err := rows.Scan(&e.Name, &isDir, &e.Size, &e.Ctime, &e.Mtime); err != nil {
			return nil, err
		}
		if isDir {
			e.Kind = repo.KindDir
			e.Size = 0
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (b *Backend) FileContent(ctx context.Context, p string) ([]byte, error) {
	query := fmt.Sprintf(
		"SELECT data FROM %s WHERE repo_id = $1 AND path = $2 AND NOT is_dir", b.table)
	var data []byte
	err := b.db.QueryRowContext(ctx, query, b.repoID, p).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %s: %w", p, repo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return data, nil
}

func (b *Backend) Upload(ctx context.Context, dirPath, name string, data []byte) error {
	now := time.Now()
	query := fmt.Sprintf(`
		INSERT INTO %s (repo_id, path, parent, name, is_dir, data, size, ctime, mtime)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $7)
		ON CONFLICT (repo_id, path)
		DO UPDATE SET data = $5, size = $6, mtime = $7
	`, b.table)
	_, err := b.db.ExecContext(ctx, query,
		b.repoID, path.Join(dirPath, name), dirPath, name, data, int64(len(data)), now)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", dirPath, name, err)
	}
	return nil
}

func (b *Backend) MakeDirectory(ctx context.Context, dirPath, name string) error {
	now := time.Now()
	query := fmt.Sprintf(`
		INSERT INTO %s (repo_id, path, parent, name, is_dir, ctime, mtime)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		ON CONFLICT (repo_id, path) DO NOTHING
	`, b.table)
	_, err := b.db.ExecContext(ctx, query,
		b.repoID, path.Join(dirPath, name), dirPath, name, now)
	if err != nil {
		return fmt.Errorf("mkdir %s/%s: %w", dirPath, name, err)
	}
	return nil
}

func (b *Backend) DeleteDirectory(ctx context.Context, p string) error {
	// Removes the directory row and everything below it.
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE repo_id = $1 AND (path = $2 OR path LIKE $3)", b.table)
	res, err := b.db.ExecContext(ctx, query, b.repoID, p, p+"/%")
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", p, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rmdir %s: %w", p, repo.ErrNotFound)
	}
	return nil
}

func (b *Backend) DeleteFile(ctx context.Context, p string) error {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE repo_id = $1 AND path = $2 AND NOT is_dir", b.table)
	res, err := b.db.ExecContext(ctx, query, b.repoID, p)
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %s: %w", p, repo.ErrNotFound)
	}
	return nil
}

func (b *Backend) RenameFile(ctx context.Context, p, newName string) error {
	return b.relocate(ctx, p, path.Join(path.Dir(p), newName))
}

func (b *Backend) MoveFile(ctx context.Context, p, targetDir string) error {
	return b.relocate(ctx, p, path.Join(targetDir, path.Base(p)))
}

func (b *Backend) relocate(ctx context.Context, oldPath, newPath string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET path = $3, parent = $4, name = $5, mtime = $6
		WHERE repo_id = $1 AND path = $2 AND NOT is_dir
	`, b.table)
	res, err := b.db.ExecContext(ctx, query,
		b.repoID, oldPath, newPath, path.Dir(newPath), path.Base(newPath), time.Now())
	if err != nil {
		return fmt.Errorf("relocate %s: %w", oldPath, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("relocate %s: %w", oldPath, repo.ErrNotFound)
	}
	return nil
}

func (b *Backend) dirExists(ctx context.Context, p string) (bool, error) {
	query := fmt.Sprintf(
		"SELECT 1 FROM %s WHERE repo_id = $1 AND path = $2 AND is_dir", b.table)
	var one int
	err := b.db.QueryRowContext(ctx, query, b.repoID, p).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ repo.Repository = (*Backend)(nil)
