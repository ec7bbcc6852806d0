package repo

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a path or directory entry does not exist
// in the remote repository. Backends wrap it with %w so callers can use
// errors.Is.
var ErrNotFound = errors.New("entry not found")

// EntryKind distinguishes files from directories
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
)

// Entry represents a single directory entry in a repository
type Entry struct {
	Name  string
	Kind  EntryKind
	Size  int64
	Ctime time.Time
	Mtime time.Time
}

// IsDir reports whether the entry is a directory
func (e Entry) IsDir() bool {
	return e.Kind == KindDir
}

// Repository is the remote store a mount is bound to. All paths are
// normalized absolute paths ("/" separated, no trailing slash except
// the root itself).
type Repository interface {
	// ListEntries lists the immediate children of a directory. When
	// forceRefresh is set the backend must bypass any server-side
	// caching and return the current entry set.
	ListEntries(ctx context.Context, dirPath string, forceRefresh bool) ([]Entry, error)

	// FileContent downloads the full content of a file
	FileContent(ctx context.Context, path string) ([]byte, error)

	// Upload stores data as a file named name inside dirPath, replacing
	// any existing file of that name
	Upload(ctx context.Context, dirPath, name string, data []byte) error

	// MakeDirectory creates a subdirectory named name inside dirPath
	MakeDirectory(ctx context.Context, dirPath, name string) error

	// DeleteDirectory removes the directory at path
	DeleteDirectory(ctx context.Context, path string) error

	// DeleteFile removes the file at path
	DeleteFile(ctx context.Context, path string) error

	// RenameFile renames the file at path to newName within its parent
	// directory
	RenameFile(ctx context.Context, path, newName string) error

	// MoveFile moves the file at path into targetDir, keeping its base
	// name
	MoveFile(ctx context.Context, path, targetDir string) error
}

// Info describes one repository available on the server
type Info struct {
	ID   string
	Name string
}
