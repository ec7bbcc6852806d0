package repo

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

// Mock is an in-memory Repository implementation for unit tests. Calls
// are counted per operation and individual operations can be forced to
// fail, so tests can assert how often and whether the remote was hit.
type Mock struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte

	ListCalls   int
	UploadCalls int
	DeleteCalls int
	RenameCalls int
	MoveCalls   int
	MkdirCalls  int

	FailList   error
	FailGet    error
	FailUpload error
}

// NewMock creates a mock repository containing only the root directory
func NewMock() *Mock {
	return &Mock{
		dirs:  map[string]bool{"/": true},
		files: make(map[string][]byte),
	}
}

// AddFile seeds a file without counting an upload call
func (m *Mock) AddFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = append([]byte(nil), data...)
	m.dirs[path.Dir(p)] = true
}

// AddDir seeds a directory
func (m *Mock) AddDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[p] = true
}

// FileData returns the stored content of a file, or nil if absent
func (m *Mock) FileData(p string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil
	}
	return append([]byte(nil), data...)
}

// HasDir reports whether a directory exists
func (m *Mock) HasDir(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[p]
}

func (m *Mock) ListEntries(ctx context.Context, dirPath string, forceRefresh bool) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.FailList != nil {
		return nil, m.FailList
	}
	if !m.dirs[dirPath] {
		return nil, fmt.Errorf("list %s: %w", dirPath, ErrNotFound)
	}

	now := time.Now()
	var entries []Entry
	for p, data := range m.files {
		if path.Dir(p) == dirPath {
			entries = append(entries, Entry{
				Name:  path.Base(p),
				Kind:  KindFile,
				Size:  int64(len(data)),
				Ctime: now,
				Mtime: now,
			})
		}
	}
	for p := range m.dirs {
		if p != "/" && path.Dir(p) == dirPath {
			entries = append(entries, Entry{Name: path.Base(p), Kind: KindDir, Ctime: now, Mtime: now})
		}
	}
	return entries, nil
}

func (m *Mock) FileContent(ctx context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet != nil {
		return nil, m.FailGet
	}
	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", p, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *Mock) Upload(ctx context.Context, dirPath, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadCalls++
	if m.FailUpload != nil {
		return m.FailUpload
	}
	if !m.dirs[dirPath] {
		return fmt.Errorf("upload to %s: %w", dirPath, ErrNotFound)
	}
	m.files[path.Join(dirPath, name)] = append([]byte(nil), data...)
	return nil
}

func (m *Mock) MakeDirectory(ctx context.Context, dirPath, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MkdirCalls++
	if !m.dirs[dirPath] {
		return fmt.Errorf("mkdir in %s: %w", dirPath, ErrNotFound)
	}
	m.dirs[path.Join(dirPath, name)] = true
	return nil
}

func (m *Mock) DeleteDirectory(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if !m.dirs[p] {
		return fmt.Errorf("rmdir %s: %w", p, ErrNotFound)
	}
	delete(m.dirs, p)
	return nil
}

func (m *Mock) DeleteFile(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if _, ok := m.files[p]; !ok {
		return fmt.Errorf("delete %s: %w", p, ErrNotFound)
	}
	delete(m.files, p)
	return nil
}

func (m *Mock) RenameFile(ctx context.Context, p, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RenameCalls++
	data, ok := m.files[p]
	if !ok {
		return fmt.Errorf("rename %s: %w", p, ErrNotFound)
	}
	delete(m.files, p)
	m.files[path.Join(path.Dir(p), newName)] = data
	return nil
}

func (m *Mock) MoveFile(ctx context.Context, p, targetDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MoveCalls++
	data, ok := m.files[p]
	if !ok {
		return fmt.Errorf("move %s: %w", p, ErrNotFound)
	}
	if !m.dirs[targetDir] {
		return fmt.Errorf("move to %s: %w", targetDir, ErrNotFound)
	}
	delete(m.files, p)
	m.files[path.Join(targetDir, path.Base(p))] = data
	return nil
}

var _ Repository = (*Mock)(nil)
