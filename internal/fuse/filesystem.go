package fuse

import (
	"context"
	"errors"
	"os"
	"path"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/seafile-fuse/seafs-go/internal/cache"
	"github.com/seafile-fuse/seafs-go/internal/repo"
)

// Permission bits are fixed: the remote store has no POSIX ownership
// model, so everything is reported as owned by the mounting user.
const (
	fileMode = os.FileMode(0644)
	dirMode  = os.ModeDir | os.FileMode(0755)
)

// Attr represents file attributes as reported to the kernel
type Attr struct {
	Mode  os.FileMode
	Size  int64
	Ctime time.Time
	Mtime time.Time
	Uid   uint32
	Gid   uint32
}

// DirEntry represents a directory entry
type DirEntry struct {
	Name  string
	IsDir bool
}

// Filesystem translates filesystem operations into attribute-cache
// lookups, open-file-table operations, and remote repository calls.
// It holds no per-call state; everything lives in the cache and the
// table.
type Filesystem struct {
	repo   repo.Repository
	attrs  *cache.AttrCache
	files  *cache.FileTable
	logger *zap.Logger
	uid    uint32
	gid    uint32
}

// Options tune a Filesystem
type Options struct {
	// CacheTTL is how long directory snapshots are served without a
	// remote refresh. Zero selects cache.DefaultTTL.
	CacheTTL time.Duration

	// MaxOpenFiles bounds the open-file table. Zero selects
	// cache.DefaultMaxOpen.
	MaxOpenFiles int

	Logger *zap.Logger
}

// NewFilesystem creates a filesystem bound to one remote repository
func NewFilesystem(r repo.Repository, opts Options) *Filesystem {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filesystem{
		repo:   r,
		attrs:  cache.NewAttrCache(r, opts.CacheTTL, logger),
		files:  cache.NewFileTable(opts.MaxOpenFiles, logger),
		logger: logger,
		uid:    uint32(os.Getuid()),
		gid:    uint32(os.Getgid()),
	}
}

// GetAttr retrieves the attributes of a path. The mount root is a
// fixed directory descriptor; everything else resolves through the
// parent directory's cached listing.
func (fs *Filesystem) GetAttr(ctx context.Context, p string) (*Attr, error) {
	if p == "/" {
		now := time.Now()
		return &Attr{Mode: dirMode, Ctime: now, Mtime: now, Uid: fs.uid, Gid: fs.gid}, nil
	}

	entries, _ := fs.attrs.List(ctx, path.Dir(p))
	entry, ok := entries[path.Base(p)]
	if !ok {
		return nil, syscall.ENOENT
	}

	attr := &Attr{
		Size:  entry.Size,
		Ctime: entry.Ctime,
		Mtime: entry.Mtime,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}
	if entry.IsDir() {
		attr.Mode = dirMode
		attr.Size = 0
	} else {
		attr.Mode = fileMode
	}
	return attr, nil
}

// ReadDir lists a directory, always including the dot entries. A
// failed remote listing degrades to just the dot entries.
func (fs *Filesystem) ReadDir(ctx context.Context, p string) []DirEntry {
	entries, _ := fs.attrs.List(ctx, p)

	out := make([]DirEntry, 0, len(entries)+2)
	out = append(out, DirEntry{Name: ".", IsDir: true}, DirEntry{Name: "..", IsDir: true})
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, DirEntry{Name: name, IsDir: entries[name].IsDir()})
	}
	return out
}

// Open stages the file's remote content in a local buffer. Open never
// fails at this layer: a download error yields an empty buffer,
// consistent with the fail-soft read policy.
func (fs *Filesystem) Open(ctx context.Context, p string) {
	fs.files.Acquire(ctx, p, fs.fetchFunc(p))
}

// Create makes a new empty file: the parent listing is refreshed, an
// empty upload makes the file exist remotely right away, the cache is
// patched with a zero-size entry and an empty buffer is staged.
func (fs *Filesystem) Create(ctx context.Context, p string) error {
	parent := path.Dir(p)
	fs.attrs.List(ctx, parent)

	if err := fs.repo.Upload(ctx, parent, path.Base(p), nil); err != nil {
		fs.logger.Error("create failed", zap.String("path", p), zap.Error(err))
		return fs.mapError(err)
	}

	now := time.Now()
	fs.attrs.Patch(parent, repo.Entry{
		Name:  path.Base(p),
		Kind:  repo.KindFile,
		Ctime: now,
		Mtime: now,
	})
	fs.files.Acquire(ctx, p, nil)
	return nil
}

// Read returns up to size bytes of the staged buffer, staging the
// file first if the path was not opened through this layer
func (fs *Filesystem) Read(ctx context.Context, p string, size int, offset int64) []byte {
	if !fs.files.Tracked(p) {
		fs.files.Acquire(ctx, p, fs.fetchFunc(p))
	}
	return fs.files.Read(p, size, offset)
}

// Write stores data into the staged buffer and marks it dirty
func (fs *Filesystem) Write(ctx context.Context, p string, data []byte, offset int64) int {
	if !fs.files.Tracked(p) {
		fs.files.Acquire(ctx, p, fs.fetchFunc(p))
	}
	return fs.files.Write(p, data, offset)
}

// Truncate resizes the staged buffer
func (fs *Filesystem) Truncate(ctx context.Context, p string, length int64) {
	if !fs.files.Tracked(p) {
		fs.files.Acquire(ctx, p, fs.fetchFunc(p))
	}
	fs.files.Truncate(p, length)
}

// Flush writes back the buffer when dirty. Write-back failures are
// logged, not propagated: the buffer stays dirty and a later flush or
// close retries the full-content upload.
func (fs *Filesystem) Flush(ctx context.Context, p string) {
	if err := fs.files.Flush(ctx, p, fs.uploadFunc(p)); err != nil {
		fs.logger.Warn("flush write-back failed", zap.String("path", p), zap.Error(err))
	}
}

// Fsync behaves like Flush
func (fs *Filesystem) Fsync(ctx context.Context, p string) {
	fs.Flush(ctx, p)
}

// Release closes a dirty file (write-back plus buffer removal). Clean
// buffers stay staged for reuse; the table evicts idle ones when its
// bound is exceeded.
func (fs *Filesystem) Release(ctx context.Context, p string) {
	if !fs.files.Dirty(p) {
		return
	}
	if err := fs.files.Close(ctx, p, fs.uploadFunc(p)); err != nil {
		fs.logger.Warn("release write-back failed", zap.String("path", p), zap.Error(err))
	}
}

// Rename moves old to new. The staged buffer, if any, is relocated
// first so pending edits survive the path change. A rename within one
// directory is a single remote rename; across directories it is a
// remote move followed by a rename to the final base name. The
// two-step sequence is best effort: after a partial failure the next
// listing refresh shows the actual remote location.
func (fs *Filesystem) Rename(ctx context.Context, old, new string) error {
	fs.files.Rename(old, new)

	oldDir, oldName := path.Dir(old), path.Base(old)
	newDir, newName := path.Dir(new), path.Base(new)

	entries, _ := fs.attrs.List(ctx, oldDir)
	entry, known := entries[oldName]

	cur := old
	if oldDir != newDir {
		if err := fs.repo.MoveFile(ctx, old, newDir); err != nil {
			fs.logger.Error("move failed", zap.String("old", old), zap.String("new", new), zap.Error(err))
			return fs.mapError(err)
		}
		cur = path.Join(newDir, oldName)
	}
	if path.Base(cur) != newName {
		if err := fs.repo.RenameFile(ctx, cur, newName); err != nil {
			fs.logger.Error("rename failed", zap.String("old", old), zap.String("new", new), zap.Error(err))
			return fs.mapError(err)
		}
	}

	fs.attrs.Drop(oldDir, oldName)
	if known {
		entry.Name = newName
		entry.Mtime = time.Now()
		fs.attrs.Patch(newDir, entry)
	}
	return nil
}

// Unlink deletes a file and drops it from the parent's snapshot.
// Unlinking the mount root is rejected before any remote call.
func (fs *Filesystem) Unlink(ctx context.Context, p string) error {
	if p == "/" {
		return syscall.EFAULT
	}
	if err := fs.repo.DeleteFile(ctx, p); err != nil {
		fs.logger.Error("unlink failed", zap.String("path", p), zap.Error(err))
		return fs.mapError(err)
	}
	fs.attrs.Drop(path.Dir(p), path.Base(p))
	return nil
}

// Mkdir creates a remote directory and patches the parent's snapshot
func (fs *Filesystem) Mkdir(ctx context.Context, p string) error {
	parent := path.Dir(p)
	fs.attrs.List(ctx, parent)

	if err := fs.repo.MakeDirectory(ctx, parent, path.Base(p)); err != nil {
		fs.logger.Error("mkdir failed", zap.String("path", p), zap.Error(err))
		return fs.mapError(err)
	}

	now := time.Now()
	fs.attrs.Patch(parent, repo.Entry{
		Name:  path.Base(p),
		Kind:  repo.KindDir,
		Ctime: now,
		Mtime: now,
	})
	return nil
}

// Rmdir deletes a remote directory and drops it from the parent's
// snapshot. Removing the mount root is rejected before any remote
// call.
func (fs *Filesystem) Rmdir(ctx context.Context, p string) error {
	if p == "/" {
		return syscall.EFAULT
	}
	if err := fs.repo.DeleteDirectory(ctx, p); err != nil {
		fs.logger.Error("rmdir failed", zap.String("path", p), zap.Error(err))
		return fs.mapError(err)
	}
	fs.attrs.Drop(path.Dir(p), path.Base(p))
	fs.attrs.Invalidate(p)
	return nil
}

// fetchFunc downloads the full content of p
func (fs *Filesystem) fetchFunc(p string) cache.FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		return fs.repo.FileContent(ctx, p)
	}
}

// uploadFunc uploads a full buffer under p's base name in its parent
// directory: always the whole buffer, never a delta, so the remote
// store never observes a half-written file
func (fs *Filesystem) uploadFunc(p string) cache.UploadFunc {
	return func(ctx context.Context, data []byte) error {
		if err := fs.repo.Upload(ctx, path.Dir(p), path.Base(p), data); err != nil {
			return err
		}
		now := time.Now()
		fs.attrs.Patch(path.Dir(p), repo.Entry{
			Name:  path.Base(p),
			Kind:  repo.KindFile,
			Size:  int64(len(data)),
			Ctime: now,
			Mtime: now,
		})
		return nil
	}
}

// mapError converts repository errors to kernel error codes. The
// binding layer never sees a raw remote error type.
func (fs *Filesystem) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return syscall.ENOENT
	}
	return syscall.EIO
}
