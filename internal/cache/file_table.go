package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxOpen bounds the number of tracked paths. Clean idle
// buffers beyond the bound are evicted least-recently-used; dirty
// buffers are never evicted.
const DefaultMaxOpen = 100

// FetchFunc downloads the current remote content of a file
type FetchFunc func(ctx context.Context) ([]byte, error)

// UploadFunc uploads a full buffer to the remote store
type UploadFunc func(ctx context.Context, data []byte) error

// OpenFile is the local staging buffer for one open path. It is owned
// by the FileTable and must only be touched through table methods.
type OpenFile struct {
	buf      []byte
	dirty    bool
	seq      uint64 // bumped on every local edit
	lastUsed time.Time
}

// FileTable maps open paths to their staging buffers and mediates
// read/write/flush/close. There is at most one OpenFile per path.
type FileTable struct {
	mu      sync.Mutex
	files   map[string]*OpenFile
	maxOpen int
	logger  *zap.Logger
}

// NewFileTable creates an empty table. maxOpen <= 0 selects
// DefaultMaxOpen; a nil logger disables logging.
func NewFileTable(maxOpen int, logger *zap.Logger) *FileTable {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileTable{
		files:   make(map[string]*OpenFile),
		maxOpen: maxOpen,
		logger:  logger,
	}
}

// Acquire returns the buffer for path, creating it on first open.
// With a nil fetch (file creation) the buffer starts empty; with a
// fetch, the remote content seeds the buffer. A failed fetch degrades
// to an empty buffer so open never blocks on a remote outage.
// Re-acquiring an existing path returns it unchanged.
func (t *FileTable) Acquire(ctx context.Context, path string, fetch FetchFunc) {
	t.mu.Lock()
	if f, ok := t.files[path]; ok {
		f.lastUsed = time.Now()
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	var buf []byte
	if fetch != nil {
		data, err := fetch(ctx)
		if err != nil {
			t.logger.Warn("download failed, opening empty buffer",
				zap.String("path", path),
				zap.Error(err))
		} else {
			buf = data
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.files[path]; ok {
		// Lost the race to a concurrent open; keep the existing entry.
		return
	}
	if len(t.files) >= t.maxOpen {
		t.evictOldestClean()
	}
	t.files[path] = &OpenFile{buf: buf, lastUsed: time.Now()}
}

// Tracked reports whether path has an open buffer
func (t *FileTable) Tracked(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.files[path]
	return ok
}

// Dirty reports whether path has unflushed local edits
func (t *FileTable) Dirty(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[path]
	return ok && f.dirty
}

// Read returns up to size bytes starting at offset. Reading past the
// end of the buffer returns fewer bytes, never an error. An untracked
// path reads as empty.
func (t *FileTable) Read(path string, size int, offset int64) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[path]
	if !ok || offset >= int64(len(f.buf)) {
		return nil
	}
	f.lastUsed = time.Now()
	end := offset + int64(size)
	if end > int64(len(f.buf)) {
		end = int64(len(f.buf))
	}
	out := make([]byte, end-offset)
	copy(out, f.buf[offset:end])
	return out
}

// Write overwrites or extends the buffer with data at offset and
// marks the entry dirty. Returns the number of bytes written, which
// is always len(data). Writing to an untracked path is a no-op
// returning 0.
func (t *FileTable) Write(path string, data []byte, offset int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[path]
	if !ok {
		return 0
	}
	if need := offset + int64(len(data)); need > int64(len(f.buf)) {
		grown := make([]byte, need)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[offset:], data)
	f.dirty = true
	f.seq++
	f.lastUsed = time.Now()
	return len(data)
}

// Truncate resizes the buffer to length, zero-padding on extension
func (t *FileTable) Truncate(path string, length int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[path]
	if !ok {
		return
	}
	if length <= int64(len(f.buf)) {
		f.buf = f.buf[:length]
	} else {
		grown := make([]byte, length)
		copy(grown, f.buf)
		f.buf = grown
	}
	f.dirty = true
	f.seq++
	f.lastUsed = time.Now()
}

// Flush uploads the full buffer when the entry is dirty. On success
// the dirty flag clears; on failure it stays set and the error is
// returned so a later flush retries the same full-content upload.
func (t *FileTable) Flush(ctx context.Context, path string, upload UploadFunc) error {
	t.mu.Lock()
	f, ok := t.files[path]
	if !ok || !f.dirty {
		t.mu.Unlock()
		return nil
	}
	data := make([]byte, len(f.buf))
	copy(data, f.buf)
	seq := f.seq
	t.mu.Unlock()

	if err := upload(ctx, data); err != nil {
		t.logger.Warn("upload failed, keeping buffer dirty",
			zap.String("path", path),
			zap.Error(err))
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Only clear dirty when the path is still tracked and no write
	// landed while the upload ran; otherwise the next flush re-uploads.
	if f, ok := t.files[path]; ok && f.seq == seq {
		f.dirty = false
	}
	return nil
}

// Close flushes the buffer if dirty, then removes the table entry
// regardless of the write-back outcome
func (t *FileTable) Close(ctx context.Context, path string, upload UploadFunc) error {
	err := t.Flush(ctx, path, upload)
	t.mu.Lock()
	delete(t.files, path)
	t.mu.Unlock()
	return err
}

// Rename relocates the entry for old to new, preserving the buffer
// and dirty flag. No-op when old is not tracked.
func (t *FileTable) Rename(old, new string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[old]
	if !ok {
		return
	}
	delete(t.files, old)
	t.files[new] = f
}

// evictOldestClean drops the least recently used clean entry. Called
// with the lock held.
func (t *FileTable) evictOldestClean() {
	var oldest string
	var oldestTime time.Time
	for path, f := range t.files {
		if f.dirty {
			continue
		}
		if oldest == "" || f.lastUsed.Before(oldestTime) {
			oldest = path
			oldestTime = f.lastUsed
		}
	}
	if oldest != "" {
		delete(t.files, oldest)
	}
}
