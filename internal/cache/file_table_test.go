package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func fetchData(data []byte) FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		return data, nil
	}
}

// countingUpload records every uploaded buffer
type countingUpload struct {
	calls   int
	last    []byte
	failErr error
}

func (u *countingUpload) fn() UploadFunc {
	return func(ctx context.Context, data []byte) error {
		u.calls++
		if u.failErr != nil {
			return u.failErr
		}
		u.last = append([]byte(nil), data...)
		return nil
	}
}

func TestFileTable_AcquireIdempotent(t *testing.T) {
	ft := NewFileTable(0, nil)
	ctx := context.Background()

	ft.Acquire(ctx, "/f", fetchData([]byte("abc")))
	ft.Write("/f", []byte("xyz"), 0)

	// Re-open must return the existing buffer, not re-download.
	ft.Acquire(ctx, "/f", fetchData([]byte("remote")))
	got := ft.Read("/f", 16, 0)
	if !bytes.Equal(got, []byte("xyz")) {
		t.Errorf("Expected local edits to survive re-open, got %q", got)
	}
}

func TestFileTable_AcquireDownloadFailure(t *testing.T) {
	ft := NewFileTable(0, nil)
	ctx := context.Background()

	ft.Acquire(ctx, "/f", func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("connection refused")
	})

	if !ft.Tracked("/f") {
		t.Fatal("Path not tracked after failed download")
	}
	if got := ft.Read("/f", 16, 0); len(got) != 0 {
		t.Errorf("Expected empty buffer, got %q", got)
	}
	if ft.Dirty("/f") {
		t.Error("Fresh buffer must not be dirty")
	}
}

func TestFileTable_ReadShortPastEOF(t *testing.T) {
	ft := NewFileTable(0, nil)
	ft.Acquire(context.Background(), "/f", fetchData([]byte("hello")))

	if got := ft.Read("/f", 100, 2); !bytes.Equal(got, []byte("llo")) {
		t.Errorf("Expected short read %q, got %q", "llo", got)
	}
	if got := ft.Read("/f", 10, 99); got != nil {
		t.Errorf("Expected empty read past EOF, got %q", got)
	}
}

func TestFileTable_WriteExtends(t *testing.T) {
	ft := NewFileTable(0, nil)
	ft.Acquire(context.Background(), "/f", fetchData([]byte("hello")))

	n := ft.Write("/f", []byte("WORLD"), 3)
	if n != 5 {
		t.Errorf("Expected 5 bytes written, got %d", n)
	}
	if got := ft.Read("/f", 100, 0); !bytes.Equal(got, []byte("helWORLD")) {
		t.Errorf("Unexpected content %q", got)
	}
	if !ft.Dirty("/f") {
		t.Error("Write must mark the buffer dirty")
	}
}

func TestFileTable_Truncate(t *testing.T) {
	ft := NewFileTable(0, nil)
	ft.Acquire(context.Background(), "/f", fetchData([]byte("hello")))

	ft.Truncate("/f", 2)
	if got := ft.Read("/f", 100, 0); !bytes.Equal(got, []byte("he")) {
		t.Errorf("Expected %q after shrink, got %q", "he", got)
	}

	ft.Truncate("/f", 4)
	if got := ft.Read("/f", 100, 0); !bytes.Equal(got, []byte{'h', 'e', 0, 0}) {
		t.Errorf("Expected zero padding after extension, got %q", got)
	}
}

func TestFileTable_FlushIdempotent(t *testing.T) {
	ft := NewFileTable(0, nil)
	ctx := context.Background()
	up := &countingUpload{}

	ft.Acquire(ctx, "/f", nil)
	ft.Write("/f", []byte("data"), 0)

	if err := ft.Flush(ctx, "/f", up.fn()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := ft.Flush(ctx, "/f", up.fn()); err != nil {
		t.Fatalf("Second flush failed: %v", err)
	}
	if up.calls != 1 {
		t.Errorf("Expected 1 upload for repeated flush, got %d", up.calls)
	}

	// A new write dirties the buffer again; the next flush uploads the
	// full updated content.
	ft.Write("/f", []byte("more"), 4)
	if err := ft.Flush(ctx, "/f", up.fn()); err != nil {
		t.Fatalf("Flush after write failed: %v", err)
	}
	if up.calls != 2 {
		t.Errorf("Expected 2 uploads, got %d", up.calls)
	}
	if !bytes.Equal(up.last, []byte("datamore")) {
		t.Errorf("Expected full buffer uploaded, got %q", up.last)
	}
}

func TestFileTable_FlushFailureKeepsDirty(t *testing.T) {
	ft := NewFileTable(0, nil)
	ctx := context.Background()
	up := &countingUpload{failErr: errors.New("server unavailable")}

	ft.Acquire(ctx, "/f", nil)
	ft.Write("/f", []byte("data"), 0)

	if err := ft.Flush(ctx, "/f", up.fn()); err == nil {
		t.Fatal("Expected flush error")
	}
	if !ft.Dirty("/f") {
		t.Error("Buffer must stay dirty after a failed upload")
	}

	// Retry succeeds and uploads the same content.
	up.failErr = nil
	if err := ft.Flush(ctx, "/f", up.fn()); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if !bytes.Equal(up.last, []byte("data")) {
		t.Errorf("Expected retried upload of %q, got %q", "data", up.last)
	}
	if ft.Dirty("/f") {
		t.Error("Dirty flag not cleared after successful retry")
	}
}

func TestFileTable_RenamePreservesBuffer(t *testing.T) {
	ft := NewFileTable(0, nil)
	ctx := context.Background()

	ft.Acquire(ctx, "/old", nil)
	ft.Write("/old", []byte("pending"), 0)

	ft.Rename("/old", "/new")

	if ft.Tracked("/old") {
		t.Error("Old path still tracked after rename")
	}
	if !ft.Dirty("/new") {
		t.Error("Dirty flag lost in rename")
	}
	if got := ft.Read("/new", 100, 0); !bytes.Equal(got, []byte("pending")) {
		t.Errorf("Buffer lost in rename, got %q", got)
	}
}

func TestFileTable_RenameUntrackedIsNoop(t *testing.T) {
	ft := NewFileTable(0, nil)
	ft.Rename("/missing", "/elsewhere")
	if ft.Tracked("/elsewhere") {
		t.Error("Rename of untracked path created an entry")
	}
}

func TestFileTable_CloseRemovesEntry(t *testing.T) {
	ft := NewFileTable(0, nil)
	ctx := context.Background()
	up := &countingUpload{}

	ft.Acquire(ctx, "/f", nil)
	ft.Write("/f", []byte("data"), 0)

	if err := ft.Close(ctx, "/f", up.fn()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if up.calls != 1 {
		t.Errorf("Expected close to write back, got %d uploads", up.calls)
	}
	if ft.Tracked("/f") {
		t.Error("Entry still tracked after close")
	}
}

func TestFileTable_CloseRemovesEntryOnUploadFailure(t *testing.T) {
	ft := NewFileTable(0, nil)
	ctx := context.Background()
	up := &countingUpload{failErr: errors.New("server unavailable")}

	ft.Acquire(ctx, "/f", nil)
	ft.Write("/f", []byte("data"), 0)

	if err := ft.Close(ctx, "/f", up.fn()); err == nil {
		t.Fatal("Expected close to report the upload failure")
	}
	if ft.Tracked("/f") {
		t.Error("Close must release the buffer regardless of outcome")
	}
}

func TestFileTable_EvictsOldestClean(t *testing.T) {
	ft := NewFileTable(2, nil)
	ctx := context.Background()

	ft.Acquire(ctx, "/clean", nil)
	ft.Acquire(ctx, "/dirty", nil)
	ft.Write("/dirty", []byte("pending"), 0)

	ft.Acquire(ctx, "/third", nil)

	if ft.Tracked("/clean") {
		t.Error("Expected the clean idle buffer to be evicted")
	}
	if !ft.Tracked("/dirty") {
		t.Error("Dirty buffer must never be evicted")
	}
	if !ft.Tracked("/third") {
		t.Error("Newly acquired path missing")
	}
}
