package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seafile-fuse/seafs-go/internal/repo"
)

// DefaultTTL is how long a directory snapshot is served without a
// remote refresh
const DefaultTTL = 10 * time.Second

// ListStatus reports which path a List call took, so callers (and
// tests) can distinguish a cache hit, a remote refresh, and the
// fail-soft empty result.
type ListStatus int

const (
	ListCached ListStatus = iota
	ListRefreshed
	ListFailed
)

// snapshot is the complete entry set of one directory as of its last
// refresh. Snapshots are replaced wholesale, never merged.
type snapshot struct {
	entries   map[string]repo.Entry
	expiresAt time.Time
}

// AttrCache caches per-directory entry listings with a TTL. Local
// mutations patch snapshots in place so reads between refreshes stay
// coherent.
type AttrCache struct {
	mu        sync.Mutex
	snapshots map[string]*snapshot
	repo      repo.Repository
	ttl       time.Duration
	logger    *zap.Logger

	now func() time.Time
}

// NewAttrCache creates an attribute cache backed by r. A zero ttl
// selects DefaultTTL; a nil logger disables logging.
func NewAttrCache(r repo.Repository, ttl time.Duration, logger *zap.Logger) *AttrCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttrCache{
		snapshots: make(map[string]*snapshot),
		repo:      r,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// List returns the entries of dirPath, serving the cached snapshot
// while it is fresh and refreshing it from the repository otherwise.
// A failed refresh returns an empty map and leaves the old snapshot
// state untouched, so the next call retries instead of serving a
// poisoned cache.
func (c *AttrCache) List(ctx context.Context, dirPath string) (map[string]repo.Entry, ListStatus) {
	c.mu.Lock()
	if snap, ok := c.snapshots[dirPath]; ok && c.now().Before(snap.expiresAt) {
		out := copyEntries(snap.entries)
		c.mu.Unlock()
		return out, ListCached
	}
	c.mu.Unlock()

	// Remote call happens outside the lock; last refresh wins.
	entries, err := c.repo.ListEntries(ctx, dirPath, true)
	if err != nil {
		c.logger.Warn("directory listing failed",
			zap.String("path", dirPath),
			zap.Error(err))
		return map[string]repo.Entry{}, ListFailed
	}

	byName := make(map[string]repo.Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	c.mu.Lock()
	c.snapshots[dirPath] = &snapshot{
		entries:   byName,
		expiresAt: c.now().Add(c.ttl),
	}
	out := copyEntries(byName)
	c.mu.Unlock()
	return out, ListRefreshed
}

// Patch inserts or overwrites a single entry in the snapshot for
// dirPath. If the directory has never been listed the patch is a
// no-op: the next List performs the authoritative refresh.
func (c *AttrCache) Patch(dirPath string, e repo.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[dirPath]
	if !ok {
		return
	}
	snap.entries[e.Name] = e
}

// Drop removes a single entry from the snapshot for dirPath, if one
// exists
func (c *AttrCache) Drop(dirPath, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap, ok := c.snapshots[dirPath]; ok {
		delete(snap.entries, name)
	}
}

// Invalidate discards the snapshot for dirPath entirely
func (c *AttrCache) Invalidate(dirPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, dirPath)
}

func copyEntries(in map[string]repo.Entry) map[string]repo.Entry {
	out := make(map[string]repo.Entry, len(in))
	for name, e := range in {
		out[name] = e
	}
	return out
}
