package cache

import (
	"strings"
	"sync"
	"time"

	"extvfs/internal/vfs"
)

// AttrCache caches node attributes by path with TTL-based expiration.
// The NFS frontend stats the same paths over and over; answering from the
// cache keeps GETATTR storms off the extent walker.
type AttrCache struct {
	mu      sync.RWMutex
	entries map[string]*attrEntry
	ttl     time.Duration
	maxSize int
}

type attrEntry struct {
	stat    *vfs.Stat
	expires time.Time
}

// NewAttrCache creates an attribute cache. A zero ttl never expires
// entries; a zero maxSize leaves the cache unbounded.
func NewAttrCache(ttl time.Duration, maxSize int) *AttrCache {
	return &AttrCache{
		entries: make(map[string]*attrEntry, 256),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns the cached attributes for a path, or nil when the entry
// is missing, expired, or caching is disabled (EXTVFS_CACHE=0).
func (c *AttrCache) Get(path string) *vfs.Stat {
	if Disabled {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok {
		return nil
	}

	if c.ttl > 0 && time.Now().After(entry.expires) {
		return nil
	}

	return entry.stat
}

// Set records the attributes for a path.
// No-op when caching is disabled (EXTVFS_CACHE=0).
func (c *AttrCache) Set(path string, stat *vfs.Stat) {
	if Disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// At capacity, refresh known paths but do not admit new ones.
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[path]; !exists {
			return
		}
	}

	expires := time.Time{}
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}

	c.entries[path] = &attrEntry{
		stat:    stat,
		expires: expires,
	}
}

// Invalidate drops every entry.
func (c *AttrCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[string]*attrEntry, 256)
	}
}

// InvalidatePath drops one path.
func (c *AttrCache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
}

// InvalidatePrefix removes all paths under the given directory prefix.
// Used when a mount point is detached while the server keeps running.
func (c *AttrCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	for path := range c.entries {
		if strings.HasPrefix(path, prefix) {
			delete(c.entries, path)
		}
	}
}

// Size returns the number of live entries.
func (c *AttrCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// AttrCacheStats describes cache configuration and occupancy.
type AttrCacheStats struct {
	Size    int
	MaxSize int
	TTL     time.Duration
}

// Stats reports the cache's configuration and occupancy.
func (c *AttrCache) Stats() AttrCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AttrCacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
	}
}
