// Package metacache implements the TTL-bounded metadata cache: a
// path-keyed mapping of file attributes and a separate path-keyed mapping
// of directory listings. Unlike the teacher's cache, this cache does not
// support negative caching — a miss is always re-resolved against the
// remote client.
package metacache

import (
	"path"
	"sync"
	"time"

	"drivefs/internal/remote"
)

type attrEntry struct {
	attrs      remote.FileAttributes
	insertTime time.Time
}

type listingEntry struct {
	names      []string
	insertTime time.Time
}

// Cache is the two-namespace TTL cache. The zero value is not usable; use
// New.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	attrs    map[string]attrEntry
	listings map[string]listingEntry
	now      func() time.Time
}

// New creates a Cache with the given TTL.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:      ttl,
		attrs:    make(map[string]attrEntry),
		listings: make(map[string]listingEntry),
		now:      time.Now,
	}
}

func (c *Cache) expired(t time.Time) bool {
	return c.now().Sub(t) > c.ttl
}

// GetAttrs returns the cached attributes for path, if present and fresh.
func (c *Cache) GetAttrs(p string) (remote.FileAttributes, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.attrs[p]
	if !ok {
		return remote.FileAttributes{}, false
	}
	if c.expired(e.insertTime) {
		delete(c.attrs, p)
		return remote.FileAttributes{}, false
	}
	return e.attrs, true
}

// PutAttrs caches attrs for path.
func (c *Cache) PutAttrs(p string, attrs remote.FileAttributes) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[p] = attrEntry{attrs: attrs, insertTime: c.now()}
}

// GetListing returns the cached child-name listing for dir, if present and
// fresh.
func (c *Cache) GetListing(dir string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.listings[dir]
	if !ok {
		return nil, false
	}
	if c.expired(e.insertTime) {
		delete(c.listings, dir)
		return nil, false
	}
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out, true
}

// PutListing caches the child-name listing for dir.
func (c *Cache) PutListing(dir string, names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]string, len(names))
	copy(cp, names)
	c.listings[dir] = listingEntry{names: cp, insertTime: c.now()}
}

// Invalidate removes path's attrs entry and its parent's listing entry,
// since a mutation to path changes what the parent directory would list.
func (c *Cache) Invalidate(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attrs, p)
	delete(c.listings, path.Dir(p))
}

// InvalidateListing removes only dir's cached listing, leaving any cached
// attrs for entries within it untouched.
func (c *Cache) InvalidateListing(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listings, dir)
}

// SweepExpired removes every entry (attrs and listings) whose age exceeds
// the TTL. Reads already self-evict lazily; this is for bounding memory
// growth on paths that are cached once and never looked up again.
func (c *Cache) SweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for p, e := range c.attrs {
		if c.expired(e.insertTime) {
			delete(c.attrs, p)
		}
	}
	for p, e := range c.listings {
		if c.expired(e.insertTime) {
			delete(c.listings, p)
		}
	}
}
