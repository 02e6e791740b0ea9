// Package filecache implements the disk-backed write-back data cache: an
// LRU of remote path -> local cached file, a dirty set of unflushed paths,
// and a JSON sidecar per entry so the cache survives a restart.
package filecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"drivefs/internal/logging"
	"drivefs/internal/pathutil"
	"drivefs/internal/remote"
)

const (
	cacheSuffix = ".cache"
	metaSuffix  = ".meta"

	defaultMaxSizeBytes = 10 * 1024 * 1024 * 1024 // 10GB
	defaultSweepMaxAge  = 24 * time.Hour
)

// Entry is one cached remote file.
type Entry struct {
	RemotePath     string
	LocalPath      string
	SizeBytes      int64
	CachedTime     time.Time
	LastAccessTime time.Time
}

// sidecar is the on-disk JSON record persisted next to every cache file.
type sidecar struct {
	RemotePath string `json:"remote_path"`
	CachedTime int64  `json:"cached_time"`
	Size       int64  `json:"size"`
	Dirty      bool   `json:"dirty"`
}

// Cache is the disk-backed LRU data cache. Use New to construct one; the
// zero value is not usable.
type Cache struct {
	mu sync.Mutex

	dir         string
	maxSize     int64
	entries     map[string]*Entry // remote path -> entry
	dirty       map[string]struct{}
	totalSize   int64
	disabled    bool
}

// New creates a Cache rooted at dir with the given maximum size in bytes
// (0 means the 10GB default) and restores any entries left from a prior
// run.
func New(dir string, maxSizeBytes int64) (*Cache, error) {
	if maxSizeBytes == 0 {
		maxSizeBytes = defaultMaxSizeBytes
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{
		dir:     dir,
		maxSize: maxSizeBytes,
		entries: make(map[string]*Entry),
		dirty:   make(map[string]struct{}),
	}
	if err := c.restore(); err != nil {
		logging.Warnf("filecache: restore failed, starting empty: %v", err)
	}
	return c, nil
}

// NewDisabled returns a Cache in pass-through mode: every operation fails
// or no-ops, forcing callers onto an in-memory-only path.
func NewDisabled() *Cache {
	return &Cache{disabled: true, entries: make(map[string]*Entry), dirty: make(map[string]struct{})}
}

func (c *Cache) IsDisabled() bool { return c.disabled }

func (c *Cache) hashName(remotePath string) string {
	sum := sha256.Sum256([]byte(pathutil.Normalize(remotePath)))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) cachePath(remotePath string) string {
	return filepath.Join(c.dir, c.hashName(remotePath)+cacheSuffix)
}

func (c *Cache) metaPath(remotePath string) string {
	return filepath.Join(c.dir, c.hashName(remotePath)+metaSuffix)
}

func (c *Cache) writeSidecarLocked(remotePath string, size int64, dirty bool, cachedTime time.Time) error {
	rec := sidecar{RemotePath: remotePath, CachedTime: cachedTime.Unix(), Size: size, Dirty: dirty}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := c.metaPath(remotePath) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, c.metaPath(remotePath))
}

// restore scans sidecars, reconciles them against on-disk cache files, and
// reinserts consistent entries. A sidecar with no matching cache file, or a
// cache file with no sidecar, is discarded.
func (c *Cache) restore() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}

	metaByHash := make(map[string]string) // hash -> meta file path
	cacheHashes := make(map[string]bool)
	for _, f := range files {
		name := f.Name()
		switch {
		case len(name) > len(metaSuffix) && name[len(name)-len(metaSuffix):] == metaSuffix:
			metaByHash[name[:len(name)-len(metaSuffix)]] = filepath.Join(c.dir, name)
		case len(name) > len(cacheSuffix) && name[len(name)-len(cacheSuffix):] == cacheSuffix:
			cacheHashes[name[:len(name)-len(cacheSuffix)]] = true
		}
	}

	for hash, metaPath := range metaByHash {
		if !cacheHashes[hash] {
			os.Remove(metaPath)
			continue
		}
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var rec sidecar
		if err := json.Unmarshal(data, &rec); err != nil {
			os.Remove(metaPath)
			continue
		}

		cacheFile := filepath.Join(c.dir, hash+cacheSuffix)
		info, err := os.Stat(cacheFile)
		if err != nil {
			os.Remove(metaPath)
			continue
		}

		entry := &Entry{
			RemotePath:     rec.RemotePath,
			LocalPath:      cacheFile,
			SizeBytes:      info.Size(),
			CachedTime:     time.Unix(rec.CachedTime, 0),
			LastAccessTime: info.ModTime(),
		}
		c.entries[rec.RemotePath] = entry
		c.totalSize += entry.SizeBytes
		if rec.Dirty {
			c.dirty[rec.RemotePath] = struct{}{}
		}
	}

	// Any .cache file with no sidecar at all is an orphan from a crash
	// mid-write; drop it.
	for hash := range cacheHashes {
		if _, ok := metaByHash[hash]; !ok {
			os.Remove(filepath.Join(c.dir, hash+cacheSuffix))
		}
	}

	return nil
}

// GetLocal returns the local cache file for path if present and still on
// disk, touching its LRU recency and refreshing SizeBytes from disk.
func (c *Cache) GetLocal(path string) (string, bool) {
	if c.disabled {
		return "", false
	}
	path = pathutil.Normalize(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		return "", false
	}
	info, err := os.Stat(e.LocalPath)
	if err != nil {
		delete(c.entries, path)
		delete(c.dirty, path)
		return "", false
	}
	c.totalSize += info.Size() - e.SizeBytes
	e.SizeBytes = info.Size()
	e.LastAccessTime = time.Now()
	return e.LocalPath, true
}

// Download ensures path is present locally, downloading it via client if
// necessary. The download lands in a fresh temporary subdirectory and is
// renamed into place atomically only once it fully succeeds.
func (c *Cache) Download(ctx context.Context, path string, client remote.Client) (string, error) {
	path = pathutil.Normalize(path)

	if local, ok := c.GetLocal(path); ok {
		return local, nil
	}
	if c.disabled {
		return "", fmt.Errorf("filecache: disabled")
	}

	tmpDir, err := os.MkdirTemp(c.dir, "dl-*")
	if err != nil {
		return "", fmt.Errorf("create temp download dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpFile := filepath.Join(tmpDir, "data")
	if err := client.Download(ctx, path, tmpFile); err != nil {
		return "", err
	}

	info, err := os.Stat(tmpFile)
	if err != nil {
		return "", fmt.Errorf("stat downloaded file: %w", err)
	}
	size := info.Size()

	c.mu.Lock()
	c.evictForLocked(size)
	c.mu.Unlock()

	finalPath := c.cachePath(path)
	if err := os.Rename(tmpFile, finalPath); err != nil {
		return "", fmt.Errorf("rename into cache: %w", err)
	}

	now := time.Now()
	c.mu.Lock()
	c.entries[path] = &Entry{
		RemotePath:     path,
		LocalPath:      finalPath,
		SizeBytes:      size,
		CachedTime:     now,
		LastAccessTime: now,
	}
	c.totalSize += size
	sidecarErr := c.writeSidecarLocked(path, size, false, now)
	c.mu.Unlock()

	if sidecarErr != nil {
		logging.Warnf("filecache: failed to persist sidecar for %s: %v", path, sidecarErr)
	}
	return finalPath, nil
}

// CreateEmpty creates a zero-length cache file for path, marks it dirty,
// and persists its sidecar. Used by create() and by open(O_CREAT) on a
// remote NotFound.
func (c *Cache) CreateEmpty(path string) (string, error) {
	path = pathutil.Normalize(path)
	if c.disabled {
		return "", fmt.Errorf("filecache: disabled")
	}

	localPath := c.cachePath(path)
	if err := os.WriteFile(localPath, nil, 0600); err != nil {
		return "", fmt.Errorf("create empty cache file: %w", err)
	}

	now := time.Now()
	c.mu.Lock()
	c.entries[path] = &Entry{RemotePath: path, LocalPath: localPath, CachedTime: now, LastAccessTime: now}
	c.dirty[path] = struct{}{}
	err := c.writeSidecarLocked(path, 0, true, now)
	c.mu.Unlock()

	return localPath, err
}

// MarkDirty adds path to the dirty set and rewrites its sidecar,
// re-reading the on-disk size.
func (c *Cache) MarkDirty(path string) error {
	path = pathutil.Normalize(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		return fmt.Errorf("filecache: mark dirty on uncached path %s", path)
	}
	if info, err := os.Stat(e.LocalPath); err == nil {
		c.totalSize += info.Size() - e.SizeBytes
		e.SizeBytes = info.Size()
	}
	c.dirty[path] = struct{}{}
	return c.writeSidecarLocked(path, e.SizeBytes, true, e.CachedTime)
}

// MarkClean removes path from the dirty set and rewrites its sidecar.
func (c *Cache) MarkClean(path string) error {
	path = pathutil.Normalize(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		return fmt.Errorf("filecache: mark clean on uncached path %s", path)
	}
	delete(c.dirty, path)
	return c.writeSidecarLocked(path, e.SizeBytes, false, e.CachedTime)
}

// Rename relocates a cached entry from oldPath to newPath, moving its
// cache file and sidecar to the new path's hash and preserving dirty
// state. A no-op, returning nil, if oldPath is not cached.
func (c *Cache) Rename(oldPath, newPath string) error {
	oldPath = pathutil.Normalize(oldPath)
	newPath = pathutil.Normalize(newPath)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[oldPath]
	if !ok {
		return nil
	}

	newLocal := c.cachePath(newPath)
	if err := os.Rename(e.LocalPath, newLocal); err != nil {
		return fmt.Errorf("filecache: rename cache file: %w", err)
	}
	os.Remove(c.metaPath(oldPath))

	_, dirty := c.dirty[oldPath]
	delete(c.entries, oldPath)
	delete(c.dirty, oldPath)

	e.RemotePath = newPath
	e.LocalPath = newLocal
	c.entries[newPath] = e
	if dirty {
		c.dirty[newPath] = struct{}{}
	}
	return c.writeSidecarLocked(newPath, e.SizeBytes, dirty, e.CachedTime)
}

// IsDirty reports whether path is currently in the dirty set.
func (c *Cache) IsDirty(path string) bool {
	path = pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dirty[path]
	return ok
}

// Evict removes path's cache file and sidecar. It is a programming error
// to evict a dirty path; callers must mark clean first (invariant D2).
func (c *Cache) Evict(path string) error {
	path = pathutil.Normalize(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(path)
}

func (c *Cache) evictLocked(path string) error {
	if _, dirty := c.dirty[path]; dirty {
		return fmt.Errorf("filecache: refusing to evict dirty path %s", path)
	}
	e, ok := c.entries[path]
	if !ok {
		return nil
	}
	os.Remove(e.LocalPath)
	os.Remove(c.metaPath(path))
	delete(c.entries, path)
	c.totalSize -= e.SizeBytes
	return nil
}

// EvictFor evicts least-recently-used non-dirty entries until
// current_total + required <= max_size, or until every remaining entry is
// dirty (in which case it stops and logs, per spec: dirty data is never
// evicted to make room).
func (c *Cache) EvictFor(required int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictForLocked(required)
}

func (c *Cache) evictForLocked(required int64) {
	for c.totalSize+required > c.maxSize {
		victim, found := c.lruNonDirtyLocked()
		if !found {
			logging.Warnf("filecache: cannot evict enough space for %d bytes, all %d entries dirty", required, len(c.entries))
			return
		}
		c.evictLocked(victim)
	}
}

func (c *Cache) lruNonDirtyLocked() (string, bool) {
	var oldestPath string
	var oldestTime time.Time
	found := false

	for p, e := range c.entries {
		if _, dirty := c.dirty[p]; dirty {
			continue
		}
		if !found || e.LastAccessTime.Before(oldestTime) {
			oldestPath = p
			oldestTime = e.LastAccessTime
			found = true
		}
	}
	return oldestPath, found
}

// DirtyEntry pairs a dirty path with its local cache file, for the
// background sync worker to enqueue uploads from.
type DirtyEntry struct {
	RemotePath string
	LocalPath  string
}

// DirtySnapshot returns a stable copy of every currently dirty entry.
func (c *Cache) DirtySnapshot() []DirtyEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]DirtyEntry, 0, len(c.dirty))
	for p := range c.dirty {
		if e, ok := c.entries[p]; ok {
			out = append(out, DirtyEntry{RemotePath: p, LocalPath: e.LocalPath})
		}
	}
	return out
}

// ListInDir returns the remote paths of cached entries whose parent
// directory equals dir.
func (c *Cache) ListInDir(dir string) []string {
	dir = pathutil.Normalize(dir)

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for p := range c.entries {
		if pathutil.Dir(p) == dir {
			out = append(out, p)
		}
	}
	return out
}

// SweepExpired evicts non-dirty entries whose last access predates maxAge
// (0 means the 24h default).
func (c *Cache) SweepExpired(maxAge time.Duration) {
	if maxAge == 0 {
		maxAge = defaultSweepMaxAge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for p, e := range c.entries {
		if _, dirty := c.dirty[p]; dirty {
			continue
		}
		if e.LastAccessTime.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	for _, p := range stale {
		c.evictLocked(p)
	}
}

// Stats reports the number of entries and their total size, for
// diagnostics.
func (c *Cache) Stats() (count int, totalSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.totalSize
}
