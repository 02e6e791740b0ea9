package fuse

import (
	"sync"

	"drivefs/internal/logging"
)

// HandleRegistry tracks every currently open file handle. Dirty-path
// tracking itself now lives in filecache.Cache (it must survive handle
// closure and process restart); this registry exists so shutdown can
// report how many files are still held open by kernel-side callers, and
// so diagnostics can list them without walking the inode tree.
type HandleRegistry struct {
	mu      sync.RWMutex
	handles map[*fileHandle]struct{}
}

// NewHandleRegistry creates an empty registry.
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{handles: make(map[*fileHandle]struct{})}
}

// Register adds h to the registry. Called from Open/Create.
func (r *HandleRegistry) Register(h *fileHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h] = struct{}{}
}

// Unregister removes h from the registry. Called from Release.
func (r *HandleRegistry) Unregister(h *fileHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, h)
}

// Count returns the number of currently open handles.
func (r *HandleRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Paths returns the distinct remote paths with at least one open handle.
func (r *HandleRegistry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var paths []string
	for h := range r.handles {
		p := h.node.Path()
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	return paths
}

// WarnIfOpen logs a warning naming any files still open at shutdown. It
// never forces a close or a flush — release and flush are the only paths
// that may act on a handle.
func (r *HandleRegistry) WarnIfOpen() {
	paths := r.Paths()
	if len(paths) == 0 {
		return
	}
	logging.Warnf("shutdown: %d file(s) still open: %v", len(paths), paths)
}
