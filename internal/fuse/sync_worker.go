package fuse

import (
	"context"
	"time"

	"drivefs/internal/filecache"
	"drivefs/internal/logging"
	"drivefs/internal/opqueue"
)

// DefaultAutoSyncInterval is how often the background worker sweeps dirty
// entries when no explicit interval is configured.
const DefaultAutoSyncInterval = 30 * time.Second

// SyncWorker periodically drains the data cache's dirty set into the
// operation queue, so writes that are never explicitly fsync'd still make
// it to the remote eventually.
type SyncWorker struct {
	cache    *filecache.Cache
	queue    *opqueue.Queue
	handles  *HandleRegistry
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSyncWorker creates a worker; interval of 0 uses DefaultAutoSyncInterval.
func NewSyncWorker(cache *filecache.Cache, queue *opqueue.Queue, handles *HandleRegistry, interval time.Duration) *SyncWorker {
	if interval == 0 {
		interval = DefaultAutoSyncInterval
	}
	return &SyncWorker{
		cache:    cache,
		queue:    queue,
		handles:  handles,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker's goroutine.
func (w *SyncWorker) Start() {
	go w.run()
}

func (w *SyncWorker) run() {
	defer close(w.doneCh)
	for {
		w.cycle()
		select {
		case <-time.After(w.interval):
		case <-w.stopCh:
			return
		}
	}
}

// cycle runs one pass: enqueue every currently-dirty entry for upload
// (optimistically marking it clean — the queue re-marks it dirty on
// terminal failure), then sweep expired clean entries.
func (w *SyncWorker) cycle() {
	for _, entry := range w.cache.DirtySnapshot() {
		if _, err := w.queue.EnqueueUpload(entry.RemotePath, entry.LocalPath, opqueue.PriorityLow); err != nil {
			logging.Warnf("sync worker: could not enqueue upload for %s: %v", entry.RemotePath, err)
			continue
		}
		if err := w.cache.MarkClean(entry.RemotePath); err != nil {
			logging.Warnf("sync worker: mark clean failed for %s: %v", entry.RemotePath, err)
		}
	}
	w.cache.SweepExpired(0)
}

// Stop signals the worker to exit and waits up to ctx's deadline. Dirty
// entries remaining at shutdown are warned about, not force-uploaded: the
// cache file survives on disk and will be retried on the next start.
func (w *SyncWorker) Stop(ctx context.Context) {
	close(w.stopCh)

	select {
	case <-w.doneCh:
	case <-ctx.Done():
		logging.Warnf("sync worker: shutdown timed out waiting for worker to exit")
	}

	dirty := w.cache.DirtySnapshot()
	if len(dirty) > 0 {
		paths := make([]string, len(dirty))
		for i, e := range dirty {
			paths[i] = e.RemotePath
		}
		logging.Warnf("shutdown: %d dirty file(s) not uploaded: %v", len(dirty), paths)
	}
	if w.handles != nil {
		w.handles.WarnIfOpen()
	}
}
