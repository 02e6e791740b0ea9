package fuse

import (
	"context"
	"os"
	"testing"
	"time"

	"drivefs/internal/filecache"
	"drivefs/internal/metacache"
	"drivefs/internal/opqueue"
	"drivefs/internal/remote"
)

func newTestWorkerDeps(t *testing.T) (*filecache.Cache, *opqueue.Queue) {
	t.Helper()
	cache, err := filecache.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("filecache.New: %v", err)
	}
	client := remote.NewMemoryClient()
	queue := opqueue.New(opqueue.Config{}, client, cache, metacache.New(time.Minute))
	queue.Start()
	t.Cleanup(queue.Stop)
	return cache, queue
}

func TestSyncWorkerCycleDrainsDirtyEntries(t *testing.T) {
	cache, queue := newTestWorkerDeps(t)

	local, err := cache.CreateEmpty("/a.txt")
	if err != nil {
		t.Fatalf("CreateEmpty: %v", err)
	}
	if err := os.WriteFile(local, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := cache.MarkDirty("/a.txt"); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}

	w := NewSyncWorker(cache, queue, NewHandleRegistry(), time.Hour)
	w.cycle()

	if err := queue.WaitForFileUpload(context.Background(), "/a.txt", time.Second); err != nil {
		t.Fatalf("upload did not complete: %v", err)
	}
	if cache.IsDirty("/a.txt") {
		t.Fatal("expected /a.txt to be clean after sync cycle")
	}
}

func TestSyncWorkerStopWarnsWithoutUploading(t *testing.T) {
	cache, queue := newTestWorkerDeps(t)

	w := NewSyncWorker(cache, queue, NewHandleRegistry(), time.Hour)
	w.Start()
	// Start runs one cycle immediately; let it pass over the still-empty
	// cache so the dirty entry below is only ever seen by Stop.
	time.Sleep(50 * time.Millisecond)

	local, err := cache.CreateEmpty("/b.txt")
	if err != nil {
		t.Fatalf("CreateEmpty: %v", err)
	}
	if err := os.WriteFile(local, []byte("pending"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := cache.MarkDirty("/b.txt"); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)

	if !cache.IsDirty("/b.txt") {
		t.Fatal("Stop must not force-upload dirty entries; /b.txt should still be dirty")
	}
}

func TestSyncWorkerDefaultInterval(t *testing.T) {
	cache, queue := newTestWorkerDeps(t)
	w := NewSyncWorker(cache, queue, nil, 0)
	if w.interval != DefaultAutoSyncInterval {
		t.Fatalf("expected default interval, got %v", w.interval)
	}
}
