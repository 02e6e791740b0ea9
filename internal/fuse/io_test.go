package fuse

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"testing"

	"drivefs/internal/remote"
)

func newTestFileNode(t *testing.T, client remote.Client, path string) *Node {
	t.Helper()
	cache, meta, q, handles := newTestDeps(t, client)
	return &Node{
		remote:  client,
		cache:   cache,
		meta:    meta,
		queue:   q,
		handles: handles,
		attrs:   remote.FileAttributes{Path: path, Kind: remote.KindFile},
	}
}

func TestOpenCreateDownloadsOnMiss(t *testing.T) {
	client := &remote.FakeClient{
		DownloadFunc: func(ctx context.Context, remotePath, localPath string) error {
			return os.WriteFile(localPath, []byte("remote data"), 0600)
		},
	}
	n := newTestFileNode(t, client, "/a.txt")

	fh, _, errno := n.Open(context.Background(), syscall.O_RDONLY)
	if errno != 0 {
		t.Fatalf("Open errno: %d", errno)
	}
	if fh == nil {
		t.Fatal("expected non-nil handle")
	}

	dest := make([]byte, 32)
	res, errno := n.Read(context.Background(), fh, dest, 0)
	if errno != 0 {
		t.Fatalf("Read errno: %d", errno)
	}
	buf, status := res.Bytes(dest)
	if status != 0 {
		t.Fatalf("Bytes status: %v", status)
	}
	if string(buf) != "remote data" {
		t.Fatalf("got %q", buf)
	}
}

func TestOpenCreateOnNotFound(t *testing.T) {
	client := &remote.FakeClient{
		DownloadFunc: func(ctx context.Context, remotePath, localPath string) error {
			return remote.ErrNotFound
		},
	}
	n := newTestFileNode(t, client, "/new.txt")

	_, _, errno := n.Open(context.Background(), syscall.O_RDWR|syscall.O_CREAT)
	if errno != 0 {
		t.Fatalf("Open errno: %d", errno)
	}
	if !n.cache.IsDirty("/new.txt") {
		t.Fatal("expected O_CREAT on a missing remote file to create a dirty cache entry")
	}
}

func TestOpenWithoutCreateOnNotFoundFails(t *testing.T) {
	client := &remote.FakeClient{
		DownloadFunc: func(ctx context.Context, remotePath, localPath string) error {
			return remote.ErrNotFound
		},
	}
	n := newTestFileNode(t, client, "/missing.txt")

	_, _, errno := n.Open(context.Background(), syscall.O_RDONLY)
	if errno != syscall.ENOENT {
		t.Fatalf("expected ENOENT, got %d", errno)
	}
}

func TestWriteThenFlushUploadsAndClearsModified(t *testing.T) {
	var uploadedContent []byte
	client := &remote.FakeClient{
		DownloadFunc: func(ctx context.Context, remotePath, localPath string) error { return remote.ErrNotFound },
		UploadFunc: func(ctx context.Context, localPath, remotePath string) error {
			data, err := os.ReadFile(localPath)
			if err != nil {
				return err
			}
			uploadedContent = data
			return nil
		},
	}
	n := newTestFileNode(t, client, "/new.txt")

	fh, _, errno := n.Open(context.Background(), syscall.O_RDWR|syscall.O_CREAT)
	if errno != 0 {
		t.Fatalf("Open errno: %d", errno)
	}

	if _, errno := n.Write(context.Background(), fh, []byte("hello"), 0); errno != 0 {
		t.Fatalf("Write errno: %d", errno)
	}
	if !n.cache.IsDirty("/new.txt") {
		t.Fatal("expected write to mark dirty")
	}

	if errno := n.Flush(context.Background(), fh); errno != 0 {
		t.Fatalf("Flush errno: %d", errno)
	}
	if string(uploadedContent) != "hello" {
		t.Fatalf("expected upload of written bytes, got %q", uploadedContent)
	}
	if n.cache.IsDirty("/new.txt") {
		t.Fatal("expected flush to leave the path clean on success")
	}
	if h := fh.(*fileHandle); h.modified {
		t.Fatal("expected handle modified flag cleared after successful flush")
	}
}

func TestReleaseNeverUploads(t *testing.T) {
	var uploadCalled bool
	client := &remote.FakeClient{
		DownloadFunc: func(ctx context.Context, remotePath, localPath string) error { return remote.ErrNotFound },
		UploadFunc: func(ctx context.Context, localPath, remotePath string) error {
			uploadCalled = true
			return nil
		},
	}
	n := newTestFileNode(t, client, "/new.txt")

	fh, _, errno := n.Open(context.Background(), syscall.O_RDWR|syscall.O_CREAT)
	if errno != 0 {
		t.Fatalf("Open errno: %d", errno)
	}
	if _, errno := n.Write(context.Background(), fh, []byte("hello"), 0); errno != 0 {
		t.Fatalf("Write errno: %d", errno)
	}

	if errno := n.Release(context.Background(), fh); errno != 0 {
		t.Fatalf("Release errno: %d", errno)
	}
	if uploadCalled {
		t.Fatal("expected Release to never trigger an upload")
	}
	if !n.cache.IsDirty("/new.txt") {
		t.Fatal("expected path to remain dirty after a release with no fsync")
	}
}

func TestFlushOnReadOnlyHandleIsNoop(t *testing.T) {
	var uploadCalled bool
	client := &remote.FakeClient{
		DownloadFunc: func(ctx context.Context, remotePath, localPath string) error {
			return os.WriteFile(localPath, []byte("data"), 0600)
		},
		UploadFunc: func(ctx context.Context, localPath, remotePath string) error {
			uploadCalled = true
			return nil
		},
	}
	n := newTestFileNode(t, client, "/a.txt")

	fh, _, errno := n.Open(context.Background(), syscall.O_RDONLY)
	if errno != 0 {
		t.Fatalf("Open errno: %d", errno)
	}
	if errno := n.Flush(context.Background(), fh); errno != 0 {
		t.Fatalf("Flush errno: %d", errno)
	}
	if uploadCalled {
		t.Fatal("expected read-only flush to never upload")
	}
}

func TestFlushConflictTriggersAtomicReplace(t *testing.T) {
	var uploadedPaths []string
	client := &remote.FakeClient{
		DownloadFunc: func(ctx context.Context, remotePath, localPath string) error { return remote.ErrNotFound },
		UploadFunc: func(ctx context.Context, localPath, remotePath string) error {
			uploadedPaths = append(uploadedPaths, remotePath)
			if remotePath == "/x.txt" {
				return fmt.Errorf("upload %s: %w", remotePath, remote.ErrConflict)
			}
			return nil
		},
		DeleteFunc: func(ctx context.Context, path string) error { return nil },
		MoveFunc:   func(ctx context.Context, src, dst string) error { return nil },
	}
	n := newTestFileNode(t, client, "/x.txt")

	fh, _, errno := n.Open(context.Background(), syscall.O_RDWR|syscall.O_CREAT)
	if errno != 0 {
		t.Fatalf("Open errno: %d", errno)
	}
	if _, errno := n.Write(context.Background(), fh, []byte("abc"), 0); errno != 0 {
		t.Fatalf("Write errno: %d", errno)
	}
	if errno := n.Flush(context.Background(), fh); errno != 0 {
		t.Fatalf("Flush errno: %d", errno)
	}
	if len(uploadedPaths) != 2 {
		t.Fatalf("expected two upload attempts (original + temp), got %v", uploadedPaths)
	}
	if n.queue.Stats().AtomicReplacements != 1 {
		t.Fatalf("expected one atomic replacement recorded, got %+v", n.queue.Stats())
	}
}
