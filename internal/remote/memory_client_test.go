package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryClientUploadConflict(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	dir := t.TempDir()
	local := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(local, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := c.Upload(ctx, local, "/a.txt"); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if err := c.Upload(ctx, local, "/a.txt"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryClientDownloadRoundTrip(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	dir := t.TempDir()
	local := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(local, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := c.Upload(ctx, local, "/a.txt"); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out.txt")
	if err := c.Download(ctx, "/a.txt", out); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want hello", data)
	}
}

func TestMemoryClientDownloadNotFound(t *testing.T) {
	c := NewMemoryClient()
	if err := c.Download(context.Background(), "/missing", "/tmp/x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryClientListAndMkdir(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	if err := c.Mkdir(ctx, "/dir"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	local := filepath.Join(dir, "a.txt")
	os.WriteFile(local, []byte("x"), 0600)
	if err := c.Upload(ctx, local, "/dir/a.txt"); err != nil {
		t.Fatal(err)
	}

	entries, err := c.List(ctx, "/dir")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("unexpected listing: %+v", entries)
	}
}

func TestMemoryClientMoveAndDelete(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	dir := t.TempDir()
	local := filepath.Join(dir, "a.txt")
	os.WriteFile(local, []byte("x"), 0600)
	if err := c.Upload(ctx, local, "/a.txt"); err != nil {
		t.Fatal(err)
	}

	if err := c.Move(ctx, "/a.txt", "/b.txt"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "/a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after move, got %v", err)
	}
	if err := c.Delete(ctx, "/b.txt"); err != nil {
		t.Fatalf("delete moved file: %v", err)
	}
}
