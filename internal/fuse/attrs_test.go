package fuse

import (
	"context"
	"os"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"drivefs/internal/remote"
)

func TestGetattrRootIsSynthesized(t *testing.T) {
	root := newTestRoot(t, &remote.FakeClient{})
	out := &fuse.AttrOut{}
	if errno := root.Getattr(context.Background(), nil, out); errno != 0 {
		t.Fatalf("Getattr errno: %d", errno)
	}
	if out.Attr.Mode&syscall.S_IFDIR == 0 {
		t.Fatal("expected root attrs to report a directory")
	}
}

func TestGetattrDiskFirstRule(t *testing.T) {
	var listCalls int
	client := &remote.FakeClient{
		ListFunc: func(ctx context.Context, path string) ([]remote.FileAttributes, error) {
			listCalls++
			return []remote.FileAttributes{{Name: "a.txt", Path: "/a.txt", Kind: remote.KindFile, SizeBytes: 100}}, nil
		},
	}
	n := newTestFileNode(t, client, "/a.txt")

	local, err := n.cache.CreateEmpty("/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("12345"), 0600); err != nil {
		t.Fatal(err)
	}

	out := &fuse.AttrOut{}
	if errno := n.Getattr(context.Background(), nil, out); errno != 0 {
		t.Fatalf("Getattr errno: %d", errno)
	}
	if out.Attr.Size != 5 {
		t.Fatalf("expected disk-derived size 5, got %d", out.Attr.Size)
	}
	if listCalls != 0 {
		t.Fatalf("expected disk-first rule to skip a remote listing, got %d calls", listCalls)
	}
}

func TestGetattrFallsBackToMetadataCache(t *testing.T) {
	var listCalls int
	client := &remote.FakeClient{
		ListFunc: func(ctx context.Context, path string) ([]remote.FileAttributes, error) {
			listCalls++
			return []remote.FileAttributes{{Name: "a.txt", Path: "/a.txt", Kind: remote.KindFile, SizeBytes: 7}}, nil
		},
	}
	n := newTestFileNode(t, client, "/a.txt")
	n.meta.PutAttrs("/a.txt", remote.FileAttributes{Path: "/a.txt", Kind: remote.KindFile, SizeBytes: 42})

	out := &fuse.AttrOut{}
	if errno := n.Getattr(context.Background(), nil, out); errno != 0 {
		t.Fatalf("Getattr errno: %d", errno)
	}
	if out.Attr.Size != 42 {
		t.Fatalf("expected metadata cache hit to win over a remote listing, got %d", out.Attr.Size)
	}
	if listCalls != 0 {
		t.Fatalf("expected no remote List call on a metadata cache hit, got %d", listCalls)
	}
}

func TestGetattrFallsBackToRemoteListing(t *testing.T) {
	client := &remote.FakeClient{
		ListFunc: func(ctx context.Context, path string) ([]remote.FileAttributes, error) {
			return []remote.FileAttributes{{Name: "a.txt", Path: "/a.txt", Kind: remote.KindFile, SizeBytes: 9}}, nil
		},
	}
	n := newTestFileNode(t, client, "/a.txt")

	out := &fuse.AttrOut{}
	if errno := n.Getattr(context.Background(), nil, out); errno != 0 {
		t.Fatalf("Getattr errno: %d", errno)
	}
	if out.Attr.Size != 9 {
		t.Fatalf("expected remote listing fallback to supply size 9, got %d", out.Attr.Size)
	}
}

func TestGetattrNotFoundFromRemote(t *testing.T) {
	client := &remote.FakeClient{
		ListFunc: func(ctx context.Context, path string) ([]remote.FileAttributes, error) {
			return nil, remote.ErrNotFound
		},
	}
	n := newTestFileNode(t, client, "/missing.txt")

	out := &fuse.AttrOut{}
	if errno := n.Getattr(context.Background(), nil, out); errno != syscall.ENOENT {
		t.Fatalf("expected ENOENT, got %d", errno)
	}
}

func TestSetattrRejectsModeAndOwnerChanges(t *testing.T) {
	n := newTestFileNode(t, &remote.FakeClient{}, "/a.txt")

	in := &fuse.SetAttrIn{}
	in.Valid = fuse.FATTR_MODE
	out := &fuse.AttrOut{}
	if errno := n.Setattr(context.Background(), nil, in, out); errno != syscall.ENOTSUP {
		t.Fatalf("expected ENOTSUP for mode change, got %d", errno)
	}

	in2 := &fuse.SetAttrIn{}
	in2.Valid = fuse.FATTR_UID
	if errno := n.Setattr(context.Background(), nil, in2, out); errno != syscall.ENOTSUP {
		t.Fatalf("expected ENOTSUP for uid change, got %d", errno)
	}
}

func TestSetattrTruncateMarksDirty(t *testing.T) {
	client := &remote.FakeClient{
		DownloadFunc: func(ctx context.Context, remotePath, localPath string) error { return remote.ErrNotFound },
	}
	n := newTestFileNode(t, client, "/a.txt")

	in := &fuse.SetAttrIn{}
	in.Valid = fuse.FATTR_SIZE
	in.Size = 0
	out := &fuse.AttrOut{}
	if errno := n.Setattr(context.Background(), nil, in, out); errno != 0 {
		t.Fatalf("Setattr errno: %d", errno)
	}
	if !n.cache.IsDirty("/a.txt") {
		t.Fatal("expected truncate via setattr to mark the path dirty")
	}
}

func TestAccessEnforcesOwnerWhenRestricted(t *testing.T) {
	n := newTestFileNode(t, &remote.FakeClient{}, "/a.txt")
	n.restrictAccess = true
	n.ownerUid = 1000

	if errno := n.Access(context.Background(), 0); errno != syscall.EACCES {
		t.Fatalf("expected EACCES without caller info, got %d", errno)
	}
}
