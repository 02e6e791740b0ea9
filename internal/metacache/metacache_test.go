package metacache

import (
	"testing"
	"time"

	"drivefs/internal/remote"
)

func TestGetAttrsMissAndHit(t *testing.T) {
	c := New(time.Minute)

	if _, ok := c.GetAttrs("/a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.PutAttrs("/a", remote.FileAttributes{Path: "/a", SizeBytes: 5})
	attrs, ok := c.GetAttrs("/a")
	if !ok || attrs.SizeBytes != 5 {
		t.Fatalf("expected hit with size 5, got %+v ok=%v", attrs, ok)
	}
}

func TestAttrsExpireByTTL(t *testing.T) {
	c := New(time.Millisecond)
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }

	c.PutAttrs("/a", remote.FileAttributes{Path: "/a"})
	fakeNow = fakeNow.Add(time.Second)

	if _, ok := c.GetAttrs("/a"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestNoNegativeCaching(t *testing.T) {
	c := New(time.Minute)
	// A miss never becomes a cached "absent" marker: repeated misses stay
	// misses, and a later PutAttrs still makes it a hit.
	if _, ok := c.GetAttrs("/missing"); ok {
		t.Fatal("expected miss")
	}
	if _, ok := c.GetAttrs("/missing"); ok {
		t.Fatal("expected miss again, no negative caching")
	}
	c.PutAttrs("/missing", remote.FileAttributes{Path: "/missing"})
	if _, ok := c.GetAttrs("/missing"); !ok {
		t.Fatal("expected hit after put")
	}
}

func TestListingRoundTrip(t *testing.T) {
	c := New(time.Minute)
	c.PutListing("/dir", []string{"a", "b"})

	names, ok := c.GetListing("/dir")
	if !ok {
		t.Fatal("expected listing hit")
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected listing: %v", names)
	}

	// Returned slice must be a copy.
	names[0] = "mutated"
	names2, _ := c.GetListing("/dir")
	if names2[0] != "a" {
		t.Fatal("GetListing leaked internal slice")
	}
}

func TestInvalidateClearsAttrsAndParentListing(t *testing.T) {
	c := New(time.Minute)
	c.PutAttrs("/dir/file", remote.FileAttributes{Path: "/dir/file"})
	c.PutListing("/dir", []string{"file"})

	c.Invalidate("/dir/file")

	if _, ok := c.GetAttrs("/dir/file"); ok {
		t.Fatal("expected attrs invalidated")
	}
	if _, ok := c.GetListing("/dir"); ok {
		t.Fatal("expected parent listing invalidated")
	}
}

func TestInvalidateListing(t *testing.T) {
	c := New(time.Minute)
	c.PutAttrs("/dir/file", remote.FileAttributes{Path: "/dir/file"})
	c.PutListing("/dir", []string{"file"})

	c.InvalidateListing("/dir")

	if _, ok := c.GetListing("/dir"); ok {
		t.Fatal("expected listing invalidated")
	}
	if _, ok := c.GetAttrs("/dir/file"); !ok {
		t.Fatal("expected attrs to survive listing-only invalidation")
	}
}

func TestSweepExpired(t *testing.T) {
	c := New(time.Millisecond)
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }

	c.PutAttrs("/a", remote.FileAttributes{Path: "/a"})
	c.PutListing("/dir", []string{"a"})

	fakeNow = fakeNow.Add(time.Second)
	c.SweepExpired()

	if len(c.attrs) != 0 || len(c.listings) != 0 {
		t.Fatalf("expected sweep to clear all expired entries, got attrs=%v listings=%v", c.attrs, c.listings)
	}
}
