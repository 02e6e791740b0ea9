// Package remote defines the thin contract drivefs needs from an object
// store, and a Databricks Workspace-backed implementation of it.
package remote

import (
	"context"
	"errors"
)

// Kind distinguishes files from directories in a listing.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// FileAttributes is the attribute shape the core cares about; everything
// else (mode bits, nlink, inode) is derived from it at the FUSE boundary.
type FileAttributes struct {
	Name             string
	Path             string
	Kind             Kind
	SizeBytes        int64
	MTimeUnixSeconds int64
}

func (a FileAttributes) IsDir() bool { return a.Kind == KindDirectory }

// ErrNotFound and ErrConflict are the two error variants the core reacts
// to specially; every Client implementation must wrap the concrete
// backend error so errors.Is(err, ErrNotFound) works.
var (
	ErrNotFound = errors.New("remote: not found")
	ErrConflict = errors.New("remote: target already exists")
)

// Client is the capability interface the filesystem core consumes. It has
// no caching, retry, or POSIX awareness of its own — those live in
// internal/metacache, internal/opqueue, and internal/fuse respectively.
type Client interface {
	// List returns the direct children of path, raising ErrNotFound if
	// path does not exist.
	List(ctx context.Context, path string) ([]FileAttributes, error)

	// Upload copies the local file at localPath to remotePath, raising
	// ErrConflict if remotePath already exists.
	Upload(ctx context.Context, localPath, remotePath string) error

	// Download copies remotePath to the local file at localPath, raising
	// ErrNotFound if remotePath does not exist.
	Download(ctx context.Context, remotePath, localPath string) error

	// Mkdir creates a directory at path.
	Mkdir(ctx context.Context, path string) error

	// Delete removes path (file or empty-enough directory per the
	// backend's own semantics), raising ErrNotFound if absent.
	Delete(ctx context.Context, path string) error

	// Move renames/moves src to dst, raising ErrNotFound if src is
	// absent.
	Move(ctx context.Context, src, dst string) error
}
