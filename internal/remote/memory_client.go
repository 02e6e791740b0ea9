package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"drivefs/internal/pathutil"
)

type memoryEntry struct {
	attrs FileAttributes
	data  []byte
}

// MemoryClient is an in-process Client implementation: a plain map keyed
// by normalized path. It implements the same Client interface as
// DatabricksClient so the rest of drivefs can be tested without a live
// workspace; the drivefs command itself always builds a DatabricksClient.
type MemoryClient struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryClient returns a MemoryClient pre-seeded with an empty root
// directory.
func NewMemoryClient() *MemoryClient {
	c := &MemoryClient{entries: make(map[string]*memoryEntry)}
	c.entries["/"] = &memoryEntry{attrs: FileAttributes{Name: "/", Path: "/", Kind: KindDirectory}}
	return c
}

func (c *MemoryClient) List(ctx context.Context, dirPath string) ([]FileAttributes, error) {
	dirPath = pathutil.Normalize(dirPath)

	c.mu.Lock()
	defer c.mu.Unlock()

	dir, ok := c.entries[dirPath]
	if !ok || !dir.attrs.IsDir() {
		return nil, fmt.Errorf("list %s: %w", dirPath, ErrNotFound)
	}

	var out []FileAttributes
	for p, e := range c.entries {
		if p == dirPath {
			continue
		}
		if pathutil.Dir(p) == dirPath {
			out = append(out, e.attrs)
		}
	}
	return out, nil
}

func (c *MemoryClient) Upload(ctx context.Context, localPath, remotePath string) error {
	remotePath = pathutil.Normalize(remotePath)
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[remotePath]; exists {
		return fmt.Errorf("upload %s: %w", remotePath, ErrConflict)
	}
	c.entries[remotePath] = &memoryEntry{
		attrs: FileAttributes{
			Name:             pathutil.Base(remotePath),
			Path:             remotePath,
			Kind:             KindFile,
			SizeBytes:        int64(len(data)),
			MTimeUnixSeconds: time.Now().Unix(),
		},
		data: data,
	}
	return nil
}

func (c *MemoryClient) Download(ctx context.Context, remotePath, localPath string) error {
	remotePath = pathutil.Normalize(remotePath)

	c.mu.Lock()
	e, ok := c.entries[remotePath]
	c.mu.Unlock()

	if !ok || e.attrs.IsDir() {
		return fmt.Errorf("download %s: %w", remotePath, ErrNotFound)
	}
	return os.WriteFile(localPath, e.data, 0600)
}

func (c *MemoryClient) Mkdir(ctx context.Context, dirPath string) error {
	dirPath = pathutil.Normalize(dirPath)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[dirPath]; exists {
		return fmt.Errorf("mkdir %s: %w", dirPath, ErrConflict)
	}
	c.entries[dirPath] = &memoryEntry{attrs: FileAttributes{
		Name: path.Base(dirPath),
		Path: dirPath,
		Kind: KindDirectory,
	}}
	return nil
}

func (c *MemoryClient) Delete(ctx context.Context, p string) error {
	p = pathutil.Normalize(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[p]; !exists {
		return fmt.Errorf("delete %s: %w", p, ErrNotFound)
	}
	delete(c.entries, p)
	return nil
}

func (c *MemoryClient) Move(ctx context.Context, src, dst string) error {
	src = pathutil.Normalize(src)
	dst = pathutil.Normalize(dst)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[src]
	if !ok {
		return fmt.Errorf("move %s: %w", src, ErrNotFound)
	}
	delete(c.entries, src)
	e.attrs.Path = dst
	e.attrs.Name = path.Base(dst)
	c.entries[dst] = e
	return nil
}
