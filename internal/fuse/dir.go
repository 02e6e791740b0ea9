package fuse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"drivefs/internal/logging"
	"drivefs/internal/pathutil"
	"drivefs/internal/remote"
)

// validateChildPath validates and constructs a child path, rejecting
// separators and traversal sequences so a malicious name can never escape
// its parent directory.
func validateChildPath(parentPath, childName string) (string, error) {
	if strings.Contains(childName, "/") || strings.Contains(childName, "\\") {
		return "", fmt.Errorf("invalid child name: contains path separator")
	}
	if childName == "." || childName == ".." {
		return "", fmt.Errorf("invalid child name: %s", childName)
	}
	return pathutil.Join(parentPath, childName), nil
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.mu.Lock()
	dirPath := n.Path()
	isDir := n.isDirLocked()
	n.mu.Unlock()

	logging.Debugf("readdir: %s", dirPath)

	if !isDir {
		return nil, syscall.ENOTDIR
	}

	opCtx, cancel := context.WithTimeout(ctx, dirListTimeout)
	defer cancel()
	items, err := n.remote.List(opCtx, dirPath)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, syscall.ENOENT
		}
		logging.Warnf("readdir: %s: %v", dirPath, err)
		return nil, syscall.EIO
	}

	byName := make(map[string]fuse.DirEntry, len(items))
	for _, it := range items {
		n.meta.PutAttrs(it.Path, it)
		mode := uint32(syscall.S_IFREG)
		if it.IsDir() {
			mode = syscall.S_IFDIR
		}
		byName[it.Name] = fuse.DirEntry{Name: it.Name, Mode: mode}
	}

	for _, p := range n.cache.ListInDir(dirPath) {
		name := pathutil.Base(p)
		if _, exists := byName[name]; !exists {
			byName[name] = fuse.DirEntry{Name: name, Mode: syscall.S_IFREG}
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	n.meta.PutListing(dirPath, names)

	entries := make([]fuse.DirEntry, 0, len(names)+2)
	entries = append(entries,
		fuse.DirEntry{Name: ".", Mode: syscall.S_IFDIR},
		fuse.DirEntry{Name: "..", Mode: syscall.S_IFDIR},
	)
	for _, name := range names {
		entries = append(entries, byName[name])
	}
	return fs.NewListDirStream(entries), 0
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.mu.Lock()
	parentPath := n.Path()
	isDir := n.isDirLocked()
	n.mu.Unlock()

	logging.Debugf("lookup: %s/%s", parentPath, name)
	if !isDir {
		return nil, syscall.ENOTDIR
	}

	childPath, err := validateChildPath(parentPath, name)
	if err != nil {
		return nil, syscall.EINVAL
	}

	if existing := n.GetChild(name); existing != nil {
		if en, ok := existing.Operations().(*Node); ok {
			en.mu.Lock()
			if n.cache.IsDirty(childPath) {
				en.fillAttrCommon(ctx, &out.Attr)
				en.mu.Unlock()
				out.SetEntryTimeout(entryTimeoutSec)
				out.SetAttrTimeout(attrTimeoutSec)
				return existing, 0
			}
			en.mu.Unlock()
		}
	}

	attrs, _, errno := n.resolveAttrs(ctx, childPath)
	if errno != 0 {
		return nil, errno
	}

	childNode := n.newChild(attrs)
	childNode.fillAttrCommon(ctx, &out.Attr)
	out.SetEntryTimeout(entryTimeoutSec)
	out.SetAttrTimeout(attrTimeoutSec)

	child := n.NewPersistentInode(ctx, childNode, fs.StableAttr{Mode: childNode.modeFor(), Ino: stableIno(attrs)})
	return child, 0
}

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	if !n.isDirLocked() {
		return syscall.ENOTDIR
	}
	return 0
}

func (n *Node) OpendirHandle(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if !n.isDirLocked() {
		return nil, 0, syscall.ENOTDIR
	}
	handle := &dirStreamHandle{
		creator: func(ctx context.Context) (fs.DirStream, syscall.Errno) {
			return n.Readdir(ctx)
		},
	}
	return handle, 0, 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("create: %s/%s", n.Path(), name)

	childPath, err := validateChildPath(n.Path(), name)
	if err != nil {
		return nil, nil, 0, syscall.EINVAL
	}

	local, err := n.cache.CreateEmpty(childPath)
	if err != nil {
		logging.Warnf("create: %s: %v", childPath, err)
		return nil, nil, 0, syscall.EIO
	}
	_ = local

	now := time.Now()
	attrs := remote.FileAttributes{Name: name, Path: childPath, Kind: remote.KindFile, MTimeUnixSeconds: now.Unix()}
	n.meta.PutAttrs(childPath, attrs)
	n.meta.InvalidateListing(n.Path())

	childNode := n.newChild(attrs)
	childNode.incrementOpenLocked()
	h := newFileHandle(childNode, flags)
	h.modified = true
	n.handles.Register(h)

	childNode.fillAttrCommon(ctx, &out.Attr)
	out.SetEntryTimeout(entryTimeoutSec)
	out.SetAttrTimeout(attrTimeoutSec)

	child := n.NewPersistentInode(ctx, childNode, fs.StableAttr{Mode: childNode.modeFor(), Ino: stableIno(attrs)})
	return child, h, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	logging.Debugf("unlink: %s/%s", n.Path(), name)

	childPath, err := validateChildPath(n.Path(), name)
	if err != nil {
		return syscall.EINVAL
	}

	opCtx, cancel := context.WithTimeout(ctx, metadataOpTimeout)
	defer cancel()
	if err := n.remote.Delete(opCtx, childPath); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return syscall.ENOENT
		}
		logging.Warnf("unlink: %s: %v", childPath, err)
		return syscall.EIO
	}

	n.meta.Invalidate(childPath)
	n.meta.InvalidateListing(n.Path())
	if n.cache.IsDirty(childPath) {
		n.cache.MarkClean(childPath)
	}
	if err := n.cache.Evict(childPath); err != nil {
		logging.Debugf("unlink: evict %s: %v", childPath, err)
	}
	return 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	logging.Debugf("mkdir: %s/%s", n.Path(), name)

	childPath, err := validateChildPath(n.Path(), name)
	if err != nil {
		return nil, syscall.EINVAL
	}

	opCtx, cancel := context.WithTimeout(ctx, metadataOpTimeout)
	defer cancel()
	if err := n.remote.Mkdir(opCtx, childPath); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, syscall.ENOENT
		}
		logging.Warnf("mkdir: %s: %v", childPath, err)
		return nil, syscall.EIO
	}

	attrs := remote.FileAttributes{Name: name, Path: childPath, Kind: remote.KindDirectory, MTimeUnixSeconds: time.Now().Unix()}
	n.meta.PutAttrs(childPath, attrs)
	n.meta.InvalidateListing(n.Path())

	childNode := n.newChild(attrs)
	childNode.fillAttrCommon(ctx, &out.Attr)

	child := n.NewPersistentInode(ctx, childNode, fs.StableAttr{Mode: childNode.modeFor(), Ino: stableIno(attrs)})
	return child, 0
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	logging.Debugf("rmdir: %s/%s", n.Path(), name)

	childPath, err := validateChildPath(n.Path(), name)
	if err != nil {
		return syscall.EINVAL
	}

	opCtx, cancel := context.WithTimeout(ctx, metadataOpTimeout)
	defer cancel()
	if err := n.remote.Delete(opCtx, childPath); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return syscall.ENOENT
		}
		logging.Warnf("rmdir: %s: %v", childPath, err)
		return syscall.EIO
	}

	n.meta.Invalidate(childPath)
	n.meta.InvalidateListing(childPath)
	n.meta.InvalidateListing(n.Path())
	return 0
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	logging.Debugf("rename: %s/%s -> %s", n.Path(), name, newName)

	newParentNode, ok := newParent.EmbeddedInode().Operations().(*Node)
	if !ok {
		return syscall.EIO
	}

	oldPath, err := validateChildPath(n.Path(), name)
	if err != nil {
		return syscall.EINVAL
	}
	newPath, err := validateChildPath(newParentNode.Path(), newName)
	if err != nil {
		return syscall.EINVAL
	}

	opCtx, cancel := context.WithTimeout(ctx, metadataOpTimeout)
	defer cancel()
	if err := n.remote.Move(opCtx, oldPath, newPath); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return syscall.ENOENT
		}
		logging.Warnf("rename: %s -> %s: %v", oldPath, newPath, err)
		return syscall.EIO
	}

	n.meta.Invalidate(oldPath)
	n.meta.Invalidate(newPath)
	n.meta.InvalidateListing(n.Path())
	n.meta.InvalidateListing(newParentNode.Path())

	if _, ok := n.cache.GetLocal(oldPath); ok {
		if err := n.cache.Rename(oldPath, newPath); err != nil {
			logging.Warnf("rename: cache relocate %s -> %s: %v", oldPath, newPath, err)
		}
	}

	if childInode := n.GetChild(name); childInode != nil {
		updateSubtreePaths(childInode, oldPath, newPath)
	}
	return 0
}

func updateSubtreePaths(inode *fs.Inode, oldPrefix, newPrefix string) {
	if inode == nil {
		return
	}
	if node, ok := inode.Operations().(*Node); ok {
		node.mu.Lock()
		if pathutil.HasPrefix(node.attrs.Path, oldPrefix) {
			node.attrs.Path = pathutil.ReplacePrefix(node.attrs.Path, oldPrefix, newPrefix)
		}
		node.mu.Unlock()
	}
	for _, child := range inode.Children() {
		updateSubtreePaths(child, oldPrefix, newPrefix)
	}
}

func (n *Node) OnForget() {
	logging.Debugf("onforget: %s", n.Path())
}
