package fuse

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"drivefs/internal/logging"
	"drivefs/internal/pathutil"
	"drivefs/internal/remote"
)

func (n *Node) fillAttrCommon(ctx context.Context, out *fuse.Attr) {
	if n.isDirLocked() {
		out.Mode = syscall.S_IFDIR | dirMode
		out.Nlink = dirNlink
	} else {
		out.Mode = syscall.S_IFREG | fileMode
		out.Nlink = fileNlink
	}

	out.Size = uint64(n.attrs.SizeBytes)
	out.Blksize = blockSize
	out.Blocks = (out.Size + blockFactor - 1) / blockFactor

	out.Mtime = uint64(n.attrs.MTimeUnixSeconds)
	out.Atime = out.Mtime
	out.Ctime = out.Mtime

	if caller, ok := fuse.FromContext(ctx); ok {
		out.Uid = caller.Uid
		out.Gid = caller.Gid
	}
}

// fillAttrFromStat overrides size/mtime with values observed directly on
// the local cache file (the disk-first rule from getattr's priority
// order).
func fillAttrFromStat(out *fuse.Attr, info os.FileInfo) {
	out.Size = uint64(info.Size())
	out.Blocks = (out.Size + blockFactor - 1) / blockFactor
	out.Mtime = uint64(info.ModTime().Unix())
	out.Atime = out.Mtime
	out.Ctime = out.Mtime
}

// resolveAttrs implements getattr's priority order minus the root
// special-case: data-cache disk stat, then MetadataCache, then a remote
// listing of the parent directory.
func (n *Node) resolveAttrs(ctx context.Context, path string) (remote.FileAttributes, bool, syscall.Errno) {
	if local, ok := n.cache.GetLocal(path); ok {
		if info, err := os.Stat(local); err == nil {
			attrs := remote.FileAttributes{
				Name:             pathutil.Base(path),
				Path:             path,
				Kind:             remote.KindFile,
				SizeBytes:        info.Size(),
				MTimeUnixSeconds: info.ModTime().Unix(),
			}
			n.meta.PutAttrs(path, attrs)
			return attrs, true, 0
		}
	}

	if attrs, ok := n.meta.GetAttrs(path); ok {
		return attrs, false, 0
	}

	parent := pathutil.Dir(path)
	opCtx, cancel := context.WithTimeout(ctx, metadataOpTimeout)
	defer cancel()
	items, err := n.remote.List(opCtx, parent)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return remote.FileAttributes{}, false, syscall.ENOENT
		}
		return remote.FileAttributes{}, false, syscall.EIO
	}

	base := pathutil.Base(path)
	for _, it := range items {
		if it.Name == base {
			n.meta.PutAttrs(path, it)
			return it, false, 0
		}
	}
	return remote.FileAttributes{}, false, syscall.ENOENT
}

func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("getattr: %s", n.Path())

	if pathutil.IsRoot(n.Path()) {
		n.fillAttrCommon(ctx, &out.Attr)
		out.SetTimeout(attrTimeoutSec)
		return 0
	}

	attrs, fromDisk, errno := n.resolveAttrs(ctx, n.Path())
	if errno != 0 {
		return errno
	}
	n.attrs = attrs
	n.fillAttrCommon(ctx, &out.Attr)
	_ = fromDisk
	out.SetTimeout(attrTimeoutSec)
	return 0
}

func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	if n.restrictAccess {
		caller, ok := fuse.FromContext(ctx)
		if !ok {
			return syscall.EACCES
		}
		if caller.Uid != n.ownerUid {
			return syscall.EACCES
		}
	}
	return 0
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	const bsize = uint32(4096)
	const totalBlocks = uint64(1 << 30)
	const totalFiles = uint64(1 << 24)

	out.Bsize = bsize
	out.Frsize = bsize
	out.Blocks = totalBlocks
	out.Bfree = totalBlocks
	out.Bavail = totalBlocks
	out.Files = totalFiles
	out.Ffree = totalFiles
	out.NameLen = maxNameLen
	return 0
}

func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("setattr: %s", n.Path())

	if _, ok := in.GetMode(); ok {
		return syscall.ENOTSUP
	}
	if _, ok := in.GetUID(); ok {
		return syscall.ENOTSUP
	}
	if _, ok := in.GetGID(); ok {
		return syscall.ENOTSUP
	}

	if size, ok := in.GetSize(); ok {
		if n.isDirLocked() {
			return syscall.EISDIR
		}
		if errno := n.truncateLocked(size); errno != 0 {
			return errno
		}
		if fh != nil {
			if h, ok := fh.(*fileHandle); ok {
				h.modified = true
				h.syncedViaFsync = false
			}
		}
	}

	if t, ok := in.GetMTime(); ok {
		n.attrs.MTimeUnixSeconds = t.Unix()
		n.meta.PutAttrs(n.Path(), n.attrs)
	} else if _, ok := in.GetATime(); ok {
		n.attrs.MTimeUnixSeconds = time.Now().Unix()
	}

	n.fillAttrCommon(ctx, &out.Attr)
	return 0
}
