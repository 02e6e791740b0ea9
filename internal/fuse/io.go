package fuse

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"drivefs/internal/logging"
	"drivefs/internal/remote"
)

// ensureLocalLocked guarantees the node's path has a local cache file,
// downloading it if necessary. If the remote file does not exist and
// createIfMissing is set, an empty dirty file is created instead (the
// open(O_CREAT) case).
func (n *Node) ensureLocalLocked(ctx context.Context, createIfMissing bool) (string, syscall.Errno) {
	path := n.Path()

	if local, ok := n.cache.GetLocal(path); ok {
		return local, 0
	}

	opCtx, cancel := context.WithTimeout(ctx, dataOpTimeout)
	defer cancel()
	local, err := n.cache.Download(opCtx, path, n.remote)
	if err == nil {
		return local, 0
	}

	if errors.Is(err, remote.ErrNotFound) && createIfMissing {
		local, cerr := n.cache.CreateEmpty(path)
		if cerr != nil {
			logging.Warnf("open: could not create empty cache file for %s: %v", path, cerr)
			return "", syscall.EIO
		}
		return local, 0
	}

	if errors.Is(err, remote.ErrNotFound) {
		return "", syscall.ENOENT
	}
	logging.Warnf("open: download failed for %s: %v", path, err)
	return "", syscall.EIO
}

func (n *Node) truncateLocked(size uint64) syscall.Errno {
	path := n.Path()
	local, errno := n.ensureLocalLocked(context.Background(), true)
	if errno != 0 {
		return errno
	}
	if err := os.Truncate(local, int64(size)); err != nil {
		logging.Warnf("truncate: %s: %v", path, err)
		return syscall.EIO
	}
	n.attrs.SizeBytes = int64(size)
	if err := n.cache.MarkDirty(path); err != nil {
		logging.Warnf("truncate: mark dirty failed for %s: %v", path, err)
	}
	return 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("open: %s", n.Path())

	if n.isDirLocked() {
		return nil, 0, syscall.EISDIR
	}

	createIfMissing := flags&syscall.O_CREAT != 0
	local, errno := n.ensureLocalLocked(ctx, createIfMissing)
	if errno != 0 {
		return nil, 0, errno
	}

	if flags&syscall.O_TRUNC != 0 {
		if errno := n.truncateLocked(0); errno != 0 {
			return nil, 0, errno
		}
	}
	_ = local

	h := newFileHandle(n, flags)
	if flags&syscall.O_TRUNC != 0 {
		h.modified = true
	}
	n.handles.Register(h)
	n.incrementOpenLocked()

	openFlags := uint32(fuse.FOPEN_KEEP_CACHE)
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		openFlags = fuse.FOPEN_DIRECT_IO
	}
	return h, openFlags, 0
}

func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()

	local, errno := n.ensureLocalLocked(ctx, false)
	if errno != 0 {
		return nil, errno
	}

	f, err := os.Open(local)
	if err != nil {
		logging.Warnf("read: open cache file %s: %v", local, err)
		return nil, syscall.EIO
	}
	defer f.Close()

	got, err := f.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		logging.Warnf("read: %s: %v", local, err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:got]), 0
}

func (n *Node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if off < 0 {
		return 0, syscall.EINVAL
	}

	path := n.Path()
	local, errno := n.ensureLocalLocked(ctx, true)
	if errno != 0 {
		return 0, errno
	}

	h, _ := fh.(*fileHandle)

	f, err := os.OpenFile(local, os.O_RDWR, 0600)
	if err != nil {
		logging.Warnf("write: open cache file %s: %v", local, err)
		return 0, syscall.EIO
	}
	defer f.Close()

	writeOff := off
	if h != nil && h.appendMode {
		info, err := f.Stat()
		if err == nil {
			writeOff = info.Size()
		}
	}

	written, err := f.WriteAt(data, writeOff)
	if err != nil {
		logging.Warnf("write: %s: %v", local, err)
		return 0, syscall.EIO
	}
	if err := f.Sync(); err != nil {
		logging.Warnf("write: fsync local cache file %s: %v", local, err)
	}

	if info, err := f.Stat(); err == nil {
		n.attrs.SizeBytes = info.Size()
	}

	if err := n.cache.MarkDirty(path); err != nil {
		logging.Warnf("write: mark dirty failed for %s: %v", path, err)
	}

	if h != nil {
		h.modified = true
		h.syncedViaFsync = false
	}

	return uint32(written), 0
}

// flushLocked is the linchpin: the driver's only synchronous upload path
// (the background sync worker uploads asynchronously via the queue). It never
// raises — on failure it logs and leaves (or restores) the dirty mark so
// the background sync loop retries later.
func (n *Node) flushLocked(ctx context.Context, h *fileHandle) syscall.Errno {
	if h == nil || h.readOnly() || !h.modified {
		return 0
	}

	path := n.Path()
	local, ok := n.cache.GetLocal(path)
	if !ok {
		return 0
	}

	if err := n.cache.MarkClean(path); err != nil {
		logging.Warnf("flush: mark clean failed for %s: %v", path, err)
	}

	opCtx, cancel := context.WithTimeout(ctx, dataOpTimeout)
	defer cancel()
	if err := n.queue.UploadFileSync(opCtx, path, local); err != nil {
		logging.Warnf("flush: upload failed for %s: %v, will retry in background", path, err)
		if merr := n.cache.MarkDirty(path); merr != nil {
			logging.Warnf("flush: could not re-mark %s dirty: %v", path, merr)
		}
		return 0
	}

	h.modified = false
	if info, err := os.Stat(local); err == nil {
		n.attrs.SizeBytes = info.Size()
		n.attrs.MTimeUnixSeconds = info.ModTime().Unix()
	}
	n.meta.PutAttrs(path, n.attrs)
	return 0
}

func (n *Node) Flush(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, _ := fh.(*fileHandle)
	return n.flushLocked(ctx, h)
}

func (n *Node) Fsync(ctx context.Context, fh fs.FileHandle, flags uint32) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, _ := fh.(*fileHandle)
	errno := n.flushLocked(ctx, h)
	if h != nil {
		h.syncedViaFsync = true
	}
	return errno
}

// Release never flushes. It is pure handle bookkeeping: durability comes
// only from explicit fsync/flush and the background sync loop.
func (n *Node) Release(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()

	logging.Debugf("release: %s", n.Path())

	n.decrementOpenLocked()
	if h, ok := fh.(*fileHandle); ok {
		n.handles.Unregister(h)
	}
	return 0
}
