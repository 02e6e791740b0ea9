package fuse

import "syscall"

// fileHandle is the per-open-file state the spec calls an OpenFile
// record: access mode, append mode, the modified flag flush/fsync consult
// to decide whether an upload is owed, and syncedViaFsync, which fsync
// sets.
type fileHandle struct {
	node *Node

	accMode        uint32 // O_RDONLY / O_WRONLY / O_RDWR, from flags&O_ACCMODE
	appendMode     bool
	modified       bool
	syncedViaFsync bool
}

func newFileHandle(node *Node, flags uint32) *fileHandle {
	return &fileHandle{
		node:       node,
		accMode:    flags & syscall.O_ACCMODE,
		appendMode: flags&syscall.O_APPEND != 0,
	}
}

func (h *fileHandle) readOnly() bool {
	return h.accMode == syscall.O_RDONLY
}
