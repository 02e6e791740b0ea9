// Package fuse implements the FUSE filesystem driver: it translates
// kernel VFS calls into operations against the metadata cache, the data
// cache, and the operation queue, following go-fuse's Inode-embedding
// pattern.
package fuse

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"

	"drivefs/internal/filecache"
	"drivefs/internal/metacache"
	"drivefs/internal/opqueue"
	"drivefs/internal/pathutil"
	"drivefs/internal/remote"
)

const (
	attrTimeoutSec  = 60
	entryTimeoutSec = 60

	dirMode  = 0755
	fileMode = 0644

	blockSize   = 4096
	blockFactor = 512

	maxNameLen = 255

	defaultIno = 1

	dirNlink  = 2
	fileNlink = 1
)

const (
	dataOpTimeout     = 2 * time.Minute
	metadataOpTimeout = 30 * time.Second
	dirListTimeout    = 1 * time.Minute
)

// NodeConfig holds access-control configuration shared by every node.
type NodeConfig struct {
	OwnerUid       uint32
	RestrictAccess bool
}

// Node is one inode: a file or directory backed by the remote client, the
// metadata cache, the data cache, and the operation queue.
type Node struct {
	fs.Inode

	remote  remote.Client
	cache   *filecache.Cache
	meta    *metacache.Cache
	queue   *opqueue.Queue
	handles *HandleRegistry

	mu    sync.Mutex
	attrs remote.FileAttributes

	ownerUid       uint32
	restrictAccess bool
	openCount      int
}

var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeSetattrer)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeOpendirer)((*Node)(nil))
var _ = (fs.NodeOpendirHandler)((*Node)(nil))
var _ = (fs.NodeReader)((*Node)(nil))
var _ = (fs.NodeWriter)((*Node)(nil))
var _ = (fs.NodeFlusher)((*Node)(nil))
var _ = (fs.NodeFsyncer)((*Node)(nil))
var _ = (fs.NodeReleaser)((*Node)(nil))
var _ = (fs.NodeCreater)((*Node)(nil))
var _ = (fs.NodeUnlinker)((*Node)(nil))
var _ = (fs.NodeMkdirer)((*Node)(nil))
var _ = (fs.NodeRmdirer)((*Node)(nil))
var _ = (fs.NodeRenamer)((*Node)(nil))
var _ = (fs.NodeAccesser)((*Node)(nil))
var _ = (fs.NodeStatfser)((*Node)(nil))
var _ = (fs.NodeOnForgetter)((*Node)(nil))

// Path returns the node's normalized remote path.
func (n *Node) Path() string {
	return n.attrs.Path
}

func (n *Node) isDirLocked() bool {
	return n.attrs.IsDir()
}

func stableIno(attrs remote.FileAttributes) uint64 {
	if attrs.Path != "" {
		return hashStringToIno(attrs.Path)
	}
	return defaultIno
}

func hashStringToIno(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum64()
	if sum == 0 {
		return defaultIno
	}
	return sum
}

func (n *Node) incrementOpenLocked() {
	n.openCount++
}

func (n *Node) decrementOpenLocked() {
	if n.openCount > 0 {
		n.openCount--
	}
}

func (n *Node) newChild(attrs remote.FileAttributes) *Node {
	return &Node{
		remote:         n.remote,
		cache:          n.cache,
		meta:           n.meta,
		queue:          n.queue,
		handles:        n.handles,
		attrs:          attrs,
		ownerUid:       n.ownerUid,
		restrictAccess: n.restrictAccess,
	}
}

func (n *Node) modeFor() uint32 {
	if n.isDirLocked() {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

// NewRootNode validates that rootPath exists and is a directory (via a
// listing, since RemoteClient has no standalone stat), then constructs the
// root Node.
func NewRootNode(ctx context.Context, client remote.Client, cache *filecache.Cache, meta *metacache.Cache, queue *opqueue.Queue, handles *HandleRegistry, rootPath string, config *NodeConfig) (*Node, error) {
	rootPath = pathutil.Normalize(rootPath)

	if !pathutil.IsRoot(rootPath) {
		if _, err := client.List(ctx, rootPath); err != nil {
			return nil, fmt.Errorf("root path %s: %w", rootPath, err)
		}
	}

	node := &Node{
		remote:  client,
		cache:   cache,
		meta:    meta,
		queue:   queue,
		handles: handles,
		attrs: remote.FileAttributes{
			Name: pathutil.Base(rootPath),
			Path: rootPath,
			Kind: remote.KindDirectory,
		},
	}
	if config != nil {
		node.ownerUid = config.OwnerUid
		node.restrictAccess = config.RestrictAccess
	}
	return node, nil
}
