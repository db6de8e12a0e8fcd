package fuse

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/clock"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// Attributes is the cached stat data of a node.
type Attributes struct {
	Ino     uint64
	Size    uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint32
	Blksize uint32
}

func attributesFromWire(a wire.Attr) Attributes {
	return Attributes{
		Ino:     a.Ino,
		Size:    a.Size,
		Blocks:  a.Blocks,
		Atime:   time.Unix(int64(a.Atime), int64(a.Atimensec)),
		Mtime:   time.Unix(int64(a.Mtime), int64(a.Mtimensec)),
		Ctime:   time.Unix(int64(a.Ctime), int64(a.Ctimensec)),
		Mode:    a.Mode,
		Nlink:   a.Nlink,
		UID:     a.UID,
		GID:     a.GID,
		Rdev:    a.Rdev,
		Blksize: a.Blksize,
	}
}

func (a Attributes) IsDir() bool     { return a.Mode&unix.S_IFMT == unix.S_IFDIR }
func (a Attributes) IsRegular() bool { return a.Mode&unix.S_IFMT == unix.S_IFREG }

// validity converts a reply's seconds and nanoseconds into a duration,
// saturating instead of overflowing.
func validity(sec uint64, nsec uint32) time.Duration {
	const maxSec = uint64(math.MaxInt64 / int64(time.Second))
	if sec >= maxSec {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}

// Node is the engine's view of one daemon inode. The pair (ID, Generation)
// is its identity.
type Node struct {
	ID         uint64
	Generation uint64

	fs *FileSystem

	// attrsValidUntil is a clock.Instant. It is read without the lock and
	// re-checked under it.
	attrsValidUntil atomic.Int64
	mu              sync.RWMutex
	attrs           Attributes

	// nlookup counts replies that handed this node to the kernel and is
	// returned to the daemon by FORGET.
	nlookup atomic.Uint64
}

func newNode(fs *FileSystem, id, generation uint64) *Node {
	n := &Node{ID: id, Generation: generation, fs: fs}
	n.attrsValidUntil.Store(int64(clock.InfinitePast))
	return n
}

func (n *Node) IsRoot() bool { return n.ID == wire.RootID }

// CachedAttributes returns the attributes without checking expiry.
func (n *Node) CachedAttributes() Attributes {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.attrs
}

// AttributesValid reports whether the cached attributes have not expired.
func (n *Node) AttributesValid() bool {
	return n.fs.now() < clock.Instant(n.attrsValidUntil.Load())
}

// RefreshIfExpired returns the cached attributes while they are valid and
// otherwise fetches them with GETATTR. Concurrent callers that find the
// cache expired issue a single GETATTR.
func (n *Node) RefreshIfExpired(ctx context.Context, caller Caller) (Attributes, error) {
	if n.AttributesValid() {
		n.mu.RLock()
		if n.AttributesValid() {
			a := n.attrs
			n.mu.RUnlock()
			return a, nil
		}
		n.mu.RUnlock()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.AttributesValid() {
		return n.attrs, nil
	}
	resp, err := n.fs.conn.Execute(ctx, caller, n.ID, GetattrOp{})
	if err != nil {
		return Attributes{}, err
	}
	out, ok := resp.(AttrResponse)
	if !ok {
		return Attributes{}, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	n.setAttributesLocked(out.Out.Attr, validity(out.Out.AttrValid, out.Out.AttrValidNsec))
	return n.attrs, nil
}

// InvalidateAttributes forces the next RefreshIfExpired to contact the
// daemon.
func (n *Node) InvalidateAttributes() {
	n.attrsValidUntil.Store(int64(clock.InfinitePast))
}

func (n *Node) setAttributes(a wire.Attr, valid time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setAttributesLocked(a, valid)
}

func (n *Node) setAttributesLocked(a wire.Attr, valid time.Duration) {
	n.attrs = attributesFromWire(a)
	n.attrsValidUntil.Store(int64(n.fs.now().Add(valid)))
}
