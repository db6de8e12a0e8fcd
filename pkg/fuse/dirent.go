package fuse

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/clock"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// DirEntry binds a name in a parent directory to a node until the daemon's
// entry timeout runs out.
type DirEntry struct {
	Parent *Node
	Name   string
	Node   *Node

	validUntil atomic.Int64
}

func (fs *FileSystem) newDirEntry(parent *Node, name string, child *Node, e wire.EntryOut) *DirEntry {
	d := &DirEntry{Parent: parent, Name: name, Node: child}
	d.validUntil.Store(int64(fs.now().Add(validity(e.EntryValid, e.EntryValidNsec))))
	return d
}

// Valid reports whether the entry timeout has not run out.
func (d *DirEntry) Valid() bool {
	return d.Node.fs.now() < clock.Instant(d.validUntil.Load())
}

// Invalidate expires the entry.
func (d *DirEntry) Invalidate() {
	d.validUntil.Store(int64(clock.InfinitePast))
}

// Revalidate reports whether the name still refers to the same node. An
// unexpired entry or the root is valid without asking the daemon;
// otherwise LOOKUP decides. ENOENT and a changed (node id, generation)
// both report false without an error.
func (d *DirEntry) Revalidate(ctx context.Context, caller Caller) (bool, error) {
	if d.Node.IsRoot() || d.Valid() {
		return true, nil
	}
	fs := d.Node.fs
	resp, err := fs.conn.Execute(ctx, caller, d.Parent.ID, LookupOp{Name: d.Name})
	if errors.Is(err, unix.ENOENT) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	out, ok := resp.(EntryResponse)
	if !ok {
		return false, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	e := out.Out
	if e.NodeID != d.Node.ID || e.Generation != d.Node.Generation {
		if e.NodeID != 0 && !isDotName(d.Name) {
			// The daemon counted a lookup of a node the kernel will not keep.
			if _, err := fs.conn.Execute(ctx, caller, e.NodeID, ForgetOp{Nlookup: 1}); err != nil {
				fs.logger().Debug("forget replaced node", "nodeid", e.NodeID, "error", err)
			}
		}
		return false, nil
	}

	if !isDotName(d.Name) {
		d.Node.nlookup.Add(1)
	}
	d.Node.setAttributes(e.Attr, validity(e.AttrValid, e.AttrValidNsec))
	d.validUntil.Store(int64(fs.now().Add(validity(e.EntryValid, e.EntryValidNsec))))
	return true, nil
}

func isDotName(name string) bool {
	return name == "." || name == ".."
}
