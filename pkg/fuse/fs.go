package fuse

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/clock"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// FileSystem is a mounted connection: the node table and the operations
// the VFS calls on its nodes.
type FileSystem struct {
	conn *Connection
	root *Node

	defaultPermissions atomic.Bool

	mu    sync.Mutex
	nodes map[uint64]*Node
}

// Mount connects conn and starts the INIT handshake. It returns without
// waiting for the daemon; operations block until INIT completes.
func Mount(ctx context.Context, conn *Connection) (*FileSystem, error) {
	fs := &FileSystem{
		conn:  conn,
		nodes: make(map[uint64]*Node),
	}
	fs.defaultPermissions.Store(conn.opts.DefaultPermissions)
	fs.root = newNode(fs, wire.RootID, 0)
	fs.nodes[wire.RootID] = fs.root

	conn.Connect()
	if _, err := conn.Execute(ctx, conn.Creds(), 0, InitOp{FS: fs}); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileSystem) Root() *Node { return fs.root }
func (fs *FileSystem) Connection() *Connection { return fs.conn }
func (fs *FileSystem) DefaultPermissions() bool { return fs.defaultPermissions.Load() }

func (fs *FileSystem) now() clock.Instant { return fs.conn.opts.Clock.Now() }
func (fs *FileSystem) logger() *slog.Logger { return fs.conn.logger }

// Node returns the node with id if the table holds one.
func (fs *FileSystem) Node(id uint64) (*Node, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[id]
	return n, ok
}

// nodeFromEntry returns the node an entry reply refers to, replacing a
// tabled node whose generation differs, and counts the lookup unless name
// is "." or "..".
func (fs *FileSystem) nodeFromEntry(name string, e wire.EntryOut) (*Node, error) {
	if e.NodeID == 0 {
		return nil, unix.ENOENT
	}
	fs.mu.Lock()
	n, ok := fs.nodes[e.NodeID]
	if !ok || n.Generation != e.Generation {
		n = newNode(fs, e.NodeID, e.Generation)
		fs.nodes[e.NodeID] = n
	}
	if !isDotName(name) {
		n.nlookup.Add(1)
	}
	fs.mu.Unlock()

	n.setAttributes(e.Attr, validity(e.AttrValid, e.AttrValidNsec))
	return n, nil
}

func (fs *FileSystem) entryFromReply(parent *Node, name string, resp Response) (*DirEntry, error) {
	out, ok := resp.(EntryResponse)
	if !ok {
		return nil, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	child, err := fs.nodeFromEntry(name, out.Out)
	if err != nil {
		return nil, err
	}
	return fs.newDirEntry(parent, name, child, out.Out), nil
}

func checkName(name string) error {
	if err := wire.CheckName(name); err != nil {
		return errx.Wrap(ErrInvalidName, errx.Wrap(err, unix.EINVAL))
	}
	return nil
}

// Lookup resolves name in parent.
func (fs *FileSystem) Lookup(ctx context.Context, caller Caller, parent *Node, name string) (*DirEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	resp, err := fs.conn.Execute(ctx, caller, parent.ID, LookupOp{Name: name})
	if err != nil {
		return nil, err
	}
	return fs.entryFromReply(parent, name, resp)
}

// Forget returns n's lookup count to the daemon and drops it from the node
// table. Nothing is sent once the connection is closed or if the count is
// zero.
func (fs *FileSystem) Forget(ctx context.Context, caller Caller, n *Node) error {
	if n.IsRoot() {
		return nil
	}
	fs.mu.Lock()
	if fs.nodes[n.ID] == n {
		delete(fs.nodes, n.ID)
	}
	fs.mu.Unlock()

	count := n.nlookup.Swap(0)
	if count == 0 || fs.conn.State() != StateConnected {
		return nil
	}
	_, err := fs.conn.Execute(ctx, caller, n.ID, ForgetOp{Nlookup: count})
	return err
}

// Mkdir creates a directory.
func (fs *FileSystem) Mkdir(ctx context.Context, caller Caller, parent *Node, name string, mode, umask uint32) (*DirEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	resp, err := fs.conn.Execute(ctx, caller, parent.ID, MkdirOp{Mode: mode, Umask: umask, Name: name})
	if err != nil {
		return nil, err
	}
	parent.InvalidateAttributes()
	return fs.entryFromReply(parent, name, resp)
}

// Mknod creates a node. Regular files are created with CREATE and the
// resulting handle released at once; a daemon answering CREATE with ENOSYS
// gets MKNOD from then on.
func (fs *FileSystem) Mknod(ctx context.Context, caller Caller, parent *Node, name string, mode, rdev, umask uint32) (*DirEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if mode&unix.S_IFMT == unix.S_IFREG && !fs.conn.createUnsupported() {
		d, err := fs.createAndRelease(ctx, caller, parent, name, mode, umask)
		if !errors.Is(err, unix.ENOSYS) {
			return d, err
		}
		fs.conn.markCreateUnsupported()
	}

	resp, err := fs.conn.Execute(ctx, caller, parent.ID, MknodOp{Mode: mode, Rdev: rdev, Umask: umask, Name: name})
	if err != nil {
		return nil, err
	}
	parent.InvalidateAttributes()
	return fs.entryFromReply(parent, name, resp)
}

func (fs *FileSystem) createAndRelease(ctx context.Context, caller Caller, parent *Node, name string, mode, umask uint32) (*DirEntry, error) {
	flags := uint32(unix.O_CREAT | unix.O_EXCL | unix.O_WRONLY)
	resp, err := fs.conn.Execute(ctx, caller, parent.ID, CreateOp{Flags: flags, Mode: mode, Umask: umask, Name: name})
	if err != nil {
		return nil, err
	}
	out, ok := resp.(CreateResponse)
	if !ok {
		return nil, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	parent.InvalidateAttributes()
	child, err := fs.nodeFromEntry(name, out.Entry)
	if err != nil {
		return nil, err
	}
	if _, err := fs.conn.Execute(ctx, caller, child.ID, ReleaseOp{Fh: out.Open.Fh, Flags: flags}); err != nil {
		fs.logger().Error("release after create failed", "nodeid", child.ID, "error", err)
	}
	return fs.newDirEntry(parent, name, child, out.Entry), nil
}

// Symlink creates name in parent pointing at target.
func (fs *FileSystem) Symlink(ctx context.Context, caller Caller, parent *Node, name, target string) (*DirEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := checkName(target); err != nil && !errors.Is(err, wire.ErrNameTooLong) {
		return nil, err
	}
	resp, err := fs.conn.Execute(ctx, caller, parent.ID, SymlinkOp{Name: name, Target: target})
	if err != nil {
		return nil, err
	}
	parent.InvalidateAttributes()
	return fs.entryFromReply(parent, name, resp)
}

// Readlink returns the target of the symlink n.
func (fs *FileSystem) Readlink(ctx context.Context, caller Caller, n *Node) (string, error) {
	resp, err := fs.conn.Execute(ctx, caller, n.ID, ReadlinkOp{})
	if err != nil {
		return "", err
	}
	out, ok := resp.(DataResponse)
	if !ok {
		return "", errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	return string(out.Data), nil
}

// Link adds name in parent as another name of target.
func (fs *FileSystem) Link(ctx context.Context, caller Caller, parent *Node, name string, target *Node) (*DirEntry, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	resp, err := fs.conn.Execute(ctx, caller, parent.ID, LinkOp{OldNodeID: target.ID, Name: name})
	if err != nil {
		return nil, err
	}
	parent.InvalidateAttributes()
	target.InvalidateAttributes()
	return fs.entryFromReply(parent, name, resp)
}

// Unlink removes the non-directory name from parent.
func (fs *FileSystem) Unlink(ctx context.Context, caller Caller, parent *Node, name string) error {
	return fs.removeName(ctx, caller, parent, UnlinkOp{Name: name}, name)
}

// Rmdir removes the directory name from parent.
func (fs *FileSystem) Rmdir(ctx context.Context, caller Caller, parent *Node, name string) error {
	return fs.removeName(ctx, caller, parent, RmdirOp{Name: name}, name)
}

func (fs *FileSystem) removeName(ctx context.Context, caller Caller, parent *Node, op Operation, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, err := fs.conn.Execute(ctx, caller, parent.ID, op); err != nil {
		return err
	}
	parent.InvalidateAttributes()
	return nil
}

// Rename moves oldName in oldParent to newName in newParent using RENAME2.
func (fs *FileSystem) Rename(ctx context.Context, caller Caller, oldParent *Node, oldName string, newParent *Node, newName string) error {
	if err := checkName(oldName); err != nil {
		return err
	}
	if err := checkName(newName); err != nil {
		return err
	}
	op := RenameOp{OldName: oldName, NewDir: newParent.ID, NewName: newName}
	if _, err := fs.conn.Execute(ctx, caller, oldParent.ID, op); err != nil {
		return err
	}
	oldParent.InvalidateAttributes()
	newParent.InvalidateAttributes()
	return nil
}

// SetAttr selects attributes to change. Valid is a mask of wire.Setattr*
// bits; only the selected fields are read.
type SetAttr struct {
	Valid uint32
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Fh    uint64
}

func (s SetAttr) wire() wire.SetattrIn {
	in := wire.SetattrIn{
		Valid: s.Valid,
		Fh:    s.Fh,
		Size:  s.Size,
		Mode:  s.Mode,
		UID:   s.UID,
		GID:   s.GID,
	}
	if s.Valid&wire.SetattrAtime != 0 {
		in.Atime, in.Atimensec = uint64(s.Atime.Unix()), uint32(s.Atime.Nanosecond())
	}
	if s.Valid&wire.SetattrMtime != 0 {
		in.Mtime, in.Mtimensec = uint64(s.Mtime.Unix()), uint32(s.Mtime.Nanosecond())
	}
	return in
}

// Setattr changes attributes of n and caches the daemon's reply.
func (fs *FileSystem) Setattr(ctx context.Context, caller Caller, n *Node, attr SetAttr) (Attributes, error) {
	resp, err := fs.conn.Execute(ctx, caller, n.ID, SetattrOp{In: attr.wire()})
	if err != nil {
		return Attributes{}, err
	}
	out, ok := resp.(AttrResponse)
	if !ok {
		return Attributes{}, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	n.setAttributes(out.Out.Attr, validity(out.Out.AttrValid, out.Out.AttrValidNsec))
	return attributesFromWire(out.Out.Attr), nil
}

// Truncate sets the size of n.
func (fs *FileSystem) Truncate(ctx context.Context, caller Caller, n *Node, size uint64) error {
	_, err := fs.Setattr(ctx, caller, n, SetAttr{Valid: wire.SetattrSize, Size: size})
	return err
}

// AccessReason says why a permission check is made. Without default
// permissions only the reasons a user can observe are sent as ACCESS.
type AccessReason int

const (
	AccessReasonInternal AccessReason = iota
	AccessReasonAccess
	AccessReasonChdir
	AccessReasonChroot
)

// CheckAccess checks mask (a combination of R_OK, W_OK and X_OK) on n.
func (fs *FileSystem) CheckAccess(ctx context.Context, caller Caller, n *Node, mask uint32, reason AccessReason) error {
	if fs.defaultPermissions.Load() {
		a, err := n.RefreshIfExpired(ctx, caller)
		if err != nil {
			return err
		}
		return checkPermission(a, caller, mask)
	}
	switch reason {
	case AccessReasonAccess, AccessReasonChdir, AccessReasonChroot:
		_, err := fs.conn.Execute(ctx, caller, n.ID, AccessOp{Mask: mask})
		return err
	default:
		return nil
	}
}

func checkPermission(a Attributes, caller Caller, mask uint32) error {
	mask &= unix.R_OK | unix.W_OK | unix.X_OK
	if caller.UID == 0 {
		if mask&unix.X_OK != 0 && !a.IsDir() && a.Mode&0o111 == 0 {
			return unix.EACCES
		}
		return nil
	}
	var granted uint32
	switch {
	case caller.UID == a.UID:
		granted = a.Mode >> 6 & 7
	case caller.GID == a.GID:
		granted = a.Mode >> 3 & 7
	default:
		granted = a.Mode & 7
	}
	if mask&^granted != 0 {
		return unix.EACCES
	}
	return nil
}

// StatFS is the STATFS result.
type StatFS struct {
	Type    int64
	Bsize   int64
	Frsize  int64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Namelen int64
}

func (fs *FileSystem) Statfs(ctx context.Context, caller Caller) (StatFS, error) {
	resp, err := fs.conn.Execute(ctx, caller, wire.RootID, StatfsOp{})
	if err != nil {
		return StatFS{}, err
	}
	out, ok := resp.(StatfsResponse)
	if !ok {
		return StatFS{}, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	st := out.Out.St
	return StatFS{
		Type:    wire.SuperMagic,
		Bsize:   int64(st.Bsize),
		Frsize:  int64(st.Frsize),
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Namelen: int64(st.Namelen),
	}, nil
}

// GetXattr reads the extended attribute name. With size zero it returns
// only the value's length.
func (fs *FileSystem) GetXattr(ctx context.Context, caller Caller, n *Node, name string, size uint32) ([]byte, uint32, error) {
	if err := checkName(name); err != nil {
		return nil, 0, err
	}
	resp, err := fs.conn.Execute(ctx, caller, n.ID, GetxattrOp{Name: name, Size: size})
	if err != nil {
		return nil, 0, err
	}
	out, ok := resp.(XattrResponse)
	if !ok {
		return nil, 0, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	return out.Value, out.Size, nil
}

// ListXattr lists attribute names of n. With size zero it returns only
// the length of the encoded list.
func (fs *FileSystem) ListXattr(ctx context.Context, caller Caller, n *Node, size uint32) ([]string, uint32, error) {
	resp, err := fs.conn.Execute(ctx, caller, n.ID, ListxattrOp{Size: size})
	if err != nil {
		return nil, 0, err
	}
	out, ok := resp.(XattrResponse)
	if !ok {
		return nil, 0, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	if out.SizeOnly {
		return nil, out.Size, nil
	}
	return wire.SplitCStrings(out.Value), out.Size, nil
}

// SetXattr sets the extended attribute name. flags are XATTR_CREATE or
// XATTR_REPLACE.
func (fs *FileSystem) SetXattr(ctx context.Context, caller Caller, n *Node, name string, value []byte, flags uint32) error {
	if err := checkName(name); err != nil {
		return err
	}
	cfg, err := fs.conn.WaitConfiguration(ctx)
	if err != nil {
		return err
	}
	op := SetxattrOp{Name: name, Value: value, Flags: flags, Ext: cfg.Flags.Has(wire.InitSetxattrExt)}
	if _, err := fs.conn.Execute(ctx, caller, n.ID, op); err != nil {
		return err
	}
	n.InvalidateAttributes()
	return nil
}

func (fs *FileSystem) RemoveXattr(ctx context.Context, caller Caller, n *Node, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, err := fs.conn.Execute(ctx, caller, n.ID, RemovexattrOp{Name: name}); err != nil {
		return err
	}
	n.InvalidateAttributes()
	return nil
}
