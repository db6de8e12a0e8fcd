package fuse

import "github.com/jingkaihe/fusebridge/pkg/wire"

// Operation is a request the engine can send. Each opcode has one concrete
// type; the set is closed.
type Operation interface {
	Opcode() wire.Opcode
	// appendPayload appends the encoded body that follows the in-header.
	appendPayload(buf []byte) []byte
	// pending describes how to decode the reply, or nil if the daemon does
	// not reply to this opcode.
	pending() pendingKind
}

type AccessOp struct {
	Mask uint32
}

type CreateOp struct {
	Flags uint32
	Mode  uint32
	Umask uint32
	Name  string
}

type FlushOp struct {
	Fh        uint64
	LockOwner uint64
}

type ForgetOp struct {
	Nlookup uint64
}

type GetattrOp struct{}

type SetattrOp struct {
	In wire.SetattrIn
}

// InitOp starts the handshake. FS, when set, is the filesystem whose
// default permissions a POSIX_ACL reply switches on.
type InitOp struct {
	FS *FileSystem
}

type InterruptOp struct {
	Unique uint64
}

// GetxattrOp with Size zero asks only for the value's size.
type GetxattrOp struct {
	Name string
	Size uint32
}

type ListxattrOp struct {
	Size uint32
}

type LookupOp struct {
	Name string
}

type MkdirOp struct {
	Mode  uint32
	Umask uint32
	Name  string
}

type MknodOp struct {
	Mode  uint32
	Rdev  uint32
	Umask uint32
	Name  string
}

type LinkOp struct {
	OldNodeID uint64
	Name      string
}

type SymlinkOp struct {
	Name   string
	Target string
}

type OpenOp struct {
	Flags uint32
	Dir   bool
}

type PollOp struct {
	Fh     uint64
	Kh     uint64
	Flags  uint32
	Events uint32
}

type ReadOp struct {
	Fh     uint64
	Offset uint64
	Size   uint32
	Flags  uint32
}

type ReadlinkOp struct{}

// ReaddirOp sends READDIRPLUS when Plus is set.
type ReaddirOp struct {
	Fh     uint64
	Offset uint64
	Size   uint32
	Plus   bool
}

type ReleaseOp struct {
	Fh    uint64
	Flags uint32
	Dir   bool
}

type RemovexattrOp struct {
	Name string
}

// RenameOp is sent as RENAME2.
type RenameOp struct {
	OldName string
	NewDir  uint64
	NewName string
	Flags   uint32
}

type RmdirOp struct {
	Name string
}

type UnlinkOp struct {
	Name string
}

type LseekOp struct {
	Fh     uint64
	Offset uint64
	Whence uint32
}

// SetxattrOp sends the extended header only when Ext is set.
type SetxattrOp struct {
	Name  string
	Value []byte
	Flags uint32
	Ext   bool
}

type StatfsOp struct{}

type WriteOp struct {
	Fh     uint64
	Offset uint64
	Data   []byte
	Flags  uint32
}

func (AccessOp) Opcode() wire.Opcode { return wire.OpAccess }
func (CreateOp) Opcode() wire.Opcode { return wire.OpCreate }
func (FlushOp) Opcode() wire.Opcode { return wire.OpFlush }
func (ForgetOp) Opcode() wire.Opcode { return wire.OpForget }
func (GetattrOp) Opcode() wire.Opcode { return wire.OpGetattr }
func (SetattrOp) Opcode() wire.Opcode { return wire.OpSetattr }
func (InitOp) Opcode() wire.Opcode { return wire.OpInit }
func (InterruptOp) Opcode() wire.Opcode { return wire.OpInterrupt }
func (GetxattrOp) Opcode() wire.Opcode { return wire.OpGetxattr }
func (ListxattrOp) Opcode() wire.Opcode { return wire.OpListxattr }
func (LookupOp) Opcode() wire.Opcode { return wire.OpLookup }
func (MkdirOp) Opcode() wire.Opcode { return wire.OpMkdir }
func (MknodOp) Opcode() wire.Opcode { return wire.OpMknod }
func (LinkOp) Opcode() wire.Opcode { return wire.OpLink }
func (SymlinkOp) Opcode() wire.Opcode { return wire.OpSymlink }
func (PollOp) Opcode() wire.Opcode { return wire.OpPoll }
func (ReadOp) Opcode() wire.Opcode { return wire.OpRead }
func (ReadlinkOp) Opcode() wire.Opcode { return wire.OpReadlink }
func (RemovexattrOp) Opcode() wire.Opcode { return wire.OpRemovexattr }
func (RenameOp) Opcode() wire.Opcode { return wire.OpRename2 }
func (RmdirOp) Opcode() wire.Opcode { return wire.OpRmdir }
func (UnlinkOp) Opcode() wire.Opcode { return wire.OpUnlink }
func (LseekOp) Opcode() wire.Opcode { return wire.OpLseek }
func (SetxattrOp) Opcode() wire.Opcode { return wire.OpSetxattr }
func (StatfsOp) Opcode() wire.Opcode { return wire.OpStatfs }
func (WriteOp) Opcode() wire.Opcode { return wire.OpWrite }

func (o OpenOp) Opcode() wire.Opcode {
	if o.Dir {
		return wire.OpOpendir
	}
	return wire.OpOpen
}

func (o ReaddirOp) Opcode() wire.Opcode {
	if o.Plus {
		return wire.OpReaddirplus
	}
	return wire.OpReaddir
}

func (o ReleaseOp) Opcode() wire.Opcode {
	if o.Dir {
		return wire.OpReleasedir
	}
	return wire.OpRelease
}

func (o AccessOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.AccessIn{Mask: o.Mask})
}

func (o CreateOp) appendPayload(b []byte) []byte {
	b = wire.AppendStruct(b, &wire.CreateIn{Flags: o.Flags, Mode: o.Mode, Umask: o.Umask})
	return wire.AppendCString(b, o.Name)
}

func (o FlushOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.FlushIn{Fh: o.Fh, LockOwner: o.LockOwner})
}

func (o ForgetOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.ForgetIn{Nlookup: o.Nlookup})
}

func (GetattrOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.GetattrIn{})
}

func (o SetattrOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &o.In)
}

func (InitOp) appendPayload(b []byte) []byte {
	in := initRequest()
	return wire.AppendStruct(b, &in)
}

func (o InterruptOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.InterruptIn{Unique: o.Unique})
}

func (o GetxattrOp) appendPayload(b []byte) []byte {
	b = wire.AppendStruct(b, &wire.GetxattrIn{Size: o.Size})
	return wire.AppendCString(b, o.Name)
}

func (o ListxattrOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.GetxattrIn{Size: o.Size})
}

func (o LookupOp) appendPayload(b []byte) []byte {
	return wire.AppendCString(b, o.Name)
}

func (o MkdirOp) appendPayload(b []byte) []byte {
	b = wire.AppendStruct(b, &wire.MkdirIn{Mode: o.Mode, Umask: o.Umask})
	return wire.AppendCString(b, o.Name)
}

func (o MknodOp) appendPayload(b []byte) []byte {
	b = wire.AppendStruct(b, &wire.MknodIn{Mode: o.Mode, Rdev: o.Rdev, Umask: o.Umask})
	return wire.AppendCString(b, o.Name)
}

func (o LinkOp) appendPayload(b []byte) []byte {
	b = wire.AppendStruct(b, &wire.LinkIn{OldNodeID: o.OldNodeID})
	return wire.AppendCString(b, o.Name)
}

func (o SymlinkOp) appendPayload(b []byte) []byte {
	b = wire.AppendCString(b, o.Name)
	return wire.AppendCString(b, o.Target)
}

func (o OpenOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.OpenIn{Flags: o.Flags})
}

func (o PollOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.PollIn{Fh: o.Fh, Kh: o.Kh, Flags: o.Flags, Events: o.Events})
}

func (o ReadOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.ReadIn{Fh: o.Fh, Offset: o.Offset, Size: o.Size, Flags: o.Flags})
}

func (ReadlinkOp) appendPayload(b []byte) []byte { return b }

func (o ReaddirOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.ReadIn{Fh: o.Fh, Offset: o.Offset, Size: o.Size})
}

func (o ReleaseOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.ReleaseIn{Fh: o.Fh, Flags: o.Flags})
}

func (o RemovexattrOp) appendPayload(b []byte) []byte {
	return wire.AppendCString(b, o.Name)
}

func (o RenameOp) appendPayload(b []byte) []byte {
	b = wire.AppendStruct(b, &wire.Rename2In{NewDir: o.NewDir, Flags: o.Flags})
	b = wire.AppendCString(b, o.OldName)
	return wire.AppendCString(b, o.NewName)
}

func (o RmdirOp) appendPayload(b []byte) []byte {
	return wire.AppendCString(b, o.Name)
}

func (o UnlinkOp) appendPayload(b []byte) []byte {
	return wire.AppendCString(b, o.Name)
}

func (o LseekOp) appendPayload(b []byte) []byte {
	return wire.AppendStruct(b, &wire.LseekIn{Fh: o.Fh, Offset: o.Offset, Whence: o.Whence})
}

func (o SetxattrOp) appendPayload(b []byte) []byte {
	start := len(b)
	b = wire.AppendStruct(b, &wire.SetxattrIn{Size: uint32(len(o.Value)), Flags: o.Flags})
	if !o.Ext {
		b = b[:start+wire.SetxattrInCompatSize]
	}
	b = wire.AppendCString(b, o.Name)
	return append(b, o.Value...)
}

func (StatfsOp) appendPayload(b []byte) []byte { return b }

func (o WriteOp) appendPayload(b []byte) []byte {
	b = wire.AppendStruct(b, &wire.WriteIn{Fh: o.Fh, Offset: o.Offset, Size: uint32(len(o.Data)), WriteFlags: o.Flags})
	return append(b, o.Data...)
}

func (AccessOp) pending() pendingKind { return emptyKind{wire.OpAccess} }
func (CreateOp) pending() pendingKind { return createKind{} }
func (FlushOp) pending() pendingKind { return emptyKind{wire.OpFlush} }
func (ForgetOp) pending() pendingKind { return nil }
func (GetattrOp) pending() pendingKind { return attrKind{wire.OpGetattr} }
func (SetattrOp) pending() pendingKind { return attrKind{wire.OpSetattr} }
func (o InitOp) pending() pendingKind { return initKind{fs: o.FS} }
func (InterruptOp) pending() pendingKind { return nil }
func (o GetxattrOp) pending() pendingKind { return xattrKind{op: wire.OpGetxattr, size: o.Size} }
func (o ListxattrOp) pending() pendingKind { return xattrKind{op: wire.OpListxattr, size: o.Size} }
func (LookupOp) pending() pendingKind { return entryKind{wire.OpLookup} }
func (MkdirOp) pending() pendingKind { return entryKind{wire.OpMkdir} }
func (MknodOp) pending() pendingKind { return entryKind{wire.OpMknod} }
func (LinkOp) pending() pendingKind { return entryKind{wire.OpLink} }
func (SymlinkOp) pending() pendingKind { return entryKind{wire.OpSymlink} }
func (o OpenOp) pending() pendingKind { return openKind{dir: o.Dir} }
func (PollOp) pending() pendingKind { return pollKind{} }
func (ReadOp) pending() pendingKind { return dataKind{wire.OpRead} }
func (ReadlinkOp) pending() pendingKind { return dataKind{wire.OpReadlink} }
func (o ReaddirOp) pending() pendingKind { return readdirKind{plus: o.Plus} }
func (o ReleaseOp) pending() pendingKind { return emptyKind{o.Opcode()} }
func (RemovexattrOp) pending() pendingKind { return emptyKind{wire.OpRemovexattr} }
func (RenameOp) pending() pendingKind { return emptyKind{wire.OpRename2} }
func (RmdirOp) pending() pendingKind { return emptyKind{wire.OpRmdir} }
func (UnlinkOp) pending() pendingKind { return emptyKind{wire.OpUnlink} }
func (LseekOp) pending() pendingKind { return lseekKind{} }
func (SetxattrOp) pending() pendingKind { return emptyKind{wire.OpSetxattr} }
func (StatfsOp) pending() pendingKind { return statfsKind{} }
func (WriteOp) pending() pendingKind { return writeKind{} }
