package wire

// Protocol constants.
const (
	KernelVersion      = 7
	KernelMinorVersion = 40

	// RootID is the node id of the filesystem root.
	RootID uint64 = 1

	// SuperMagic is reported as the filesystem type by STATFS.
	SuperMagic = 0x65735546

	InHeaderSize  = 40
	OutHeaderSize = 16
	DirentSize    = 24
	EntryOutSize  = 128
	DirentAlign   = 8

	// SetxattrInCompatSize is the length of the SETXATTR header sent when
	// SETXATTR_EXT was not negotiated.
	SetxattrInCompatSize = 8

	// MaxErrno bounds the error codes accepted in a reply header.
	MaxErrno = 4095
)

// Attribute mask bits of SetattrIn.Valid.
const (
	SetattrMode     uint32 = 1 << 0
	SetattrUID      uint32 = 1 << 1
	SetattrGID      uint32 = 1 << 2
	SetattrSize     uint32 = 1 << 3
	SetattrAtime    uint32 = 1 << 4
	SetattrMtime    uint32 = 1 << 5
	SetattrFh       uint32 = 1 << 6
	SetattrAtimeNow uint32 = 1 << 7
	SetattrMtimeNow uint32 = 1 << 8
	SetattrCtime    uint32 = 1 << 10
)

// OpenOut.OpenFlags bits.
const (
	OpenDirectIO       uint32 = 1 << 0
	OpenKeepCache      uint32 = 1 << 1
	OpenNonseekable    uint32 = 1 << 2
	OpenCacheDir       uint32 = 1 << 3
	OpenStream         uint32 = 1 << 4
	OpenNoFlush        uint32 = 1 << 5
	OpenParallelWrites uint32 = 1 << 6
	OpenPassthrough    uint32 = 1 << 7
)

// InHeader precedes every kernel to daemon message.
type InHeader struct {
	Len     uint32
	Opcode  Opcode
	Unique  uint64
	NodeID  uint64
	UID     uint32
	GID     uint32
	PID     uint32
	Padding uint32
}

// OutHeader precedes every daemon to kernel message. Error is zero or a
// negated errno.
type OutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
	Flags2       uint32
	Unused       [11]uint32
}

type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
	MapAlignment        uint16
	Flags2              uint32
	MaxStackDepth       uint32
	Unused              [6]uint32
}

type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	Atimensec uint32
	Mtimensec uint32
	Ctimensec uint32
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	Rdev      uint32
	Blksize   uint32
	Flags     uint32
}

type AttrOut struct {
	AttrValid     uint64
	AttrValidNsec uint32
	Dummy         uint32
	Attr          Attr
}

type EntryOut struct {
	NodeID         uint64
	Generation     uint64
	EntryValid     uint64
	AttrValid      uint64
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

type GetattrIn struct {
	GetattrFlags uint32
	Dummy        uint32
	Fh           uint64
}

type SetattrIn struct {
	Valid     uint32
	Padding   uint32
	Fh        uint64
	Size      uint64
	LockOwner uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	Atimensec uint32
	Mtimensec uint32
	Ctimensec uint32
	Mode      uint32
	Unused4   uint32
	UID       uint32
	GID       uint32
	Unused5   uint32
}

type OpenIn struct {
	Flags     uint32
	OpenFlags uint32
}

// OpenOut is the OPEN/OPENDIR reply. PassthroughFh carries the backing id
// registered through the passthrough table, or zero.
type OpenOut struct {
	Fh            uint64
	OpenFlags     uint32
	PassthroughFh uint32
}

type ReadIn struct {
	Fh        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
	Padding   uint32
}

type WriteIn struct {
	Fh         uint64
	Offset     uint64
	Size       uint32
	WriteFlags uint32
	LockOwner  uint64
	Flags      uint32
	Padding    uint32
}

type WriteOut struct {
	Size    uint32
	Padding uint32
}

type ReleaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
	LockOwner    uint64
}

type FlushIn struct {
	Fh        uint64
	Unused    uint32
	Padding   uint32
	LockOwner uint64
}

type ForgetIn struct {
	Nlookup uint64
}

type InterruptIn struct {
	Unique uint64
}

type AccessIn struct {
	Mask    uint32
	Padding uint32
}

type MkdirIn struct {
	Mode  uint32
	Umask uint32
}

type MknodIn struct {
	Mode    uint32
	Rdev    uint32
	Umask   uint32
	Padding uint32
}

type CreateIn struct {
	Flags     uint32
	Mode      uint32
	Umask     uint32
	OpenFlags uint32
}

type LinkIn struct {
	OldNodeID uint64
}

type Rename2In struct {
	NewDir  uint64
	Flags   uint32
	Padding uint32
}

type GetxattrIn struct {
	Size    uint32
	Padding uint32
}

type GetxattrOut struct {
	Size    uint32
	Padding uint32
}

// SetxattrIn is the extended SETXATTR header. Without SETXATTR_EXT only the
// first SetxattrInCompatSize bytes are sent.
type SetxattrIn struct {
	Size          uint32
	Flags         uint32
	SetxattrFlags uint32
	Padding       uint32
}

type LseekIn struct {
	Fh      uint64
	Offset  uint64
	Whence  uint32
	Padding uint32
}

type LseekOut struct {
	Offset uint64
}

type PollIn struct {
	Fh     uint64
	Kh     uint64
	Flags  uint32
	Events uint32
}

type PollOut struct {
	Revents uint32
	Padding uint32
}

type Kstatfs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
	Padding uint32
	Spare   [6]uint32
}

type StatfsOut struct {
	St Kstatfs
}

// Dirent is the fixed part of a READDIR record. The name follows, padded to
// DirentAlign.
type Dirent struct {
	Ino     uint64
	Off     uint64
	Namelen uint32
	Type    uint32
}
