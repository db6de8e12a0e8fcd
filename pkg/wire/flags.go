package wire

import (
	"strconv"
	"strings"
)

// InitFlags is the 64-bit capability set exchanged by INIT. On the wire it
// travels as two 32-bit halves, flags and flags2.
type InitFlags uint64

const (
	InitAsyncRead       InitFlags = 1 << 0
	InitPosixLocks      InitFlags = 1 << 1
	InitFileOps         InitFlags = 1 << 2
	InitAtomicOTrunc    InitFlags = 1 << 3
	InitExportSupport   InitFlags = 1 << 4
	InitBigWrites       InitFlags = 1 << 5
	InitDontMask        InitFlags = 1 << 6
	InitSpliceWrite     InitFlags = 1 << 7
	InitSpliceMove      InitFlags = 1 << 8
	InitSpliceRead      InitFlags = 1 << 9
	InitFlockLocks      InitFlags = 1 << 10
	InitHasIoctlDir     InitFlags = 1 << 11
	InitAutoInvalData   InitFlags = 1 << 12
	InitDoReaddirplus   InitFlags = 1 << 13
	InitReaddirplusAuto InitFlags = 1 << 14
	InitAsyncDio        InitFlags = 1 << 15
	InitWritebackCache  InitFlags = 1 << 16
	InitNoOpenSupport   InitFlags = 1 << 17
	InitParallelDirops  InitFlags = 1 << 18
	InitHandleKillpriv  InitFlags = 1 << 19
	InitPosixACL        InitFlags = 1 << 20
	InitAbortError      InitFlags = 1 << 21
	InitMaxPages        InitFlags = 1 << 22
	InitCacheSymlinks   InitFlags = 1 << 23
	InitSetxattrExt     InitFlags = 1 << 29
	InitInitExt         InitFlags = 1 << 30
	InitPassthrough     InitFlags = 1 << 37
)

// SupportedInitFlags is the set the engine requests in INIT. Reply bits
// outside this set are dropped.
const SupportedInitFlags = InitBigWrites |
	InitDontMask |
	InitSpliceWrite |
	InitSpliceMove |
	InitSpliceRead |
	InitDoReaddirplus |
	InitReaddirplusAuto |
	InitSetxattrExt |
	InitPosixACL |
	InitPassthrough |
	InitInitExt

var initFlagNames = []struct {
	flag InitFlags
	name string
}{
	{InitAsyncRead, "ASYNC_READ"},
	{InitPosixLocks, "POSIX_LOCKS"},
	{InitFileOps, "FILE_OPS"},
	{InitAtomicOTrunc, "ATOMIC_O_TRUNC"},
	{InitExportSupport, "EXPORT_SUPPORT"},
	{InitBigWrites, "BIG_WRITES"},
	{InitDontMask, "DONT_MASK"},
	{InitSpliceWrite, "SPLICE_WRITE"},
	{InitSpliceMove, "SPLICE_MOVE"},
	{InitSpliceRead, "SPLICE_READ"},
	{InitFlockLocks, "FLOCK_LOCKS"},
	{InitHasIoctlDir, "HAS_IOCTL_DIR"},
	{InitAutoInvalData, "AUTO_INVAL_DATA"},
	{InitDoReaddirplus, "DO_READDIRPLUS"},
	{InitReaddirplusAuto, "READDIRPLUS_AUTO"},
	{InitAsyncDio, "ASYNC_DIO"},
	{InitWritebackCache, "WRITEBACK_CACHE"},
	{InitNoOpenSupport, "NO_OPEN_SUPPORT"},
	{InitParallelDirops, "PARALLEL_DIROPS"},
	{InitHandleKillpriv, "HANDLE_KILLPRIV"},
	{InitPosixACL, "POSIX_ACL"},
	{InitAbortError, "ABORT_ERROR"},
	{InitMaxPages, "MAX_PAGES"},
	{InitCacheSymlinks, "CACHE_SYMLINKS"},
	{InitSetxattrExt, "SETXATTR_EXT"},
	{InitInitExt, "INIT_EXT"},
	{InitPassthrough, "PASSTHROUGH"},
}

// InitFlagsFrom joins the flags and flags2 halves of an INIT message.
func InitFlagsFrom(lo, hi uint32) InitFlags {
	return InitFlags(uint64(hi)<<32 | uint64(lo))
}

// Split returns the low and high 32-bit halves.
func (f InitFlags) Split() (lo, hi uint32) {
	return uint32(f), uint32(f >> 32)
}

// Has reports whether every bit of other is set in f.
func (f InitFlags) Has(other InitFlags) bool {
	return f&other == other
}

func (f InitFlags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	rest := f
	for _, n := range initFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}
