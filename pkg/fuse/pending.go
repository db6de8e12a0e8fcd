package fuse

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// pendingKind records what was sent so the reply can be decoded. The set is
// closed and mirrors Operation.
type pendingKind interface {
	opcode() wire.Opcode
}

type emptyKind struct{ op wire.Opcode }
type attrKind struct{ op wire.Opcode }
type entryKind struct{ op wire.Opcode }
type dataKind struct{ op wire.Opcode }
type createKind struct{}
type initKind struct{ fs *FileSystem }
type openKind struct{ dir bool }
type pollKind struct{}
type readdirKind struct{ plus bool }
type statfsKind struct{}
type lseekKind struct{}
type writeKind struct{}
type xattrKind struct {
	op   wire.Opcode
	size uint32
}

func (k emptyKind) opcode() wire.Opcode { return k.op }
func (k attrKind) opcode() wire.Opcode { return k.op }
func (k entryKind) opcode() wire.Opcode { return k.op }
func (k dataKind) opcode() wire.Opcode { return k.op }
func (createKind) opcode() wire.Opcode { return wire.OpCreate }
func (initKind) opcode() wire.Opcode { return wire.OpInit }
func (pollKind) opcode() wire.Opcode { return wire.OpPoll }
func (statfsKind) opcode() wire.Opcode { return wire.OpStatfs }
func (lseekKind) opcode() wire.Opcode { return wire.OpLseek }
func (writeKind) opcode() wire.Opcode { return wire.OpWrite }
func (k xattrKind) opcode() wire.Opcode { return k.op }

func (k openKind) opcode() wire.Opcode {
	if k.dir {
		return wire.OpOpendir
	}
	return wire.OpOpen
}

func (k readdirKind) opcode() wire.Opcode {
	if k.plus {
		return wire.OpReaddirplus
	}
	return wire.OpReaddir
}

// isAsync reports whether the caller does not wait for this reply.
func isAsync(k pendingKind) bool {
	_, ok := k.(initKind)
	return ok
}

// decodeResponse parses a successful reply body. payload aliases the
// daemon's buffer, so anything retained is copied.
func decodeResponse(k pendingKind, payload []byte) (Response, error) {
	switch k := k.(type) {
	case emptyKind:
		return EmptyResponse{}, nil
	case attrKind:
		return AttrResponse{Out: wire.Decode[wire.AttrOut](payload)}, nil
	case entryKind:
		return EntryResponse{Out: wire.Decode[wire.EntryOut](payload)}, nil
	case createKind:
		entry := wire.Decode[wire.EntryOut](payload)
		var rest []byte
		if len(payload) > wire.EntryOutSize {
			rest = payload[wire.EntryOutSize:]
		}
		return CreateResponse{Entry: entry, Open: wire.Decode[wire.OpenOut](rest)}, nil
	case dataKind:
		return DataResponse{Data: bytes.Clone(payload)}, nil
	case initKind:
		return InitResponse{Out: wire.Decode[wire.InitOut](payload)}, nil
	case openKind:
		return OpenResponse{Out: wire.Decode[wire.OpenOut](payload)}, nil
	case pollKind:
		return PollResponse{Out: wire.Decode[wire.PollOut](payload)}, nil
	case readdirKind:
		recs, err := wire.ParseDirents(payload, k.plus)
		if err != nil {
			return nil, errx.Wrap(ErrMalformedReply, errx.Wrap(err, unix.EIO))
		}
		return ReaddirResponse{Entries: recs}, nil
	case statfsKind:
		return StatfsResponse{Out: wire.Decode[wire.StatfsOut](payload)}, nil
	case lseekKind:
		return LseekResponse{Out: wire.Decode[wire.LseekOut](payload)}, nil
	case writeKind:
		return WriteResponse{Out: wire.Decode[wire.WriteOut](payload)}, nil
	case xattrKind:
		if k.size == 0 {
			out := wire.Decode[wire.GetxattrOut](payload)
			return XattrResponse{Size: out.Size, SizeOnly: true}, nil
		}
		if uint32(len(payload)) > k.size {
			return nil, errx.Wrap(ErrMalformedReply, unix.ERANGE)
		}
		return XattrResponse{Value: bytes.Clone(payload), Size: uint32(len(payload))}, nil
	default:
		return nil, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
}
