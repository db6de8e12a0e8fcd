// Package wire holds the FUSE message layouts and their little-endian
// encoding. Structures are encoded field by field, never by memory layout,
// so decoding a short or hostile buffer cannot read out of bounds.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jingkaihe/fusebridge/internal/errx"
)

// NameMax bounds the names carried in directory records.
const NameMax = 1024

// SizeOf returns the encoded size of T.
func SizeOf[T any]() int {
	var v T
	return binary.Size(&v)
}

// AppendStruct appends the little-endian encoding of v, which must be a
// fixed-size value or pointer to one.
func AppendStruct(buf []byte, v any) []byte {
	out, err := binary.Append(buf, binary.LittleEndian, v)
	if err != nil {
		panic(fmt.Sprintf("wire: encode %T: %v", v, err))
	}
	return out
}

// Decode reads a T from the front of src. A shorter src is zero-extended
// and trailing bytes are ignored, so daemons speaking an older or newer
// minor version still interoperate.
func Decode[T any](src []byte) T {
	var v T
	n := binary.Size(&v)
	tmp := make([]byte, n)
	copy(tmp, src)
	if _, err := binary.Decode(tmp, binary.LittleEndian, &v); err != nil {
		panic(fmt.Sprintf("wire: decode %T: %v", v, err))
	}
	return v
}

// DecodeExact reads a T from the front of src and fails if src is too short.
func DecodeExact[T any](src []byte) (T, error) {
	var v T
	n := binary.Size(&v)
	if len(src) < n {
		return v, errx.With(ErrShortBuffer, fmt.Sprintf(": %T needs %d bytes, have %d", v, n, len(src)))
	}
	return Decode[T](src), nil
}

// AppendCString appends s followed by a NUL byte.
func AppendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// CheckName rejects names that cannot be carried as a C string.
func CheckName(name string) error {
	if len(name) > NameMax {
		return ErrNameTooLong
	}
	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return ErrNameHasNul
	}
	return nil
}

// CString returns the bytes of b up to the first NUL, or all of b.
func CString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// SplitCStrings splits a NUL-separated list such as a LISTXATTR reply.
func SplitCStrings(b []byte) []string {
	var out []string
	for len(b) > 0 {
		i := bytes.IndexByte(b, 0)
		if i < 0 {
			out = append(out, string(b))
			break
		}
		if i > 0 {
			out = append(out, string(b[:i]))
		}
		b = b[i+1:]
	}
	return out
}

// Align rounds n up to DirentAlign.
func Align(n int) int {
	return (n + DirentAlign - 1) &^ (DirentAlign - 1)
}

// DirentRecord is one decoded READDIR or READDIRPLUS record. Entry is set
// only for READDIRPLUS.
type DirentRecord struct {
	Entry  *EntryOut
	Dirent Dirent
	Name   string
}

// ParseDirents decodes a READDIR (plus=false) or READDIRPLUS payload. A
// trailing record cut short by the buffer end is ignored; a record with an
// empty, oversized or slash-bearing name fails the whole reply.
func ParseDirents(buf []byte, plus bool) ([]DirentRecord, error) {
	var out []DirentRecord
	for {
		var rec DirentRecord
		p := buf
		if plus {
			if len(p) < EntryOutSize+DirentSize {
				return out, nil
			}
			e := Decode[EntryOut](p)
			rec.Entry = &e
			p = p[EntryOutSize:]
		} else if len(p) < DirentSize {
			return out, nil
		}

		rec.Dirent = Decode[Dirent](p)
		namelen := int(rec.Dirent.Namelen)
		if namelen == 0 || namelen > NameMax {
			return nil, errx.With(ErrInvalidDirent, fmt.Sprintf(": name length %d", namelen))
		}
		reclen := Align(DirentSize + namelen)
		if reclen > len(p) {
			if DirentSize+namelen > len(p) {
				return out, nil
			}
			reclen = len(p)
		}
		name := p[DirentSize : DirentSize+namelen]
		if bytes.IndexByte(name, '/') >= 0 || bytes.IndexByte(name, 0) >= 0 {
			return nil, errx.With(ErrInvalidDirent, fmt.Sprintf(": name %q", name))
		}
		rec.Name = string(name)
		out = append(out, rec)

		consumed := reclen
		if plus {
			consumed += EntryOutSize
		}
		buf = buf[consumed:]
	}
}

// AppendDirent appends one record in READDIR (entry == nil) or READDIRPLUS
// layout, padding the name to DirentAlign.
func AppendDirent(buf []byte, entry *EntryOut, d Dirent, name string) []byte {
	if entry != nil {
		buf = AppendStruct(buf, entry)
	}
	d.Namelen = uint32(len(name))
	buf = AppendStruct(buf, &d)
	buf = append(buf, name...)
	pad := Align(DirentSize+len(name)) - (DirentSize + len(name))
	return append(buf, make([]byte, pad)...)
}
