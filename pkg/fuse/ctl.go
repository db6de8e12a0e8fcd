package fuse

import (
	"io"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/internal/errx"
)

// AbortFile is the fusectl "abort" entry of one connection. Any non-empty
// write disconnects it.
type AbortFile struct {
	conn *Connection
}

func (f *AbortFile) Read(p []byte) (int, error) { return 0, io.EOF }

// Write consumes all of p and aborts the connection when p is not empty.
func (f *AbortFile) Write(p []byte) (int, error) {
	if len(p) > 0 {
		f.conn.Abort()
	}
	return len(p), nil
}

// WaitingFile is the fusectl "waiting" entry. Its content is the number of
// unanswered requests followed by a newline, computed at each read.
type WaitingFile struct {
	conn *Connection
}

func (f *WaitingFile) ReadAt(p []byte, off int64) (int, error) {
	content := strconv.AppendInt(nil, int64(f.conn.Waiting()), 10)
	content = append(content, '\n')
	if off >= int64(len(content)) {
		return 0, io.EOF
	}
	n := copy(p, content[off:])
	if n < len(content)-int(off) {
		return n, nil
	}
	return n, io.EOF
}

// ControlFiles returns the fusectl entries for connection id.
func (r *Registry) ControlFiles(id uint64) (*AbortFile, *WaitingFile, error) {
	c, ok := r.Lookup(id)
	if !ok {
		return nil, nil, errx.Wrap(ErrUnknownConnection, unix.ENOENT)
	}
	return &AbortFile{conn: c}, &WaitingFile{conn: c}, nil
}
