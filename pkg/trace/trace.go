// Package trace records the bytes crossing a FUSE device and reads them
// back. A trace file is a header record followed by frame records, each
// CBOR-encoded behind a 4-byte big-endian length.
package trace

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/jingkaihe/fusebridge/internal/errx"
)

// maxRecordSize bounds a single record. The largest FUSE message is well
// below it.
const maxRecordSize = 16 << 20

// encMode keeps timestamps at nanosecond precision.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Direction says which way a frame crossed the device.
type Direction uint8

const (
	// Request is a message the daemon read from the device.
	Request Direction = iota
	// Reply is a message the daemon wrote to the device.
	Reply
)

func (d Direction) String() string {
	if d == Reply {
		return "reply"
	}
	return "request"
}

type Header struct {
	Session uuid.UUID `cbor:"session"`
	Version string    `cbor:"version"`
	Started time.Time `cbor:"started"`
}

// Frame is one device transfer. Err is set when the device rejected a
// write.
type Frame struct {
	Seq  uint64    `cbor:"seq"`
	Dir  Direction `cbor:"dir"`
	Time time.Time `cbor:"time"`
	Data []byte    `cbor:"data"`
	Err  string    `cbor:"err,omitempty"`
}

func writeRecord(w io.Writer, v any) error {
	data, err := encMode.Marshal(v)
	if err != nil {
		return errx.Wrap(ErrEncodeFrame, err)
	}
	if len(data) > maxRecordSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errx.Wrap(ErrWriteFrame, err)
	}
	if _, err := w.Write(data); err != nil {
		return errx.Wrap(ErrWriteFrame, err)
	}
	return nil
}

// readRecord returns io.EOF only when r ends exactly between records.
func readRecord(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return errx.Wrap(ErrTruncated, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxRecordSize {
		return ErrFrameTooLarge
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return errx.Wrap(ErrTruncated, err)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return errx.Wrap(ErrDecodeFrame, err)
	}
	return nil
}

// Reader iterates the frames of a trace.
type Reader struct {
	r      io.Reader
	header Header
}

// NewReader reads the trace header from r.
func NewReader(r io.Reader) (*Reader, error) {
	tr := &Reader{r: r}
	if err := readRecord(r, &tr.header); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errx.Wrap(ErrReadHeader, err)
	}
	return tr, nil
}

func (r *Reader) Header() Header { return r.header }

// Next returns the next frame, or io.EOF after the last one.
func (r *Reader) Next() (Frame, error) {
	var f Frame
	if err := readRecord(r.r, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Each calls fn for every remaining frame and stops at the first error.
func (r *Reader) Each(fn func(Frame) error) error {
	for {
		f, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}
