package trace

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/pkg/fuse"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// recordSession records an INIT exchange plus one rejected write against
// a real connection and returns the trace bytes.
func recordSession(t *testing.T) ([]byte, *Recorder) {
	t.Helper()
	conn := fuse.NewConnection(1, fuse.Caller{UID: 1}, fuse.Options{})
	_, err := fuse.Mount(context.Background(), conn)
	require.NoError(t, err)

	var out bytes.Buffer
	rec, err := NewRecorder(conn, &out, RecorderOptions{Now: func() time.Time { return epoch }})
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := rec.Read(buf)
	require.NoError(t, err)
	hdr := wire.Decode[wire.InHeader](buf[:n])
	require.Equal(t, wire.OpInit, hdr.Opcode)

	// Nothing else queued; the failed read is not recorded.
	_, err = rec.Read(buf)
	require.ErrorIs(t, err, unix.EAGAIN)

	initOut := wire.InitOut{Major: wire.KernelVersion, Minor: wire.KernelMinorVersion, MaxWrite: 4096}
	reply := wire.AppendStruct(nil, &wire.OutHeader{
		Len:    uint32(wire.OutHeaderSize + wire.SizeOf[wire.InitOut]()),
		Unique: hdr.Unique,
	})
	reply = wire.AppendStruct(reply, &initOut)
	_, err = rec.Write(reply)
	require.NoError(t, err)

	_, err = rec.Write(wire.AppendStruct(nil, &wire.OutHeader{Len: wire.OutHeaderSize, Unique: 77}))
	require.ErrorIs(t, err, unix.EINVAL)

	return out.Bytes(), rec
}

func TestRecorder_RoundTrip(t *testing.T) {
	data, rec := recordSession(t)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, rec.Session(), r.Header().Session)
	assert.True(t, epoch.Equal(r.Header().Started))
	assert.NotEmpty(t, r.Header().Version)

	var frames []Frame
	require.NoError(t, r.Each(func(f Frame) error {
		frames = append(frames, f)
		return nil
	}))
	require.Len(t, frames, 3)

	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.True(t, epoch.Equal(f.Time))
	}
	assert.Equal(t, Request, frames[0].Dir)
	assert.Equal(t, Reply, frames[1].Dir)
	assert.Empty(t, frames[1].Err)
	assert.Equal(t, Reply, frames[2].Dir)
	assert.NotEmpty(t, frames[2].Err)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSummarize(t *testing.T) {
	data, _ := recordSession(t)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	req, err := r.Next()
	require.NoError(t, err)
	s := Summarize(req)
	require.True(t, s.Valid)
	assert.Equal(t, wire.OpInit, s.Opcode)
	assert.Zero(t, s.NodeID)
	assert.Equal(t, uint64(1), s.Unique)
	assert.Contains(t, s.String(), "INIT")

	reply, err := r.Next()
	require.NoError(t, err)
	s = Summarize(reply)
	require.True(t, s.Valid)
	assert.Equal(t, uint64(1), s.Unique)
	assert.Zero(t, s.Error)

	rejected, err := r.Next()
	require.NoError(t, err)
	assert.Contains(t, Summarize(rejected).String(), "rejected")

	short := Summarize(Frame{Seq: 9, Dir: Reply, Data: []byte{1, 2}})
	assert.False(t, short.Valid)
	assert.Equal(t, "#9 reply malformed", short.String())
}

func TestCollect(t *testing.T) {
	data, _ := recordSession(t)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	st, err := Collect(r)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Frames)
	assert.Equal(t, 1, st.Rejected)
	assert.Zero(t, st.Malformed)
	assert.Zero(t, st.Orphans)
	assert.Zero(t, st.Unanswered())
	assert.Equal(t, []OpStats{{Opcode: wire.OpInit, Requests: 1, Replies: 1}}, st.Ops())
}

func TestStats_ErrorsAndOrphans(t *testing.T) {
	st := NewStats()
	req := func(unique uint64, op wire.Opcode) Frame {
		return Frame{Dir: Request, Data: wire.AppendStruct(nil, &wire.InHeader{Len: wire.InHeaderSize, Opcode: op, Unique: unique})}
	}
	reply := func(unique uint64, errno int32) Frame {
		return Frame{Dir: Reply, Data: wire.AppendStruct(nil, &wire.OutHeader{Len: wire.OutHeaderSize, Error: errno, Unique: unique})}
	}

	st.Add(req(2, wire.OpLookup))
	st.Add(req(3, wire.OpLookup))
	st.Add(req(4, wire.OpGetattr))
	st.Add(reply(2, -int32(unix.ENOENT)))
	st.Add(reply(3, 0))
	st.Add(reply(50, 0))
	st.Add(Frame{Dir: Request, Data: []byte{1}})

	assert.Equal(t, 7, st.Frames)
	assert.Equal(t, 1, st.Orphans)
	assert.Equal(t, 1, st.Malformed)
	assert.Equal(t, 1, st.Unanswered())
	assert.Equal(t, []OpStats{
		{Opcode: wire.OpLookup, Requests: 2, Replies: 2, Errors: 1},
		{Opcode: wire.OpGetattr, Requests: 1},
	}, st.Ops())
}

func TestReader_Errors(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrReadHeader)

	data, _ := recordSession(t)
	r, err := NewReader(bytes.NewReader(data[:len(data)-3]))
	require.NoError(t, err)
	err = r.Each(func(Frame) error { return nil })
	assert.ErrorIs(t, err, ErrTruncated)

	r, err = NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	stop := errors.New("stop")
	assert.ErrorIs(t, r.Each(func(Frame) error { return stop }), stop)

	huge := append([]byte{0xff, 0xff, 0xff, 0xff}, make([]byte, 8)...)
	_, err = NewReader(bytes.NewReader(huge))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errors.New("disk full")
	}
	w.n--
	return len(p), nil
}

func TestRecorder_RecordingFailureDoesNotFailDevice(t *testing.T) {
	conn := fuse.NewConnection(1, fuse.Caller{}, fuse.Options{})
	_, err := fuse.Mount(context.Background(), conn)
	require.NoError(t, err)

	_, err = NewRecorder(conn, &failingWriter{}, RecorderOptions{})
	assert.ErrorIs(t, err, ErrWriteHeader)

	// Header length and body succeed, every frame write fails.
	rec, err := NewRecorder(conn, &failingWriter{n: 2}, RecorderOptions{})
	require.NoError(t, err)
	n, err := rec.Read(make([]byte, 4096))
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestIndex(t *testing.T) {
	data, rec := recordSession(t)
	db, err := OpenIndex(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer db.Close()

	for range 2 {
		r, err := NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		n, err := Index(context.Background(), db, r)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM frames WHERE session = ?`, rec.Session().String()).Scan(&count))
	assert.Equal(t, 3, count)

	var opcode string
	var nodeID int64
	require.NoError(t, db.QueryRow(`SELECT opcode, nodeid FROM frames WHERE dir = 'request'`).Scan(&opcode, &nodeID))
	assert.Equal(t, "INIT", opcode)
	assert.Zero(t, nodeID)

	var rejected int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM frames WHERE rejected IS NOT NULL`).Scan(&rejected))
	assert.Equal(t, 1, rejected)
}
