package fuse

import (
	"context"
	"errors"
	"testing"
	"time"
	"unsafe"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/jingkaihe/fusebridge/pkg/clock"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

const testTimeout = 5 * time.Second

var testCaller = Caller{UID: 1000, GID: 1000, PID: 42}

// request is one message read from the device by the fake daemon.
type request struct {
	wire.InHeader
	body []byte
}

// fakeDaemon plays the userspace side of a connection from the test
// goroutine. Reply payloads are laid out with go-fuse's structures.
type fakeDaemon struct {
	t    *testing.T
	conn *Connection
}

// next reads one request, waiting for it to be queued.
func (d *fakeDaemon) next() request {
	d.t.Helper()
	e, ch := waiter.NewChannelEntry(waiter.ReadableEvents)
	d.conn.EventRegister(&e)
	defer d.conn.EventUnregister(&e)

	deadline := time.After(testTimeout)
	buf := make([]byte, 1<<20)
	for {
		n, err := d.conn.Read(buf)
		if err == nil {
			hdr := wire.Decode[wire.InHeader](buf[:n])
			require.Equal(d.t, int(hdr.Len), n)
			return request{InHeader: hdr, body: append([]byte(nil), buf[wire.InHeaderSize:n]...)}
		}
		require.ErrorIs(d.t, err, unix.EAGAIN)
		select {
		case <-ch:
		case <-deadline:
			d.t.Fatal("timed out waiting for a request")
		}
	}
}

// expect reads the next request and checks its opcode.
func (d *fakeDaemon) expect(op wire.Opcode) request {
	d.t.Helper()
	req := d.next()
	require.Equal(d.t, op, req.Opcode, "got %s", req.Opcode)
	return req
}

// idle asserts nothing is queued.
func (d *fakeDaemon) idle() {
	d.t.Helper()
	_, err := d.conn.Read(make([]byte, 1<<16))
	require.ErrorIs(d.t, err, unix.EAGAIN)
}

func (d *fakeDaemon) reply(unique uint64, payload []byte) {
	d.t.Helper()
	hdr := gofuse.OutHeader{Length: uint32(wire.OutHeaderSize + len(payload)), Unique: unique}
	msg := append(bytesOf(&hdr), payload...)
	n, err := d.conn.Write(msg)
	require.NoError(d.t, err)
	require.Equal(d.t, len(msg), n)
}

func (d *fakeDaemon) replyError(unique uint64, errno unix.Errno) {
	d.t.Helper()
	hdr := gofuse.OutHeader{Length: wire.OutHeaderSize, Status: -int32(errno), Unique: unique}
	_, err := d.conn.Write(bytesOf(&hdr))
	require.NoError(d.t, err)
}

func (d *fakeDaemon) replyInit(unique uint64, flags wire.InitFlags) {
	d.t.Helper()
	lo, hi := flags.Split()
	out := wire.InitOut{
		Major:    wire.KernelVersion,
		Minor:    wire.KernelMinorVersion,
		Flags:    lo,
		Flags2:   hi,
		MaxWrite: 128 << 10,
	}
	d.reply(unique, wire.AppendStruct(nil, &out))
}

func bytesOf[T any](v *T) []byte {
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))...)
}

func entryOut(nodeID, generation uint64, mode uint32, entryTTL, attrTTL time.Duration) []byte {
	var out gofuse.EntryOut
	out.NodeId = nodeID
	out.Generation = generation
	out.Ino = nodeID
	out.Mode = mode
	out.Nlink = 1
	out.SetEntryTimeout(entryTTL)
	out.SetAttrTimeout(attrTTL)
	return bytesOf(&out)
}

func attrOut(ino uint64, mode uint32, size uint64, ttl time.Duration) []byte {
	var out gofuse.AttrOut
	out.Ino = ino
	out.Mode = mode
	out.Size = size
	out.Nlink = 1
	out.SetTimeout(ttl)
	return bytesOf(&out)
}

// async runs fn on its own goroutine and returns a function that waits for
// its result.
func async[T any](t *testing.T, fn func() (T, error)) func() (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn()
		ch <- outcome{v, err}
	}()
	return func() (T, error) {
		t.Helper()
		select {
		case o := <-ch:
			return o.v, o.err
		case <-time.After(testTimeout):
			t.Fatal("timed out waiting for operation")
			var zero T
			return zero, errors.New("timeout")
		}
	}
}

type testEnv struct {
	conn   *Connection
	fs     *FileSystem
	daemon *fakeDaemon
	clock  *clock.Fake
}

// mount connects a filesystem and completes INIT with flags.
func mount(t *testing.T, flags wire.InitFlags, opts Options) *testEnv {
	t.Helper()
	fake := clock.NewFake(1_000_000)
	opts.Clock = fake
	conn := NewConnection(1, testCaller, opts)
	fs, err := Mount(context.Background(), conn)
	require.NoError(t, err)

	d := &fakeDaemon{t: t, conn: conn}
	req := d.expect(wire.OpInit)
	d.replyInit(req.Unique, flags)
	_, ok := conn.Configuration()
	require.True(t, ok)

	return &testEnv{conn: conn, fs: fs, daemon: d, clock: fake}
}

// lookup resolves name under parent and answers with the given entry.
func (e *testEnv) lookup(t *testing.T, parent *Node, name string, reply []byte) *DirEntry {
	t.Helper()
	wait := async(t, func() (*DirEntry, error) {
		return e.fs.Lookup(context.Background(), testCaller, parent, name)
	})
	req := e.daemon.expect(wire.OpLookup)
	require.Equal(t, parent.ID, req.NodeID)
	require.Equal(t, name+"\x00", string(req.body))
	e.daemon.reply(req.Unique, reply)
	d, err := wait()
	require.NoError(t, err)
	return d
}
