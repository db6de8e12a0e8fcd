package fuse

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// open looks up name with mode and size and opens it, answering OPEN with
// out.
func (e *testEnv) open(t *testing.T, name string, mode uint32, size uint64, out gofuse.OpenOut) *File {
	t.Helper()
	var entry wire.EntryOut
	entry.NodeID = 30
	entry.Attr.Ino = 30
	entry.Attr.Mode = mode
	entry.Attr.Size = size
	entry.EntryValid = 3600
	entry.AttrValid = 3600
	d := e.lookup(t, e.fs.Root(), name, wire.AppendStruct(nil, &entry))

	wait := async(t, func() (*File, error) {
		return e.fs.Open(context.Background(), testCaller, d.Node, unix.O_RDWR|unix.O_CREAT)
	})
	op := wire.OpOpen
	if mode&unix.S_IFMT == unix.S_IFDIR {
		op = wire.OpOpendir
	}
	req := e.daemon.expect(op)
	assert.Equal(t, uint32(unix.O_RDWR), wire.Decode[wire.OpenIn](req.body).Flags)
	e.daemon.reply(req.Unique, bytesOf(&out))
	f, err := wait()
	require.NoError(t, err)
	return f
}

func TestFile_ReadAt(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 0, gofuse.OpenOut{Fh: 4, OpenFlags: 1})
	assert.Equal(t, uint64(4), f.Handle())
	assert.Equal(t, uint32(1), f.OpenFlags())
	assert.False(t, f.Passthrough())

	buf := make([]byte, 10)
	wait := async(t, func() (int, error) {
		return f.ReadAt(context.Background(), testCaller, buf, 100)
	})
	req := env.daemon.expect(wire.OpRead)
	in := wire.Decode[wire.ReadIn](req.body)
	assert.Equal(t, uint64(4), in.Fh)
	assert.Equal(t, uint64(100), in.Offset)
	assert.Equal(t, uint32(10), in.Size)
	env.daemon.reply(req.Unique, []byte("abc"))

	n, err := wait()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	_, err = f.ReadAt(context.Background(), testCaller, buf, -1)
	assert.ErrorIs(t, err, unix.EINVAL)
}

func TestFile_WriteAtChunks(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 0, gofuse.OpenOut{Fh: 4})

	data := make([]byte, 300<<10)
	wait := async(t, func() (int, error) {
		return f.WriteAt(context.Background(), testCaller, data, 10)
	})

	offset := uint64(10)
	for _, want := range []int{128 << 10, 128 << 10, 44 << 10} {
		req := env.daemon.expect(wire.OpWrite)
		in := wire.Decode[wire.WriteIn](req.body)
		assert.Equal(t, uint32(want), in.Size)
		assert.Equal(t, offset, in.Offset)
		assert.Len(t, req.body, wire.SizeOf[wire.WriteIn]()+want)
		out := gofuse.WriteOut{Size: uint32(want)}
		env.daemon.reply(req.Unique, bytesOf(&out))
		offset += uint64(want)
	}

	n, err := wait()
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.False(t, f.Node().AttributesValid())
}

func TestFile_WriteAtStopsOnShortWrite(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 0, gofuse.OpenOut{Fh: 4})

	wait := async(t, func() (int, error) {
		return f.WriteAt(context.Background(), testCaller, make([]byte, 200<<10), 0)
	})
	req := env.daemon.expect(wire.OpWrite)
	out := gofuse.WriteOut{Size: 1000}
	env.daemon.reply(req.Unique, bytesOf(&out))

	n, err := wait()
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	env.daemon.idle()
}

func TestFile_Seek(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 100, gofuse.OpenOut{Fh: 4})
	ctx := context.Background()

	pos, err := f.Seek(ctx, testCaller, 0, 5, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos)
	pos, err = f.Seek(ctx, testCaller, 5, 5, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)
	pos, err = f.Seek(ctx, testCaller, 0, -10, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(90), pos)
	_, err = f.Seek(ctx, testCaller, 0, -1, io.SeekStart)
	assert.ErrorIs(t, err, unix.EINVAL)
	_, err = f.Seek(ctx, testCaller, 0, 0, 42)
	assert.ErrorIs(t, err, unix.EINVAL)
	env.daemon.idle()
}

func TestFile_SeekDataHole(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 100, gofuse.OpenOut{Fh: 4})
	ctx := context.Background()

	wait := async(t, func() (int64, error) {
		return f.Seek(ctx, testCaller, 0, 10, unix.SEEK_HOLE)
	})
	req := env.daemon.expect(wire.OpLseek)
	in := wire.Decode[wire.LseekIn](req.body)
	assert.Equal(t, uint32(unix.SEEK_HOLE), in.Whence)
	assert.Equal(t, uint64(10), in.Offset)
	out := gofuse.LseekOut{Offset: 64}
	env.daemon.reply(req.Unique, bytesOf(&out))
	pos, err := wait()
	require.NoError(t, err)
	assert.Equal(t, int64(64), pos)

	wait = async(t, func() (int64, error) {
		return f.Seek(ctx, testCaller, 0, 10, unix.SEEK_DATA)
	})
	req = env.daemon.expect(wire.OpLseek)
	env.daemon.replyError(req.Unique, unix.ENOSYS)
	pos, err = wait()
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)

	// LSEEK is not sent again once the daemon said it lacks it.
	tests := []struct {
		name   string
		offset int64
		whence int
		want   int64
		err    error
	}{
		{"data", 20, unix.SEEK_DATA, 20, nil},
		{"hole", 20, unix.SEEK_HOLE, 100, nil},
		{"past end", 100, unix.SEEK_DATA, 0, unix.ENXIO},
		{"negative", -1, unix.SEEK_HOLE, 0, unix.ENXIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := f.Seek(ctx, testCaller, 0, tt.offset, tt.whence)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pos)
		})
	}
	env.daemon.idle()
}

func TestFile_PollShortCircuit(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 0, gofuse.OpenOut{Fh: 4})
	ctx := context.Background()

	wait := async(t, func() (uint32, error) {
		return f.Poll(ctx, testCaller, unix.POLLIN)
	})
	req := env.daemon.expect(wire.OpPoll)
	assert.Equal(t, uint32(unix.POLLIN), wire.Decode[wire.PollIn](req.body).Events)
	env.daemon.replyError(req.Unique, unix.ENOSYS)
	revents, err := wait()
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.POLLIN), revents)

	revents, err = f.Poll(ctx, testCaller, unix.POLLIN|unix.POLLOUT)
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.POLLIN|unix.POLLOUT), revents)
	env.daemon.idle()
}

func TestFile_FlushAndRelease(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 0, gofuse.OpenOut{Fh: 4})
	ctx := context.Background()

	wait := async(t, func() (struct{}, error) { return struct{}{}, f.Flush(ctx, testCaller) })
	req := env.daemon.expect(wire.OpFlush)
	assert.Equal(t, uint64(4), wire.Decode[wire.FlushIn](req.body).Fh)
	env.daemon.replyError(req.Unique, unix.ENOSYS)
	_, err := wait()
	require.NoError(t, err)

	require.NoError(t, f.Flush(ctx, testCaller))
	env.daemon.idle()

	wait = async(t, func() (struct{}, error) { return struct{}{}, f.Release(ctx, testCaller) })
	req = env.daemon.expect(wire.OpRelease)
	in := wire.Decode[wire.ReleaseIn](req.body)
	assert.Equal(t, uint64(4), in.Fh)
	assert.Equal(t, uint32(unix.O_RDWR), in.Flags)
	env.daemon.reply(req.Unique, nil)
	_, err = wait()
	require.NoError(t, err)
}

func TestFile_Directory(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "d", unix.S_IFDIR|0o755, 0, gofuse.OpenOut{Fh: 8})
	ctx := context.Background()

	_, err := f.ReadAt(ctx, testCaller, make([]byte, 1), 0)
	assert.ErrorIs(t, err, unix.EISDIR)
	_, err = f.WriteAt(ctx, testCaller, []byte("x"), 0)
	assert.ErrorIs(t, err, unix.EISDIR)
	require.NoError(t, f.Flush(ctx, testCaller))
	env.daemon.idle()

	wait := async(t, func() (struct{}, error) { return struct{}{}, f.Release(ctx, testCaller) })
	req := env.daemon.expect(wire.OpReleasedir)
	env.daemon.reply(req.Unique, nil)
	_, err = wait()
	require.NoError(t, err)
}

type collectSink struct {
	names []string
	offs  []int64
	limit int
}

var errSinkFull = errors.New("sink full")

func (s *collectSink) Add(ino uint64, off int64, typ uint32, name string) error {
	if s.limit > 0 && len(s.names) == s.limit {
		return errSinkFull
	}
	s.names = append(s.names, name)
	s.offs = append(s.offs, off)
	return nil
}

func direntPayload(plus bool, names ...string) []byte {
	var buf []byte
	for i, name := range names {
		var entry *wire.EntryOut
		if plus {
			entry = &wire.EntryOut{NodeID: uint64(100 + i), AttrValid: 60}
			entry.Attr.Ino = uint64(100 + i)
			entry.Attr.Mode = unix.S_IFREG | 0o644
		}
		d := wire.Dirent{Ino: uint64(100 + i), Off: uint64(i + 1), Type: unix.DT_REG}
		buf = wire.AppendDirent(buf, entry, d, name)
	}
	return buf
}

func TestFile_Readdir(t *testing.T) {
	tests := []struct {
		name     string
		flags    wire.InitFlags
		offset   int64
		capacity int
		op       wire.Opcode
		size     uint32
	}{
		{"plain", 0, 0, 0, wire.OpReaddir, 4096},
		{"plain with capacity", 0, 0, 1024, wire.OpReaddir, 1024},
		{"plus", wire.InitDoReaddirplus, 3, 0, wire.OpReaddirplus, 6144},
		{"auto at start", wire.InitDoReaddirplus | wire.InitReaddirplusAuto, 0, 0, wire.OpReaddirplus, 6144},
		{"auto later", wire.InitDoReaddirplus | wire.InitReaddirplusAuto, 3, 0, wire.OpReaddir, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := mount(t, tt.flags, Options{})
			f := env.open(t, "d", unix.S_IFDIR|0o755, 0, gofuse.OpenOut{Fh: 8})

			sink := &collectSink{}
			wait := async(t, func() (struct{}, error) {
				return struct{}{}, f.Readdir(context.Background(), testCaller, tt.offset, tt.capacity, sink)
			})
			req := env.daemon.expect(tt.op)
			in := wire.Decode[wire.ReadIn](req.body)
			assert.Equal(t, uint64(8), in.Fh)
			assert.Equal(t, uint64(tt.offset), in.Offset)
			assert.Equal(t, tt.size, in.Size)
			plus := tt.op == wire.OpReaddirplus
			env.daemon.reply(req.Unique, direntPayload(plus, "a", "b"))

			_, err := wait()
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, sink.names)
			assert.Equal(t, []int64{1, 2}, sink.offs)

			n, ok := env.fs.Node(101)
			assert.Equal(t, plus, ok)
			if plus {
				assert.True(t, n.AttributesValid())
				assert.Equal(t, uint64(1), n.nlookup.Load())
			}
		})
	}
}

func TestFile_ReaddirSinkError(t *testing.T) {
	env := mount(t, wire.InitDoReaddirplus, Options{})
	f := env.open(t, "d", unix.S_IFDIR|0o755, 0, gofuse.OpenOut{Fh: 8})

	sink := &collectSink{limit: 1}
	wait := async(t, func() (struct{}, error) {
		return struct{}{}, f.Readdir(context.Background(), testCaller, 0, 0, sink)
	})
	req := env.daemon.expect(wire.OpReaddirplus)
	env.daemon.reply(req.Unique, direntPayload(true, "a", "b", "c"))

	_, err := wait()
	assert.ErrorIs(t, err, errSinkFull)
	assert.Equal(t, []string{"a"}, sink.names)
	for _, id := range []uint64{100, 101, 102} {
		_, ok := env.fs.Node(id)
		assert.True(t, ok, "node %d", id)
	}
}

func TestFile_ReaddirRejectsBadNames(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "d", unix.S_IFDIR|0o755, 0, gofuse.OpenOut{Fh: 8})

	wait := async(t, func() (struct{}, error) {
		return struct{}{}, f.Readdir(context.Background(), testCaller, 0, 0, &collectSink{})
	})
	req := env.daemon.expect(wire.OpReaddir)
	_, err := env.conn.Write(append(wire.AppendStruct(nil, &wire.OutHeader{
		Len:    uint32(wire.OutHeaderSize + len(direntPayload(false, "a/b"))),
		Unique: req.Unique,
	}), direntPayload(false, "a/b")...))
	assert.ErrorIs(t, err, unix.EIO)

	env.daemon.replyError(req.Unique, unix.EIO)
	_, err = wait()
	assert.ErrorIs(t, err, unix.EIO)
}

func TestFile_ReaddirNotDirectory(t *testing.T) {
	env := mount(t, 0, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 0, gofuse.OpenOut{Fh: 4})
	err := f.Readdir(context.Background(), testCaller, 0, 0, &collectSink{})
	assert.ErrorIs(t, err, unix.ENOTDIR)
}

func TestFile_Passthrough(t *testing.T) {
	env := mount(t, wire.InitPassthrough, Options{})
	path := filepath.Join(t.TempDir(), "backing")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))
	osf, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	backing := NewOSBackingFile(osf)

	id := env.conn.RegisterPassthrough(backing)
	f := env.open(t, "f", unix.S_IFREG|0o644, 11, gofuse.OpenOut{Fh: 4, BackingID: int32(id)})
	require.True(t, f.Passthrough())

	buf := make([]byte, 32)
	n, err := f.ReadAt(context.Background(), testCaller, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	n, err = f.WriteAt(context.Background(), testCaller, []byte("HELLO"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	env.daemon.idle()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HELLO world", string(content))

	// The id was consumed by the open.
	_, ok := env.conn.takePassthrough(id)
	assert.False(t, ok)
	require.NoError(t, backing.Close())
}

func TestFile_UnknownPassthroughID(t *testing.T) {
	env := mount(t, wire.InitPassthrough, Options{})
	f := env.open(t, "f", unix.S_IFREG|0o644, 0, gofuse.OpenOut{Fh: 4, BackingID: 99})
	assert.False(t, f.Passthrough())
}

func TestAttributesUsedForOpenKind(t *testing.T) {
	env := mount(t, 0, Options{})
	d := env.lookup(t, env.fs.Root(), "d", entryOut(40, 0, unix.S_IFDIR|0o755, time.Hour, time.Hour))
	wait := async(t, func() (*File, error) {
		return env.fs.Open(context.Background(), testCaller, d.Node, unix.O_RDONLY)
	})
	req := env.daemon.expect(wire.OpOpendir)
	env.daemon.replyError(req.Unique, unix.EACCES)
	_, err := wait()
	assert.ErrorIs(t, err, unix.EACCES)
}
