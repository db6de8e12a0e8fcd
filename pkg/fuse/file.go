package fuse

import (
	"context"
	"errors"
	"io"
	"math"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// File is an open handle on a node.
type File struct {
	fs        *FileSystem
	node      *Node
	fh        uint64
	flags     uint32
	openFlags uint32
	dir       bool
	backing   BackingFile
}

// Open opens n with the given open(2) flags. Directories are opened with
// OPENDIR. If the reply names a registered passthrough file, reads and
// writes go to it directly.
func (fs *FileSystem) Open(ctx context.Context, caller Caller, n *Node, flags uint32) (*File, error) {
	flags &^= uint32(unix.O_CREAT | unix.O_EXCL | unix.O_NOCTTY)
	dir := n.CachedAttributes().IsDir()
	resp, err := fs.conn.Execute(ctx, caller, n.ID, OpenOp{Flags: flags, Dir: dir})
	if err != nil {
		return nil, err
	}
	out, ok := resp.(OpenResponse)
	if !ok {
		return nil, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	f := &File{
		fs:        fs,
		node:      n,
		fh:        out.Out.Fh,
		flags:     flags,
		openFlags: out.Out.OpenFlags,
		dir:       dir,
	}
	if id := out.Out.PassthroughFh; id != 0 {
		if b, ok := fs.conn.takePassthrough(id); ok {
			f.backing = b
		} else {
			fs.logger().Warn("open reply names unknown passthrough id", "nodeid", n.ID, "id", id)
		}
	}
	return f, nil
}

func (f *File) Node() *Node { return f.node }
func (f *File) Handle() uint64 { return f.fh }
func (f *File) OpenFlags() uint32 { return f.openFlags }
func (f *File) Passthrough() bool { return f.backing != nil }

// ReadAt reads up to len(p) bytes at off. A short count without error
// means end of file.
func (f *File) ReadAt(ctx context.Context, caller Caller, p []byte, off int64) (int, error) {
	if f.dir {
		return 0, unix.EISDIR
	}
	if off < 0 {
		return 0, unix.EINVAL
	}
	if f.backing != nil {
		n, err := f.backing.ReadAt(p, off)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return n, err
	}
	size := min(len(p), math.MaxInt32)
	resp, err := f.fs.conn.Execute(ctx, caller, f.node.ID, ReadOp{Fh: f.fh, Offset: uint64(off), Size: uint32(size), Flags: f.flags})
	if err != nil {
		return 0, err
	}
	out, ok := resp.(DataResponse)
	if !ok {
		return 0, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	if len(out.Data) > size {
		return 0, errx.Wrap(ErrMalformedReply, unix.EIO)
	}
	return copy(p, out.Data), nil
}

// WriteAt writes p at off, split into chunks of the negotiated maximum
// write size. It stops at the first short write.
func (f *File) WriteAt(ctx context.Context, caller Caller, p []byte, off int64) (int, error) {
	if f.dir {
		return 0, unix.EISDIR
	}
	if off < 0 {
		return 0, unix.EINVAL
	}
	defer f.node.InvalidateAttributes()
	if f.backing != nil {
		return f.backing.WriteAt(p, off)
	}

	chunk := len(p)
	if cfg, ok := f.fs.conn.Configuration(); ok && cfg.MaxWrite > 0 {
		chunk = min(chunk, int(cfg.MaxWrite))
	}
	written := 0
	for {
		end := min(written+chunk, len(p))
		want := end - written
		resp, err := f.fs.conn.Execute(ctx, caller, f.node.ID, WriteOp{
			Fh:     f.fh,
			Offset: uint64(off) + uint64(written),
			Data:   p[written:end],
			Flags:  f.flags,
		})
		if err != nil {
			return written, err
		}
		out, ok := resp.(WriteResponse)
		if !ok {
			return written, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
		}
		n := int(out.Out.Size)
		if n > want {
			return written, errx.Wrap(ErrMalformedReply, unix.EIO)
		}
		written += n
		if n < want || written >= len(p) {
			break
		}
	}
	return written, nil
}

// Seek computes a new file offset. SEEK_DATA and SEEK_HOLE ask the daemon
// with LSEEK and fall back to treating the file as one data extent when it
// does not implement it.
func (f *File) Seek(ctx context.Context, caller Caller, cur, offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = cur + offset
	case io.SeekEnd:
		a, err := f.node.RefreshIfExpired(ctx, caller)
		if err != nil {
			return 0, err
		}
		pos = int64(a.Size) + offset
	case unix.SEEK_DATA, unix.SEEK_HOLE:
		resp, err := f.fs.conn.Execute(ctx, caller, f.node.ID, LseekOp{Fh: f.fh, Offset: uint64(offset), Whence: uint32(whence)})
		if err == nil {
			out, ok := resp.(LseekResponse)
			if !ok {
				return 0, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
			}
			return int64(out.Out.Offset), nil
		}
		if !errors.Is(err, unix.ENOSYS) {
			return 0, err
		}
		a, err := f.node.RefreshIfExpired(ctx, caller)
		if err != nil {
			return 0, err
		}
		size := int64(a.Size)
		if offset < 0 || offset >= size {
			return 0, unix.ENXIO
		}
		if whence == unix.SEEK_DATA {
			return offset, nil
		}
		return size, nil
	default:
		return 0, unix.EINVAL
	}
	if pos < 0 {
		return 0, unix.EINVAL
	}
	return pos, nil
}

// Poll returns the ready events among events.
func (f *File) Poll(ctx context.Context, caller Caller, events uint32) (uint32, error) {
	resp, err := f.fs.conn.Execute(ctx, caller, f.node.ID, PollOp{Fh: f.fh, Events: events})
	if err != nil {
		return 0, err
	}
	out, ok := resp.(PollResponse)
	if !ok {
		return 0, errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}
	return out.Out.Revents & (events | uint32(unix.POLLERR|unix.POLLHUP)), nil
}

// Flush is sent on every close of a descriptor referring to the file.
func (f *File) Flush(ctx context.Context, caller Caller) error {
	if f.dir {
		return nil
	}
	_, err := f.fs.conn.Execute(ctx, caller, f.node.ID, FlushOp{Fh: f.fh})
	return err
}

// Release closes the handle on the daemon side and prunes passthrough
// registrations whose files have been closed.
func (f *File) Release(ctx context.Context, caller Caller) error {
	_, err := f.fs.conn.Execute(ctx, caller, f.node.ID, ReleaseOp{Fh: f.fh, Flags: f.flags, Dir: f.dir})
	if err != nil {
		f.fs.logger().Error("fuse release failed", "nodeid", f.node.ID, "fh", f.fh, "error", err)
	}
	f.fs.conn.PrunePassthrough()
	return err
}

// DirentSink receives directory entries. An error stops delivery.
type DirentSink interface {
	Add(ino uint64, off int64, typ uint32, name string) error
}

// Readdir reads entries at off into sink. capacity is the reply size to
// ask for; zero selects the configured default. READDIRPLUS is used when
// negotiated (only at offset zero under READDIRPLUS_AUTO) and its entries
// populate the node table.
func (f *File) Readdir(ctx context.Context, caller Caller, off int64, capacity int, sink DirentSink) error {
	if !f.dir {
		return unix.ENOTDIR
	}
	cfg, err := f.fs.conn.WaitConfiguration(ctx)
	if err != nil {
		return err
	}
	plus := cfg.Flags.Has(wire.InitDoReaddirplus) &&
		(!cfg.Flags.Has(wire.InitReaddirplusAuto) || off == 0)

	size := capacity
	if size <= 0 {
		size = f.fs.conn.opts.ReaddirBufferSize
	}
	if plus {
		size = size * 3 / 2
	}
	size = min(size, math.MaxInt32)

	resp, err := f.fs.conn.Execute(ctx, caller, f.node.ID, ReaddirOp{Fh: f.fh, Offset: uint64(off), Size: uint32(size), Plus: plus})
	if err != nil {
		return err
	}
	out, ok := resp.(ReaddirResponse)
	if !ok {
		return errx.Wrap(ErrUnexpectedReply, unix.EINVAL)
	}

	var sinkErr error
	for _, rec := range out.Entries {
		if rec.Entry != nil && rec.Entry.NodeID != 0 {
			if _, err := f.fs.nodeFromEntry(rec.Name, *rec.Entry); err != nil {
				f.fs.logger().Debug("readdirplus entry skipped", "name", rec.Name, "error", err)
			}
		}
		if sinkErr == nil {
			sinkErr = sink.Add(rec.Dirent.Ino, int64(rec.Dirent.Off), rec.Dirent.Type, rec.Name)
		}
	}
	return sinkErr
}
