package trace

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/version"
)

// Device is the daemon's view of a FUSE connection. *fuse.Connection
// satisfies it.
type Device interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

type RecorderOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Recorder is a Device that forwards to another and appends every
// successful read and every write attempt to a trace. Failing to record
// never fails the transfer.
type Recorder struct {
	dev     Device
	session uuid.UUID
	logger  *slog.Logger
	now     func() time.Time

	mu  sync.Mutex
	out io.Writer
	seq uint64
}

// NewRecorder writes the trace header to out and returns a recorder for
// dev.
func NewRecorder(dev Device, out io.Writer, opts RecorderOptions) (*Recorder, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Recorder{
		dev:     dev,
		session: uuid.New(),
		logger:  opts.Logger,
		now:     opts.Now,
		out:     out,
	}
	hdr := Header{Session: r.session, Version: version.Version, Started: opts.Now().UTC()}
	if err := writeRecord(out, &hdr); err != nil {
		return nil, errx.Wrap(ErrWriteHeader, err)
	}
	return r, nil
}

func (r *Recorder) Session() uuid.UUID { return r.session }

func (r *Recorder) Read(p []byte) (int, error) {
	n, err := r.dev.Read(p)
	if err == nil {
		r.record(Request, p[:n], nil)
	}
	return n, err
}

func (r *Recorder) Write(p []byte) (int, error) {
	n, err := r.dev.Write(p)
	r.record(Reply, p, err)
	return n, err
}

func (r *Recorder) record(dir Direction, data []byte, devErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	f := Frame{
		Seq:  r.seq,
		Dir:  dir,
		Time: r.now().UTC(),
		Data: bytes.Clone(data),
	}
	if devErr != nil {
		f.Err = devErr.Error()
	}
	if err := writeRecord(r.out, &f); err != nil {
		r.logger.Warn("trace frame dropped", "seq", f.Seq, "dir", dir.String(), "error", err)
	}
}
