package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/jingkaihe/fusebridge/internal/errx"
)

// JSONLWriter writes connection events as JSON lines. It implements Sink
// and is safe for concurrent use.
type JSONLWriter struct {
	mu     sync.Mutex
	out    io.Writer
	closer func() error
	enc    *json.Encoder
}

// NewJSONLWriter appends to the file at path, creating it if needed. The
// parent directory must already exist.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	return &JSONLWriter{
		out: f,
		closer: func() error {
			_ = f.Sync()
			return f.Close()
		},
		enc: json.NewEncoder(f),
	}, nil
}

// NewStreamWriter writes to w. Close does not close w.
func NewStreamWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{
		out:    w,
		closer: func() error { return nil },
		enc:    json.NewEncoder(w),
	}
}

// Write serializes the event as a single JSON line.
func (w *JSONLWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(event); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// Close flushes and closes the underlying file, if any.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.closer(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}
