package fuse

import (
	"io"
	"os"
	"sync/atomic"
	"weak"
)

// BackingFile is what an open File redirects its reads and writes to once
// the daemon attaches a passthrough registration to it.
type BackingFile interface {
	io.ReaderAt
	io.WriterAt
}

// passthroughTable maps registration ids to weakly held backing files. Ids
// are never 0 and are allocated by linear probing from the last id handed
// out. The table never keeps a file alive on its own.
type passthroughTable struct {
	lastID  uint32
	entries map[uint32]weak.Pointer[OSBackingFile]
}

func (t *passthroughTable) register(f *OSBackingFile) uint32 {
	if t.entries == nil {
		t.entries = make(map[uint32]weak.Pointer[OSBackingFile])
	}
	id := t.lastID + 1
	for {
		if _, used := t.entries[id]; id != 0 && !used {
			break
		}
		id++
	}
	t.entries[id] = weak.Make(f)
	t.lastID = id
	return id
}

// take removes the entry for id and returns a strong reference to its file.
// An entry whose file has been collected or closed is treated as unknown.
func (t *passthroughTable) take(id uint32) (*OSBackingFile, bool) {
	wp, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	f := wp.Value()
	if f == nil || f.Closed() {
		return nil, false
	}
	return f, true
}

func (t *passthroughTable) prune() {
	for id, wp := range t.entries {
		if f := wp.Value(); f == nil || f.Closed() {
			delete(t.entries, id)
		}
	}
}

// RegisterPassthrough records a weak reference to f and returns the id the
// daemon puts in an OPEN reply to attach it to the opened file. The caller
// must keep f reachable until then.
func (c *Connection) RegisterPassthrough(f *OSBackingFile) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passthrough.register(f)
}

// PrunePassthrough forgets registrations whose file has been closed or
// garbage collected.
func (c *Connection) PrunePassthrough() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passthrough.prune()
}

func (c *Connection) takePassthrough(id uint32) (BackingFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.passthrough.take(id)
	if !ok {
		return nil, false
	}
	return f, true
}

// OSBackingFile adapts an *os.File to BackingFile.
type OSBackingFile struct {
	*os.File
	closed atomic.Bool
}

func NewOSBackingFile(f *os.File) *OSBackingFile {
	return &OSBackingFile{File: f}
}

func (f *OSBackingFile) Close() error {
	f.closed.Store(true)
	return f.File.Close()
}

func (f *OSBackingFile) Closed() bool { return f.closed.Load() }
