package fuse

import (
	"cmp"
	"slices"
	"strconv"
	"sync"
	"weak"
)

// Registry tracks the live connections of one host so introspection can
// find them by id. It holds weak references: a connection nobody else
// references drops out.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	conns  map[uint64]weak.Pointer[Connection]
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint64]weak.Pointer[Connection])}
}

// Open creates a connection in StateWaiting with the next id.
func (r *Registry) Open(creds Caller, opts Options) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	c := NewConnection(id, creds, opts)
	r.conns[id] = weak.Make(c)
	return c
}

// Lookup returns the connection with id if it is still referenced.
func (r *Registry) Lookup(id uint64) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	c := wp.Value()
	if c == nil {
		delete(r.conns, id)
		return nil, false
	}
	return c, true
}

// Connections returns the live connections ordered by id.
func (r *Registry) Connections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for id, wp := range r.conns {
		c := wp.Value()
		if c == nil {
			delete(r.conns, id)
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Connection) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Names lists live connection ids in decimal, the fusectl directory names.
func (r *Registry) Names() []string {
	conns := r.Connections()
	names := make([]string, len(conns))
	for i, c := range conns {
		names[i] = strconv.FormatUint(c.id, 10)
	}
	return names
}
