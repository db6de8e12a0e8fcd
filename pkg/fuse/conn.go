// Package fuse is the kernel side of a FUSE connection: the lifecycle state
// machine, the request/reply multiplexer behind the device file, and the
// attribute and directory-entry caches of the mounted filesystem.
//
// Callers on many goroutines issue operations through Execute. A daemon
// reads requests with Connection.Read and answers with Connection.Write.
package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/logging"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// configurationAvailable is the wait key signalled when INIT completes.
// Unique ids are allocated from 1 upward and never reach it.
const configurationAvailable = math.MaxUint64

// Caller identifies the task on whose behalf a request is made. The values
// are copied into the request header.
type Caller struct {
	UID uint32
	GID uint32
	PID uint32
}

// message is one queued request, already framed.
type message struct {
	header wire.InHeader
	frame  []byte
}

type result struct {
	resp Response
	err  error
}

// pendingOp is a request awaiting its reply. result is nil while in flight.
type pendingOp struct {
	kind   pendingKind
	result *result
}

// Connection multiplexes requests from many callers over one daemon
// channel. All state is guarded by mu.
type Connection struct {
	id     uint64
	creds  Caller
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	state        ConnState
	lastUnique   uint64
	config       *Configuration
	queue        []*message
	pending      map[uint64]*pendingOp
	waiters      waitQueue
	shortCircuit map[wire.Opcode]memoized
	noCreate     bool
	passthrough  passthroughTable

	events waiter.Queue
}

// NewConnection returns a connection in StateWaiting. Most hosts create
// connections through a Registry instead.
func NewConnection(id uint64, creds Caller, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		id:           id,
		creds:        creds,
		opts:         opts,
		logger:       opts.Logger.With("conn", id),
		pending:      make(map[uint64]*pendingOp),
		shortCircuit: make(map[wire.Opcode]memoized),
	}
}

func (c *Connection) ID() uint64 { return c.id }

// Creds returns the credentials of the task that opened the device.
func (c *Connection) Creds() Caller { return c.creds }

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Configuration returns the INIT outcome if the handshake has completed.
func (c *Connection) Configuration() (Configuration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config == nil {
		return Configuration{}, false
	}
	return *c.config, true
}

// WaitConfiguration blocks until INIT completes, the connection stops being
// connected (ECONNABORTED) or ctx is done (EINTR).
func (c *Connection) WaitConfiguration(ctx context.Context) (Configuration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.waitConfigurationLocked(ctx); err != nil {
		return Configuration{}, err
	}
	return *c.config, nil
}

// Connect moves a waiting connection to connected. Calling it in any other
// state is a programming error.
func (c *Connection) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateWaiting {
		panic(fmt.Sprintf("fuse: connect on %s connection %d", c.state, c.id))
	}
	c.state = StateConnected
	c.emit(logging.EventConnectionState, "connected", nil, &logging.ConnectionStateData{
		From: StateWaiting.String(),
		To:   StateConnected.String(),
	})
}

// Disconnect closes the connection. Every in-flight request fails with
// ECONNABORTED, queued requests are dropped and all waiters wake. Later
// calls do nothing.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = StateDisconnected
	c.queue = nil
	aborted := 0
	for _, op := range c.pending {
		if op.result == nil {
			aborted++
		}
		op.result = &result{err: unix.ECONNABORTED}
	}
	c.waiters.notifyAll()
	c.emit(logging.EventConnectionState, "disconnected", nil, &logging.ConnectionStateData{
		From:    from.String(),
		To:      StateDisconnected.String(),
		Aborted: aborted,
	})
	c.mu.Unlock()

	c.events.Notify(waiter.EventIn | waiter.EventErr | waiter.EventHUp)
}

// Abort is the fusectl "abort" action.
func (c *Connection) Abort() { c.Disconnect() }

// Waiting returns the number of requests the daemon has not answered:
// those still queued plus those read but not replied to.
func (c *Connection) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	inFlight := 0
	for _, op := range c.pending {
		if op.result == nil {
			inFlight++
		}
	}
	for _, m := range c.queue {
		if _, ok := c.pending[m.header.Unique]; ok {
			inFlight--
		}
	}
	return inFlight + len(c.queue)
}

// Execute sends op on behalf of caller against nodeID and waits for the
// reply.
//
// If ctx is done while the request is still queued it is withdrawn and
// EINTR returned. If the daemon already read it, one INTERRUPT is sent and
// Execute keeps waiting, without ctx, for the reply or for disconnection.
func (c *Connection) Execute(ctx context.Context, caller Caller, nodeID uint64, op Operation) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if op.Opcode() != wire.OpInit {
		if err := c.waitConfigurationLocked(ctx); err != nil {
			return nil, err
		}
	}
	if m, ok := c.shortCircuit[op.Opcode()]; ok {
		return m.resp, m.err
	}

	unique, err := c.queueLocked(caller, nodeID, op)
	if err != nil {
		return nil, err
	}
	kind := op.pending()
	if kind == nil || isAsync(kind) {
		return NoResponse{}, nil
	}
	return c.awaitLocked(ctx, caller, unique)
}

func (c *Connection) waitConfigurationLocked(ctx context.Context) error {
	for c.config == nil {
		if c.state != StateConnected {
			return unix.ECONNABORTED
		}
		ch := c.waiters.wait(configurationAvailable)
		c.mu.Unlock()
		select {
		case <-ch:
			c.mu.Lock()
		case <-ctx.Done():
			c.mu.Lock()
			c.waiters.cancel(configurationAvailable, ch)
			return unix.EINTR
		}
	}
	return nil
}

// queueLocked frames op and appends it to the queue. Operations that
// expect a reply get a pending entry.
func (c *Connection) queueLocked(caller Caller, nodeID uint64, op Operation) (uint64, error) {
	if c.state != StateConnected {
		return 0, unix.ECONNABORTED
	}
	payload := op.appendPayload(make([]byte, wire.InHeaderSize, wire.InHeaderSize+64))
	if uint64(len(payload)) > math.MaxUint32 {
		return 0, errx.Wrap(ErrMessageTooLarge, unix.EINVAL)
	}

	c.lastUnique++
	hdr := wire.InHeader{
		Len:    uint32(len(payload)),
		Opcode: op.Opcode(),
		Unique: c.lastUnique,
		NodeID: nodeID,
		UID:    caller.UID,
		GID:    caller.GID,
		PID:    caller.PID,
	}
	copy(payload, wire.AppendStruct(nil, &hdr))

	if kind := op.pending(); kind != nil {
		c.pending[hdr.Unique] = &pendingOp{kind: kind}
	}
	c.queue = append(c.queue, &message{header: hdr, frame: payload})
	c.logger.Debug("fuse request", "opcode", hdr.Opcode, "unique", hdr.Unique, "nodeid", nodeID, "len", hdr.Len)
	c.events.Notify(waiter.ReadableEvents)
	return hdr.Unique, nil
}

func (c *Connection) awaitLocked(ctx context.Context, caller Caller, unique uint64) (Response, error) {
	done := ctx.Done()
	for {
		if res, ok := c.takeResultLocked(unique); ok {
			return res.resp, res.err
		}
		ch := c.waiters.wait(unique)
		c.mu.Unlock()
		interrupted := false
		select {
		case <-ch:
		case <-done:
			interrupted = true
		}
		c.mu.Lock()
		if !interrupted {
			continue
		}
		c.waiters.cancel(unique, ch)
		if res, ok := c.takeResultLocked(unique); ok {
			return res.resp, res.err
		}
		done = nil
		if err := c.interruptLocked(caller, unique); err != nil {
			return nil, err
		}
	}
}

// takeResultLocked removes and returns the reply for unique if it arrived.
func (c *Connection) takeResultLocked(unique uint64) (result, bool) {
	op, ok := c.pending[unique]
	if !ok {
		return result{err: unix.EINVAL}, true
	}
	if op.result == nil {
		return result{}, false
	}
	delete(c.pending, unique)
	return *op.result, true
}

// interruptLocked withdraws unique if the daemon has not read it yet
// (returning EINTR) and otherwise queues an INTERRUPT for it.
func (c *Connection) interruptLocked(caller Caller, unique uint64) error {
	if i := slices.IndexFunc(c.queue, func(m *message) bool { return m.header.Unique == unique }); i >= 0 {
		c.queue = slices.Delete(c.queue, i, i+1)
		delete(c.pending, unique)
		return unix.EINTR
	}
	if c.state != StateConnected {
		return nil
	}
	op := c.pending[unique].kind.opcode()
	sent, err := c.queueLocked(caller, 0, InterruptOp{Unique: unique})
	if err != nil {
		return err
	}
	c.emit(logging.EventInterruptSent, "interrupt "+op.String(), nil, &logging.InterruptData{
		Unique:    sent,
		Interrupt: unique,
		Opcode:    op.String(),
	})
	return nil
}

// createUnsupported reports whether CREATE was answered with ENOSYS before.
func (c *Connection) createUnsupported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noCreate
}

func (c *Connection) markCreateUnsupported() {
	c.mu.Lock()
	c.noCreate = true
	c.mu.Unlock()
}

func (c *Connection) emit(eventType, summary string, tags []string, data interface{}) {
	if err := c.opts.Emitter.Emit(eventType, summary, c.id, tags, data); err != nil {
		c.logger.Warn("emit event failed", "event_type", eventType, "error", err)
	}
}
