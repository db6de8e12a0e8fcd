package fuse

import (
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/logging"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// Read hands the oldest queued request to the daemon. It never blocks:
// EAGAIN means the queue is empty and the daemon should wait on
// EventRegister. A buffer too small for the request fails with EINVAL and
// leaves the request queued.
func (c *Connection) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateWaiting:
		return 0, errx.Wrap(ErrNotConnected, unix.EPERM)
	case StateDisconnected:
		return 0, errx.Wrap(ErrDisconnected, unix.ENODEV)
	}
	if len(c.queue) == 0 {
		return 0, errx.Wrap(ErrQueueEmpty, unix.EAGAIN)
	}
	m := c.queue[0]
	if len(p) < len(m.frame) {
		return 0, errx.Wrap(ErrReadBufferTooSmall, unix.EINVAL)
	}
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return copy(p, m.frame), nil
}

// Write accepts one reply from the daemon and returns the number of bytes
// consumed. Malformed replies are rejected with an errno and leave the
// connection state unchanged.
func (c *Connection) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateWaiting:
		return 0, errx.Wrap(ErrNotConnected, unix.EPERM)
	case StateDisconnected:
		return 0, errx.Wrap(ErrDisconnected, unix.ENODEV)
	}

	hdr, err := wire.DecodeExact[wire.OutHeader](p)
	if err != nil {
		return 0, errx.Wrap(ErrShortHeader, unix.EINVAL)
	}
	if hdr.Len < wire.OutHeaderSize || int(hdr.Len) > len(p) {
		return 0, c.protocolErrorLocked(hdr.Unique, nil, fmt.Sprintf("header length %d, buffer %d", hdr.Len, len(p)),
			errx.Wrap(ErrLengthMismatch, unix.EINVAL))
	}
	if hdr.Unique == 0 {
		return 0, errx.Wrap(ErrNotification, unix.ENOTSUP)
	}
	op, ok := c.pending[hdr.Unique]
	if !ok || op.result != nil {
		return 0, c.protocolErrorLocked(hdr.Unique, nil, "no request in flight", errx.Wrap(ErrUnknownUnique, unix.EINVAL))
	}
	if hdr.Error > 0 {
		return 0, c.protocolErrorLocked(hdr.Unique, op.kind, fmt.Sprintf("positive error %d", hdr.Error),
			errx.Wrap(ErrInvalidErrno, unix.EINVAL))
	}

	var res result
	if hdr.Error != 0 {
		res.resp, res.err = c.applyErrorLocked(op.kind, errnoFromCode(-int64(hdr.Error)))
	} else {
		res.resp, res.err = decodeResponse(op.kind, p[wire.OutHeaderSize:hdr.Len])
		if res.err != nil {
			return 0, c.protocolErrorLocked(hdr.Unique, op.kind, res.err.Error(), res.err)
		}
	}
	c.logger.Debug("fuse response", "opcode", op.kind.opcode(), "unique", hdr.Unique, "error", hdr.Error)

	if isAsync(op.kind) {
		delete(c.pending, hdr.Unique)
		if res.err != nil {
			c.logger.Error("fuse init failed", "error", res.err)
			return int(hdr.Len), nil
		}
		c.completeInitLocked(op.kind.(initKind), res.resp.(InitResponse).Out)
		return int(hdr.Len), nil
	}

	op.result = &res
	c.waiters.notify(hdr.Unique)
	return int(hdr.Len), nil
}

func (c *Connection) completeInitLocked(k initKind, out wire.InitOut) {
	cfg, unknown := newConfiguration(out)
	if unknown != 0 {
		c.logger.Warn("fuse init reply has unsupported flags", "flags", unknown)
	}
	if cfg.Flags.Has(wire.InitPosixACL) && k.fs != nil {
		k.fs.defaultPermissions.Store(true)
	}
	c.config = &cfg
	c.waiters.notify(configurationAvailable)
	c.emit(logging.EventInitNegotiated, fmt.Sprintf("protocol %d.%d", cfg.Major, cfg.Minor), nil, &logging.InitNegotiatedData{
		Major:    cfg.Major,
		Minor:    cfg.Minor,
		Flags:    cfg.Flags.String(),
		Unknown:  uint64(unknown),
		MaxWrite: cfg.MaxWrite,
	})
}

func (c *Connection) protocolErrorLocked(unique uint64, k pendingKind, reason string, err error) error {
	data := &logging.ProtocolErrorData{Unique: unique, Reason: reason}
	if k != nil {
		data.Opcode = k.opcode().String()
	}
	c.emit(logging.EventProtocolError, "rejected daemon reply", nil, data)
	return err
}

// Readiness reports the device's poll state: always writable, readable when
// a request is queued, and readable with an error once not connected.
func (c *Connection) Readiness() waiter.EventMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	mask := waiter.EventOut
	if c.state != StateConnected {
		return mask | waiter.EventIn | waiter.EventErr
	}
	if len(c.queue) > 0 {
		mask |= waiter.EventIn
	}
	return mask
}

// EventRegister subscribes e to readiness changes. Callbacks run with the
// connection locked and must not call back into it.
func (c *Connection) EventRegister(e *waiter.Entry) {
	c.events.EventRegister(e)
}

func (c *Connection) EventUnregister(e *waiter.Entry) {
	c.events.EventUnregister(e)
}
