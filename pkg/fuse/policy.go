package fuse

import (
	"golang.org/x/sys/unix"

	"github.com/jingkaihe/fusebridge/pkg/logging"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// memoized is a remembered outcome returned for every later call of the
// same opcode without contacting the daemon.
type memoized struct {
	resp Response
	err  error
}

// enosysOutcome gives the outcome remembered when the daemon answers op
// with ENOSYS. Only four opcodes have one.
func enosysOutcome(op wire.Opcode) (memoized, string, bool) {
	switch op {
	case wire.OpAccess:
		return memoized{resp: EmptyResponse{}}, "success", true
	case wire.OpFlush:
		return memoized{resp: EmptyResponse{}}, "noop", true
	case wire.OpLseek:
		return memoized{err: unix.ENOSYS}, "error", true
	case wire.OpPoll:
		return memoized{resp: PollResponse{Out: wire.PollOut{Revents: uint32(unix.POLLIN | unix.POLLOUT)}}}, "ready", true
	default:
		return memoized{}, "", false
	}
}

// applyErrorLocked turns an error reply into the caller's outcome. ENOSYS
// on a short-circuitable opcode is memoized for the connection's lifetime.
func (c *Connection) applyErrorLocked(k pendingKind, errno unix.Errno) (Response, error) {
	op := k.opcode()
	if errno == unix.ENOSYS {
		if m, result, ok := enosysOutcome(op); ok {
			c.shortCircuit[op] = m
			c.emit(logging.EventShortCircuit, op.String()+" not implemented by daemon", []string{"policy"}, &logging.ShortCircuitData{
				Opcode: op.String(),
				Errno:  errno.Error(),
				Result: result,
			})
			return m.resp, m.err
		}
	}
	return nil, errno
}

// errnoFromCode maps a reply's negated error field to an errno. Values
// outside (0, MaxErrno] become EINVAL.
func errnoFromCode(code int64) unix.Errno {
	if code <= 0 || code > wire.MaxErrno {
		return unix.EINVAL
	}
	return unix.Errno(code)
}
