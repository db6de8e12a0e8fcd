package fuse

import "errors"

var (
	ErrShortHeader        = errors.New("fuse: reply shorter than header")
	ErrLengthMismatch     = errors.New("fuse: reply length does not match header")
	ErrNotification       = errors.New("fuse: daemon notifications are not supported")
	ErrUnknownUnique      = errors.New("fuse: reply for unknown request")
	ErrInvalidErrno       = errors.New("fuse: reply carries an invalid error code")
	ErrReadBufferTooSmall = errors.New("fuse: read buffer smaller than message")
	ErrMalformedReply     = errors.New("fuse: malformed reply payload")
	ErrUnexpectedReply    = errors.New("fuse: unexpected reply kind")
	ErrNotConnected       = errors.New("fuse: connection not established")
	ErrDisconnected       = errors.New("fuse: connection closed")
	ErrQueueEmpty         = errors.New("fuse: no pending request")
	ErrMessageTooLarge    = errors.New("fuse: message too large")
	ErrInvalidName        = errors.New("fuse: invalid name")
	ErrUnknownConnection  = errors.New("fuse: unknown connection")
)
