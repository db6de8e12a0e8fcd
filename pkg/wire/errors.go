package wire

import "errors"

var (
	ErrShortBuffer    = errors.New("wire: buffer shorter than structure")
	ErrInvalidDirent  = errors.New("wire: invalid directory entry")
	ErrNameTooLong    = errors.New("wire: name too long")
	ErrNameHasNul     = errors.New("wire: name contains NUL")
	ErrInvalidMessage = errors.New("wire: invalid message")
)
