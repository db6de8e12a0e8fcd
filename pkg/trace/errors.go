package trace

import "errors"

var (
	ErrWriteHeader   = errors.New("write trace header")
	ErrReadHeader    = errors.New("read trace header")
	ErrEncodeFrame   = errors.New("encode frame")
	ErrWriteFrame    = errors.New("write frame")
	ErrDecodeFrame   = errors.New("decode frame")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrTruncated     = errors.New("trace truncated")
	ErrOpenIndex     = errors.New("open trace index")
	ErrIndexFrame    = errors.New("index frame")
)
