package main

import "errors"

var (
	ErrOpenTrace  = errors.New("open trace")
	ErrReadTrace  = errors.New("read trace")
	ErrIndexTrace = errors.New("index trace")
	ErrEncodeJSON = errors.New("encode json")
)

// errStop ends frame iteration early without reporting a failure.
var errStop = errors.New("stop")
