package fuse

import "github.com/jingkaihe/fusebridge/pkg/wire"

// Response is a decoded reply. The concrete type is fixed by the operation
// that was sent.
type Response interface {
	response()
}

// NoResponse is returned for operations the daemon does not answer and for
// asynchronous ones.
type NoResponse struct{}

// EmptyResponse is a successful reply without a body.
type EmptyResponse struct{}

type AttrResponse struct {
	Out wire.AttrOut
}

type EntryResponse struct {
	Out wire.EntryOut
}

type CreateResponse struct {
	Entry wire.EntryOut
	Open  wire.OpenOut
}

type InitResponse struct {
	Out wire.InitOut
}

type OpenResponse struct {
	Out wire.OpenOut
}

type PollResponse struct {
	Out wire.PollOut
}

// DataResponse carries READ and READLINK bodies.
type DataResponse struct {
	Data []byte
}

type ReaddirResponse struct {
	Entries []wire.DirentRecord
}

type StatfsResponse struct {
	Out wire.StatfsOut
}

type LseekResponse struct {
	Out wire.LseekOut
}

type WriteResponse struct {
	Out wire.WriteOut
}

// XattrResponse holds either the value or, for a size probe, only its size.
type XattrResponse struct {
	Value    []byte
	Size     uint32
	SizeOnly bool
}

func (NoResponse) response() {}
func (EmptyResponse) response() {}
func (AttrResponse) response() {}
func (EntryResponse) response() {}
func (CreateResponse) response() {}
func (InitResponse) response() {}
func (OpenResponse) response() {}
func (PollResponse) response() {}
func (DataResponse) response() {}
func (ReaddirResponse) response() {}
func (StatfsResponse) response() {}
func (LseekResponse) response() {}
func (WriteResponse) response() {}
func (XattrResponse) response() {}
