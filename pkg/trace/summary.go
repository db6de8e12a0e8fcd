package trace

import (
	"fmt"
	"sort"

	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// Summary is the decoded header of a frame.
type Summary struct {
	Seq    uint64
	Dir    Direction
	Len    uint32
	Unique uint64
	// Request only.
	Opcode wire.Opcode
	NodeID uint64
	// Reply only; negative errno.
	Error int32
	// Valid is false when Data is too short for a header.
	Valid bool
	Err   string
}

// Summarize decodes the message header in f.
func Summarize(f Frame) Summary {
	s := Summary{Seq: f.Seq, Dir: f.Dir, Err: f.Err}
	switch f.Dir {
	case Request:
		hdr, err := wire.DecodeExact[wire.InHeader](f.Data)
		if err != nil {
			return s
		}
		s.Len, s.Unique, s.Opcode, s.NodeID, s.Valid = hdr.Len, hdr.Unique, hdr.Opcode, hdr.NodeID, true
	case Reply:
		hdr, err := wire.DecodeExact[wire.OutHeader](f.Data)
		if err != nil {
			return s
		}
		s.Len, s.Unique, s.Error, s.Valid = hdr.Len, hdr.Unique, hdr.Error, true
	}
	return s
}

func (s Summary) String() string {
	if !s.Valid {
		return fmt.Sprintf("#%d %s malformed", s.Seq, s.Dir)
	}
	var line string
	if s.Dir == Request {
		line = fmt.Sprintf("#%d request unique=%d %s nodeid=%d len=%d", s.Seq, s.Unique, s.Opcode, s.NodeID, s.Len)
	} else {
		line = fmt.Sprintf("#%d reply   unique=%d error=%d len=%d", s.Seq, s.Unique, s.Error, s.Len)
	}
	if s.Err != "" {
		line += " rejected: " + s.Err
	}
	return line
}

// OpStats counts traffic for one opcode.
type OpStats struct {
	Opcode   wire.Opcode
	Requests int
	Replies  int
	Errors   int
}

// Stats aggregates a trace. Replies are attributed to the opcode of the
// request with the same unique id.
type Stats struct {
	Frames    int
	Malformed int
	Rejected  int
	// Orphans are accepted replies whose request is not in the trace.
	Orphans int

	ops      map[wire.Opcode]*OpStats
	inFlight map[uint64]wire.Opcode
}

func NewStats() *Stats {
	return &Stats{
		ops:      make(map[wire.Opcode]*OpStats),
		inFlight: make(map[uint64]wire.Opcode),
	}
}

func (st *Stats) op(code wire.Opcode) *OpStats {
	o, ok := st.ops[code]
	if !ok {
		o = &OpStats{Opcode: code}
		st.ops[code] = o
	}
	return o
}

// Add folds f into the totals.
func (st *Stats) Add(f Frame) {
	st.Frames++
	s := Summarize(f)
	switch {
	case !s.Valid:
		st.Malformed++
	case s.Err != "":
		st.Rejected++
	case s.Dir == Request:
		st.op(s.Opcode).Requests++
		if s.Unique != 0 {
			st.inFlight[s.Unique] = s.Opcode
		}
	default:
		code, ok := st.inFlight[s.Unique]
		if !ok {
			st.Orphans++
			return
		}
		delete(st.inFlight, s.Unique)
		o := st.op(code)
		o.Replies++
		if s.Error != 0 {
			o.Errors++
		}
	}
}

// Unanswered is the number of requests still waiting for a reply.
func (st *Stats) Unanswered() int { return len(st.inFlight) }

// Ops returns per-opcode totals ordered by opcode.
func (st *Stats) Ops() []OpStats {
	out := make([]OpStats, 0, len(st.ops))
	for _, o := range st.ops {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Opcode < out[j].Opcode })
	return out
}

// Collect reads every remaining frame of r into a new Stats.
func Collect(r *Reader) (*Stats, error) {
	st := NewStats()
	err := r.Each(func(f Frame) error {
		st.Add(f)
		return nil
	})
	return st, err
}
