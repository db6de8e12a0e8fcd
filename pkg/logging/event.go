package logging

import (
	"encoding/json"
	"time"
)

// Event is one structured record about a connection's lifecycle or a
// protocol decision.
// Required fields: Timestamp, Source, ConnID, EventType, Summary.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	Source    string          `json:"source"`
	ConnID    uint64          `json:"conn_id"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	EventConnectionState = "connection_state"
	EventShortCircuit    = "short_circuit"
	EventInitNegotiated  = "init_negotiated"
	EventProtocolError   = "protocol_error"
	EventInterruptSent   = "interrupt_sent"
)

// ConnectionStateData is the data payload for connection_state events.
type ConnectionStateData struct {
	From string `json:"from"`
	To   string `json:"to"`
	// Aborted counts in-flight requests failed by the transition.
	Aborted int `json:"aborted"`
}

// ShortCircuitData is the data payload for short_circuit events.
type ShortCircuitData struct {
	Opcode string `json:"opcode"`
	Errno  string `json:"errno"`
	Result string `json:"result"` // "success", "noop", "error", "ready"
}

// InitNegotiatedData is the data payload for init_negotiated events.
type InitNegotiatedData struct {
	Major    uint32 `json:"major"`
	Minor    uint32 `json:"minor"`
	Flags    string `json:"flags"`
	Unknown  uint64 `json:"unknown,omitempty"`
	MaxWrite uint32 `json:"max_write"`
}

// ProtocolErrorData is the data payload for protocol_error events.
type ProtocolErrorData struct {
	Unique uint64 `json:"unique"`
	Opcode string `json:"opcode,omitempty"`
	Reason string `json:"reason"`
}

// InterruptData is the data payload for interrupt_sent events.
type InterruptData struct {
	Unique    uint64 `json:"unique"`
	Interrupt uint64 `json:"interrupt_unique"`
	Opcode    string `json:"opcode"`
}
