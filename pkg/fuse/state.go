package fuse

// ConnState is the lifecycle state of a Connection. Transitions only move
// forward: Waiting to Connected to Disconnected, or Waiting straight to
// Disconnected.
type ConnState int

const (
	// StateWaiting is a connection whose device was opened but not mounted.
	StateWaiting ConnState = iota
	// StateConnected is a mounted connection exchanging messages.
	StateConnected
	// StateDisconnected is terminal.
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
