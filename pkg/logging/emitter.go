package logging

import (
	"encoding/json"
	"time"

	"github.com/jingkaihe/fusebridge/internal/errx"
)

// EmitterConfig holds the static metadata stamped onto every event.
type EmitterConfig struct {
	Source string // Name of the host embedding the engine (e.g., "fusetrace")
}

// Emitter provides convenience methods for emitting typed events.
// It holds static metadata and dispatches to one or more sinks.
//
// A nil *Emitter is safe to call Emit on; the event is dropped.
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
	now    func() time.Time
}

// NewEmitter creates an emitter with the given configuration and sinks.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	return &Emitter{
		config: cfg,
		sinks:  sinks,
		now:    time.Now,
	}
}

// Emit constructs an event with the emitter's static metadata and writes
// it to all registered sinks.
//
// Parameters:
//   - eventType: one of the Event* constants (e.g., EventShortCircuit)
//   - summary: human-readable one-line summary
//   - connID: the connection the event concerns
//   - tags: optional tags for filtering (nil is fine)
//   - data: the typed data struct (e.g., *ShortCircuitData); nil for no payload
//
// Returns the first error encountered. Callers discard errors with _ =
// (best-effort semantics).
func (e *Emitter) Emit(eventType, summary string, connID uint64, tags []string, data interface{}) error {
	if e == nil {
		return nil
	}

	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp: e.now().UTC(),
		Source:    e.config.Source,
		ConnID:    connID,
		EventType: eventType,
		Summary:   summary,
		Tags:      tags,
		Data:      rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks. Returns the first error encountered.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	var firstErr error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
