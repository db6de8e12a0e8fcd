package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogSink_WritesRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	emitter := NewEmitter(EmitterConfig{Source: "test"}, NewSlogSink(logger, slog.LevelDebug))

	require.NoError(t, emitter.Emit(EventInterruptSent, "interrupt for 4", 2, []string{"interrupt"}, &InterruptData{Unique: 4, Interrupt: 5, Opcode: "READ"}))

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "interrupt for 4", rec["msg"])
	assert.Equal(t, EventInterruptSent, rec["event_type"])
	assert.Equal(t, float64(2), rec["conn_id"])
	assert.Contains(t, rec["data"], `"interrupt_unique":5`)
}

func TestSlogSink_BelowLevelDropped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sink := NewSlogSink(logger, slog.LevelDebug)

	require.NoError(t, sink.Write(&Event{EventType: EventConnectionState, Summary: "quiet"}))
	assert.Zero(t, buf.Len())
	assert.NoError(t, sink.Close())
}
