package logging

import (
	"context"
	"log/slog"
)

// SlogSink forwards events to a slog.Logger at debug level. It lets hosts
// that already collect slog output see connection events without a second
// file.
type SlogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogSink returns a sink writing to logger, or slog.Default() when nil.
func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger, level: level}
}

func (s *SlogSink) Write(event *Event) error {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Uint64("conn_id", event.ConnID),
	}
	if event.Source != "" {
		attrs = append(attrs, slog.String("source", event.Source))
	}
	if len(event.Tags) > 0 {
		attrs = append(attrs, slog.Any("tags", event.Tags))
	}
	if len(event.Data) > 0 {
		attrs = append(attrs, slog.String("data", string(event.Data)))
	}
	s.logger.LogAttrs(context.Background(), s.level, event.Summary, attrs...)
	return nil
}

func (s *SlogSink) Close() error { return nil }
