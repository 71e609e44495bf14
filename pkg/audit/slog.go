package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// SlogLogger forwards audit events into a structured logger, for
// deployments that ship one log stream instead of tailing a trail file.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger wraps log, tagging every event with channel=audit. A nil
// log falls back to slog.Default.
func NewSlogLogger(log *slog.Logger) *SlogLogger {
	if log == nil {
		log = slog.Default()
	}
	return &SlogLogger{log: log.With("channel", "audit")}
}

func (l *SlogLogger) Record(ctx context.Context, eventType EventType, actor, action, resource string, metadata map[string]any) error {
	attrs := []slog.Attr{
		slog.String("event_id", uuid.New().String()),
		slog.String("actor", actorOrEngine(actor)),
		slog.String("type", string(eventType)),
		slog.String("resource", resource),
	}
	if len(metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", metadata))
	}
	l.log.LogAttrs(ctx, slog.LevelInfo, action, attrs...)
	return nil
}
