package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the structured log. It is the default
// publisher when no external broker is configured, keeping the event stream
// observable in deployments without Redis.
type LogPublisher struct{}

// Publish logs the event at debug level.
func (LogPublisher) Publish(_ context.Context, ev Event) error {
	slog.Debug("event",
		"type", ev.Type,
		"session_id", ev.SessionID,
		"data", ev.Data)
	return nil
}

// Close is a no-op.
func (LogPublisher) Close() error { return nil }

// Ensure LogPublisher implements Publisher at compile time.
var _ Publisher = LogPublisher{}
