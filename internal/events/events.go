// Package events publishes session lifecycle and transcription notifications
// to interested external systems.
//
// Publishing is fire and forget: the audio path calls [Bus.Emit], which only
// performs a non-blocking channel send. A single drain goroutine forwards
// buffered events to the configured [Publisher]. When the buffer is full the
// event is dropped and counted — a slow or broken event backend must never
// add latency to frame processing, and delivery is explicitly best-effort.
package events

import (
	"context"
	"time"

	"github.com/MrWong99/auricle/internal/transcript"
)

// Well-known event types.
const (
	TypeSessionCreated       = "session_created"
	TypeSessionEnded         = "session_ended"
	TypeTranscriptionCreated = "transcription_created"
	TypeErrorOccurred        = "error_occurred"
)

// Event is one notification. Data carries type-specific payload fields.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher delivers events to an external system. Implementations must be
// safe for concurrent use; Close must be idempotent.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// SessionCreated builds the event emitted when a session is registered.
func SessionCreated(sessionID, userID string) Event {
	return Event{
		Type:      TypeSessionCreated,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"user_id": userID},
	}
}

// SessionEnded builds the event emitted when a session ends. reason is
// "client", "evicted" or "shutdown".
func SessionEnded(sessionID, reason string, messageCount int) Event {
	return Event{
		Type:      TypeSessionEnded,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"reason":        reason,
			"message_count": messageCount,
		},
	}
}

// TranscriptionCreated builds the event emitted for each finalized
// transcription result.
func TranscriptionCreated(res transcript.Result) Event {
	return Event{
		Type:      TypeTranscriptionCreated,
		SessionID: res.SessionID,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"text":       res.Text,
			"confidence": res.Confidence,
			"language":   res.Language,
			"is_final":   res.IsFinal,
		},
	}
}

// ErrorOccurred builds the event emitted when a client-visible error is
// produced. scope names the failing area ("pipeline", "transcribe").
func ErrorOccurred(sessionID, scope, message string) Event {
	return Event{
		Type:      TypeErrorOccurred,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"scope":   scope,
			"message": message,
		},
	}
}
