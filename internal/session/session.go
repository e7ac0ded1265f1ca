// Package session provides the concurrent registry that owns all per-stream
// state for live transcription sessions.
//
// Every other pipeline component references sessions by ID and goes through
// the [Registry] to read or mutate them — the registry's lock is the only
// synchronisation point for session records. Per-session audio state
// (utterance buffers, noise profiles, breakers) lives in the components that
// need it; the registry tells them when to release it through eviction hooks.
//
// Sessions end in one of three ways: the client deletes them, the background
// sweeper evicts them after a period of inactivity, or the process shuts
// down. All three paths close the attached transport handle exactly once and
// fire the registered eviction hooks.
package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive marks a session that is accepting frames.
	StatusActive Status = "active"

	// StatusEnded marks a session that has been ended and is being torn down.
	StatusEnded Status = "ended"
)

// EmotionState is the rolling last-detected emotion for a session, updated
// from transcription result metadata.
type EmotionState struct {
	// Emotion is a short tag such as "neutral" or "excited". Empty when no
	// emotion has been detected yet.
	Emotion string

	// Score is the detector's confidence in Emotion, in [0.0, 1.0].
	Score float64
}

// Session is one live transcription stream. Values returned by the registry
// are snapshots — mutating a copy has no effect on the stored record.
type Session struct {
	// ID is the opaque unique session identifier (a UUID string).
	ID string

	// UserID identifies the session's owner. When the client supplies none, a
	// stable placeholder derived from the session ID is used.
	UserID string

	// CreatedAt is when the session was registered.
	CreatedAt time.Time

	// LastActivity is bumped on every frame and message. The sweeper evicts
	// sessions whose LastActivity is older than the inactivity timeout.
	LastActivity time.Time

	// Status is the lifecycle state.
	Status Status

	// Language is the session's working ISO 639-1 language code. It starts
	// from the configured hint and updates as detection improves.
	Language string

	// TargetLanguage, when set, requests translation of final results.
	TargetLanguage string

	// Emotion is the rolling last-detected emotion state.
	Emotion EmotionState

	// MessageCount is the number of finalized transcriptions produced.
	MessageCount int
}
