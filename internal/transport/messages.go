package transport

import "time"

// Message type discriminators. Every outbound payload carries one of these in
// its "type" field so clients can dispatch without trial decoding.
const (
	TypeAudioReceived     = "audio_received"
	TypeProcessingStarted = "processing_started"
	TypeTranscription     = "transcription"
	TypeError             = "error"
	TypePong              = "pong"
)

// StatusQueued is the only status an audio ack currently reports. The field
// stays explicit in the payload so clients do not have to infer it.
const StatusQueued = "queued"

// AudioReceived acknowledges that an utterance was accepted into the
// processing queue. It is sent only after the enqueue succeeded, so a client
// that received it knows the audio will eventually be processed or fail with
// an Error message.
type AudioReceived struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ProcessingStarted signals that a worker picked the utterance up.
type ProcessingStarted struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcription carries one recognized utterance. Metadata is present only
// when a transcript filter attached provenance, for example the original
// text before vocabulary correction.
type Transcription struct {
	Type       string            `json:"type"`
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	IsFinal    bool              `json:"is_final"`
	Language   string            `json:"language,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Error tells the client that something went wrong with their session or
// audio. Message is always a stable human-readable string; internal error
// detail never leaves the server through this type.
type Error struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Pong answers a client ping command.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAudioReceived builds a queued ack for sessionID stamped with the current
// time.
func NewAudioReceived(sessionID string) AudioReceived {
	return AudioReceived{
		Type:      TypeAudioReceived,
		SessionID: sessionID,
		Status:    StatusQueued,
		Timestamp: time.Now().UTC(),
	}
}

// NewProcessingStarted builds a processing notification for sessionID.
func NewProcessingStarted(sessionID string) ProcessingStarted {
	return ProcessingStarted{
		Type:      TypeProcessingStarted,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// NewError builds an error payload with the given client-facing message.
func NewError(message string) Error {
	return Error{
		Type:      TypeError,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewPong builds a pong payload.
func NewPong() Pong {
	return Pong{
		Type:      TypePong,
		Timestamp: time.Now().UTC(),
	}
}
