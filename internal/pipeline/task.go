package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/auricle/internal/transport"
)

// ErrQueueFull is returned by Submit when the priority-appropriate queue has
// no room. The client has already been told; the task is gone.
var ErrQueueFull = errors.New("pipeline: queue full")

// ErrNotRunning is returned by Submit before Start or after Stop.
var ErrNotRunning = errors.New("pipeline: not running")

// HighPriorityThreshold is the priority value above which a task is routed to
// the high-priority queue. Short commands and barge-in utterances are
// submitted above it so they overtake long-form dictation.
const HighPriorityThreshold = 5

// Client-facing error messages. Stable strings, no internal detail.
const (
	msgCircuitOpen      = "service temporarily unavailable, please retry shortly"
	msgQueueFull        = "processing queue full, please try again"
	msgProcessingFailed = "processing failed, please try again"
)

// Task is one finalized utterance awaiting transcription. A task is consumed
// exactly once by one worker.
type Task struct {
	// SessionID identifies the originating session.
	SessionID string

	// Audio is the utterance as 16-bit little-endian mono PCM.
	Audio []byte

	// SampleRate of Audio in Hz.
	SampleRate int

	// Handle is the transport connection acknowledgements and results go to.
	Handle transport.Handle

	// EnqueuedAt is stamped by Submit.
	EnqueuedAt time.Time

	// Priority routes the task: values above [HighPriorityThreshold] go to
	// the high-priority queue.
	Priority int

	// Start and End bound the utterance in wall-clock time.
	Start time.Time
	End   time.Time

	// Language is the session's working language hint for the transcriber.
	Language string
}

// Executor carries a task through transcription and result delivery. The
// pipeline owns admission, acknowledgements, and failure messaging; the
// executor owns everything between picking the task up and sending the
// transcription. An error return means the attempt failed and counts against
// the session's circuit breaker — the executor must not have sent its own
// error message in that case.
type Executor interface {
	Execute(ctx context.Context, task Task) error
}
