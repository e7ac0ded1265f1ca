// Package transcribe defines the Provider interface for speech-to-text backends.
//
// A transcribe provider wraps a batch transcription engine (a local whisper.cpp
// model, the OpenAI audio API, …) behind a uniform call: hand it one complete
// utterance as PCM, get text back. Providers are deliberately stateless across
// calls — all conversation context travels in the Request's prompt — so a
// single provider instance serves every session concurrently.
//
// Callers own timeout policy: providers must honour ctx cancellation and
// return promptly once the deadline passes.
//
// Implementations must be safe for concurrent use.
package transcribe

import (
	"context"
	"errors"
)

// ErrTimeout marks a transcription attempt that ran out of time. Callers that
// impose a deadline wrap context.DeadlineExceeded into it so downstream code
// can classify the failure without knowing the timeout policy.
var ErrTimeout = errors.New("transcribe: timeout")

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Name returns a short stable identifier for logs and metrics
	// (e.g. "whisper-native", "openai").
	Name() string

	// Transcribe converts one utterance of audio to text. It blocks until the
	// result is ready, the provider fails, or ctx is cancelled. A cancelled or
	// expired ctx must surface as an error wrapping ctx.Err().
	//
	// An utterance with no recognizable speech returns an empty-text Result
	// and a nil error; errors signal provider failure, not silence.
	Transcribe(ctx context.Context, req Request) (Result, error)

	// Close releases model handles, connections, and any other resources. After
	// Close, Transcribe returns errors. Calling Close more than once is safe
	// and returns nil.
	Close() error
}
