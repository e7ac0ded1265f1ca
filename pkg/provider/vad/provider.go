// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g., an energy gate or an
// ML model) and surfaces it as a stateful, per-stream session. Each session
// maintains its own internal state (smoothing history) so that multiple
// concurrent audio streams can be classified independently.
//
// VAD is synchronous by design: Classify returns immediately with a decision,
// making it suitable for low-latency pipeline stages that gate segmentation.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrSessionClosed is returned by Classify after the session has been closed.
var ErrSessionClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to Classify. Common values: 8000, 16000, 48000.
	SampleRate int

	// SpeechThreshold is the score above which a frame is classified as
	// speech. Range: [0.0, 1.0]. Higher values reduce false positives at the
	// cost of increased speech start latency. Zero selects the engine default.
	SpeechThreshold float64

	// SmoothingAlpha is the weight of the newest frame in the exponential
	// moving average applied to raw scores. Range: (0.0, 1.0]. Lower values
	// smooth harder and react slower. Zero selects the engine default.
	SmoothingAlpha float64
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own smoothing state; Reset clears this
// state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type SessionHandle interface {
	// Classify analyses a single audio frame and returns the detection result.
	// The frame must be raw little-endian PCM at the SampleRate configured when
	// the session was created. Returns an error if the engine encounters an
	// internal failure; callers should treat an error as "no decision" and
	// carry their previous decision forward rather than assuming silence.
	//
	// This method is called synchronously in the audio pipeline loop;
	// it must not block.
	Classify(frame []byte) (Decision, error)

	// Reset clears all accumulated smoothing state without closing the session.
	// Use this when the audio stream is interrupted or restarted to avoid stale
	// state from the previous segment affecting subsequent frames.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// Classify returns ErrSessionClosed. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported sample
	// rate or threshold out of range) or if the engine cannot allocate
	// resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
