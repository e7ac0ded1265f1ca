// Package energy implements a signal-energy Voice Activity Detection engine.
//
// The engine computes per-frame RMS amplitude, smooths it with an exponential
// moving average, and normalizes against a fixed full-scale speech level. It
// needs no model files and runs in microseconds, which makes it the default
// choice for gating segmentation; swap in a model-backed engine through the
// same interface when detection quality matters more than footprint.
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/vad"
)

// Tuning defaults, validated against 16 kHz mono speech recordings.
const (
	// DefaultSpeechThreshold is the normalized score above which a frame
	// counts as speech.
	DefaultSpeechThreshold = 0.01

	// DefaultSmoothingAlpha is the EMA weight of the newest frame.
	DefaultSmoothingAlpha = 0.3

	// rmsFullScale is the raw RMS level mapped to score 1.0. Conversational
	// speech on consumer microphones typically peaks around this level.
	rmsFullScale = 5000.0
)

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession creates a session with the given configuration. Zero-valued
// threshold and alpha select the package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %f out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SmoothingAlpha < 0 || cfg.SmoothingAlpha > 1 {
		return nil, fmt.Errorf("energy: smoothing alpha %f out of range (0,1]", cfg.SmoothingAlpha)
	}
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = DefaultSpeechThreshold
	}
	alpha := cfg.SmoothingAlpha
	if alpha == 0 {
		alpha = DefaultSmoothingAlpha
	}
	return &session{threshold: threshold, alpha: alpha}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// session holds the smoothing state for one audio stream.
type session struct {
	mu        sync.Mutex
	threshold float64
	alpha     float64
	smoothed  float64
	primed    bool
	closed    bool
}

// Classify computes the frame's smoothed energy score and applies the speech
// threshold. An empty frame scores like silence rather than erroring, so a
// stream of keep-alive frames does not disturb the smoothing state's meaning.
func (s *session) Classify(frame []byte) (vad.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Decision{}, vad.ErrSessionClosed
	}

	rms := audio.RMS(frame)
	if !s.primed {
		s.smoothed = rms
		s.primed = true
	} else {
		s.smoothed = s.alpha*rms + (1-s.alpha)*s.smoothed
	}

	score := s.smoothed / rmsFullScale
	if score > 1 {
		score = 1
	}
	return vad.Decision{
		IsSpeech: score > s.threshold,
		Score:    score,
	}, nil
}

// Reset clears the smoothing state. The next frame seeds a fresh average.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smoothed = 0
	s.primed = false
}

// Close marks the session closed. Subsequent Classify calls return
// vad.ErrSessionClosed. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*session)(nil)
