// Package preprocess cleans raw microphone audio before voice activity
// detection and transcription.
//
// Each frame passes through up to three stages, each independently
// switchable: a speech band-pass filter (≈80–7000 Hz), spectral noise
// subtraction against a per-stream noise profile estimated from the first
// frames, and RMS volume normalization. Filter and profile state is kept per
// session so concurrent streams never share spectra.
//
// The preprocessor is deliberately fail-open: a stage that cannot process a
// frame logs a warning and hands its input through unchanged. Degraded audio
// still transcribes; dropped audio does not.
package preprocess

import (
	"log/slog"
	"math"
	"sync"

	"github.com/MrWong99/auricle/pkg/audio"
)

// Default stage parameters, matching the tuning the pipeline was validated with.
const (
	DefaultNoiseStrength = 1.5
	DefaultTargetRMS     = 3000.0

	bandpassLowHz  = 80.0
	bandpassHighHz = 7000.0

	// Frames shorter than this carry too little signal to filter meaningfully
	// and pass through untouched (10 ms at 16 kHz).
	minFrameSamples = 160

	// Normalization skips near-silent frames instead of amplifying noise.
	silenceRMS = 1.0
)

// Config selects and tunes the preprocessing stages.
type Config struct {
	// SampleRate of the incoming frames in Hz. Frames with a different rate
	// pass through unprocessed.
	SampleRate int

	// NoiseReduction enables noise profile estimation and spectral subtraction.
	NoiseReduction bool

	// NoiseStrength scales the subtracted noise profile. Values above 1
	// over-subtract for aggressive cleaning. Default 1.5.
	NoiseStrength float64

	// Bandpass enables the speech band-pass filter.
	Bandpass bool

	// VolumeNormalization enables RMS gain adjustment.
	VolumeNormalization bool

	// TargetRMS is the post-normalization RMS level in raw sample units.
	// Default 3000.
	TargetRMS float64
}

// sessionState carries the per-stream filter and noise estimation state.
// Guarded by the Preprocessor's contract that a single session's frames are
// processed sequentially.
type sessionState struct {
	highpass *biquad
	lowpass  *biquad
	denoise  *denoiser
}

// Preprocessor applies the configured stages to audio frames, keyed by
// session. Safe for concurrent use across sessions; frames belonging to one
// session must be processed from a single goroutine at a time.
type Preprocessor struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates a Preprocessor. Zero-valued tuning fields fall back to the
// package defaults.
func New(cfg Config) *Preprocessor {
	if cfg.NoiseStrength <= 0 {
		cfg.NoiseStrength = DefaultNoiseStrength
	}
	if cfg.TargetRMS <= 0 {
		cfg.TargetRMS = DefaultTargetRMS
	}
	return &Preprocessor{
		cfg:      cfg,
		sessions: make(map[string]*sessionState),
	}
}

// Process runs the enabled stages over one frame and returns the cleaned
// frame. The input frame is never mutated. Frames that are too short, oddly
// sized, or in the wrong format are returned unchanged.
func (p *Preprocessor) Process(sessionID string, frame audio.AudioFrame) audio.AudioFrame {
	if len(frame.Data)%2 != 0 {
		slog.Warn("preprocess: odd byte count in PCM frame, passing through",
			"session_id", sessionID, "bytes", len(frame.Data))
		return frame
	}
	if len(frame.Data)/2 < minFrameSamples {
		return frame
	}
	if frame.SampleRate != p.cfg.SampleRate || frame.Channels != 1 {
		slog.Warn("preprocess: unexpected frame format, passing through",
			"session_id", sessionID,
			"sample_rate", frame.SampleRate,
			"channels", frame.Channels)
		return frame
	}

	st := p.state(sessionID)

	ints := audio.BytesToInt16s(frame.Data)
	samples := make([]float64, len(ints))
	for i, s := range ints {
		samples[i] = float64(s)
	}

	// Noise profile is estimated from the unfiltered signal during warm-up,
	// then frozen.
	if p.cfg.NoiseReduction && !st.denoise.warm() {
		if err := st.denoise.updateProfile(samples); err != nil {
			slog.Warn("preprocess: noise profile update failed",
				"session_id", sessionID, "error", err)
		}
	}

	if p.cfg.Bandpass {
		samples = st.highpass.apply(samples)
		samples = st.lowpass.apply(samples)
	}

	if p.cfg.NoiseReduction && st.denoise.warm() {
		cleaned, err := st.denoise.subtract(samples)
		if err != nil {
			slog.Warn("preprocess: spectral subtraction failed, passing frame through",
				"session_id", sessionID, "error", err)
		} else {
			samples = cleaned
		}
	}

	if p.cfg.VolumeNormalization {
		samples = normalizeRMS(samples, p.cfg.TargetRMS)
	}

	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := clampToInt16(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return audio.AudioFrame{
		Data:       out,
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// Release drops all state held for a session. Call when the session ends;
// subsequent frames for the same ID would start from a fresh noise profile.
func (p *Preprocessor) Release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

// ActiveSessions returns the number of sessions with live preprocessing state.
func (p *Preprocessor) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// state returns the session's filter state, creating it on first use.
func (p *Preprocessor) state(sessionID string) *sessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sessions[sessionID]
	if !ok {
		st = &sessionState{
			highpass: newHighpass(bandpassLowHz, float64(p.cfg.SampleRate)),
			lowpass:  newLowpass(bandpassHighHz, float64(p.cfg.SampleRate)),
			denoise:  newDenoiser(p.cfg.NoiseStrength),
		}
		p.sessions[sessionID] = st
	}
	return st
}

// normalizeRMS scales samples so their RMS level matches target. Near-silent
// input is returned unchanged. Clipping protection happens later at int16
// conversion.
func normalizeRMS(samples []float64, target float64) []float64 {
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	rms := 0.0
	if len(samples) > 0 {
		rms = math.Sqrt(sum / float64(len(samples)))
	}
	if rms < silenceRMS {
		return samples
	}
	gain := target / (rms + 1e-6)
	for i := range samples {
		samples[i] *= gain
	}
	return samples
}
