// Package stt turns a stream of classified audio frames into transcribed
// utterances.
//
// The [Segmenter] is the per-session state machine that decides where an
// utterance begins and ends; the [Processor] owns the per-session map of
// preprocessor, VAD, and segmenter state, feeds finalized utterances to the
// pipeline, and executes accepted tasks against the transcription provider.
package stt

import (
	"log/slog"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
)

// Segmenter defaults, applied by [NewSegmenter] for zero config fields.
const (
	// DefaultSilenceThreshold is how much continuous silence ends an
	// utterance.
	DefaultSilenceThreshold = 800 * time.Millisecond

	// DefaultMinSpeechDuration is the least accumulated speech an utterance
	// needs to be emitted rather than discarded.
	DefaultMinSpeechDuration = 250 * time.Millisecond

	// DefaultMaxAudioLength caps the utterance buffer.
	DefaultMaxAudioLength = 30 * time.Second

	// DefaultSampleRate is the pipeline audio rate in Hz.
	DefaultSampleRate = 16000
)

// SegmenterConfig tunes a [Segmenter]. Zero values select the defaults.
type SegmenterConfig struct {
	// SilenceThreshold is the continuous silence that finalizes an utterance.
	SilenceThreshold time.Duration

	// MinSpeechDuration is the minimum accumulated speech below which a
	// finalized run is discarded instead of emitted.
	MinSpeechDuration time.Duration

	// MaxAudioLength bounds the buffer; overflow drops the oldest audio.
	MaxAudioLength time.Duration

	// SampleRate of the mono PCM frames pushed into the segmenter, in Hz.
	SampleRate int
}

// Utterance is one finalized stretch of speech, trailing silence trimmed.
type Utterance struct {
	// Audio is the utterance as 16-bit little-endian mono PCM.
	Audio []byte

	// Start and End are the wall-clock bounds: first speech frame to last
	// speech frame.
	Start time.Time
	End   time.Time

	// Duration is the playback length of Audio.
	Duration time.Duration
}

// sampleRate returns the configured rate with the default applied, so
// callers holding a zero-value config still get the pipeline rate.
func (c SegmenterConfig) sampleRate() int {
	if c.SampleRate > 0 {
		return c.SampleRate
	}
	return DefaultSampleRate
}

// Segmenter accumulates speech frames into utterances. It is a two-state
// machine: idle until a speech frame arrives, then in-speech until continuous
// silence exceeds the threshold. Silence inside an utterance is buffered (the
// grace period keeps mid-sentence pauses intact) but trailing silence is
// trimmed from the emitted audio.
//
// Segmenter is not safe for concurrent use; the processor serializes access
// per session.
type Segmenter struct {
	cfg      SegmenterConfig
	maxBytes int

	inSpeech bool
	buf      []byte
	// speechEnd is the buffer length at the most recent speech frame;
	// finalize emits buf[:speechEnd] so the silence tail never ships.
	speechEnd  int
	speechDur  time.Duration
	silenceRun time.Duration
	startWall  time.Time
	lastSpeech time.Time
	truncated  bool
}

// NewSegmenter creates a Segmenter. Zero config fields take the package
// defaults.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if cfg.MaxAudioLength <= 0 {
		cfg.MaxAudioLength = DefaultMaxAudioLength
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Segmenter{
		cfg: cfg,
		// Mono PCM16: 2 bytes per sample.
		maxBytes: int(cfg.MaxAudioLength.Seconds()*float64(cfg.SampleRate)) * 2,
	}
}

// Push advances the state machine by one classified frame. The returned
// utterance is valid only when the second return is true. Time is measured on
// the audio clock — the sum of frame durations — so segmentation does not
// depend on frame arrival jitter.
func (s *Segmenter) Push(frame audio.AudioFrame, isSpeech bool) (Utterance, bool) {
	if !s.inSpeech {
		if !isSpeech {
			return Utterance{}, false
		}
		s.inSpeech = true
		s.startWall = time.Now().UTC()
	}

	s.buf = append(s.buf, frame.Data...)
	d := frame.Duration()

	if isSpeech {
		s.speechDur += d
		s.silenceRun = 0
		s.speechEnd = len(s.buf)
		s.lastSpeech = time.Now().UTC()
	} else {
		s.silenceRun += d
	}

	s.enforceMax()

	if !isSpeech && s.silenceRun > s.cfg.SilenceThreshold {
		return s.finalize()
	}
	return Utterance{}, false
}

// SetThresholds retunes the duration thresholds on a live segmenter. The
// sample rate is fixed at construction; cfg's SampleRate is ignored. An
// in-progress utterance continues under the new thresholds, re-capped
// immediately.
func (s *Segmenter) SetThresholds(cfg SegmenterConfig) {
	if cfg.SilenceThreshold > 0 {
		s.cfg.SilenceThreshold = cfg.SilenceThreshold
	}
	if cfg.MinSpeechDuration > 0 {
		s.cfg.MinSpeechDuration = cfg.MinSpeechDuration
	}
	if cfg.MaxAudioLength > 0 {
		s.cfg.MaxAudioLength = cfg.MaxAudioLength
		s.maxBytes = int(cfg.MaxAudioLength.Seconds()*float64(s.cfg.SampleRate)) * 2
		s.enforceMax()
	}
}

// Reset discards any in-progress utterance and returns the segmenter to idle.
func (s *Segmenter) Reset() {
	s.inSpeech = false
	s.buf = nil
	s.speechEnd = 0
	s.speechDur = 0
	s.silenceRun = 0
	s.truncated = false
}

// Buffered returns the number of PCM bytes currently held. Zero when idle.
func (s *Segmenter) Buffered() int {
	return len(s.buf)
}

// enforceMax applies the keep-tail cap after every frame.
func (s *Segmenter) enforceMax() {
	if len(s.buf) <= s.maxBytes {
		return
	}
	drop := len(s.buf) - s.maxBytes
	s.buf = s.buf[drop:]
	s.speechEnd -= drop
	if s.speechEnd < 0 {
		s.speechEnd = 0
	}
	if !s.truncated {
		s.truncated = true
		slog.Warn("utterance exceeds max length, dropping oldest audio",
			"max_length", s.cfg.MaxAudioLength,
			"dropped_bytes", drop)
	}
}

// finalize closes the current utterance and resets to idle. The run is
// emitted only when it carries enough speech.
func (s *Segmenter) finalize() (Utterance, bool) {
	emit := s.speechDur >= s.cfg.MinSpeechDuration && s.speechEnd > 0
	var u Utterance
	if emit {
		pcm := make([]byte, s.speechEnd)
		copy(pcm, s.buf[:s.speechEnd])
		u = Utterance{
			Audio:    pcm,
			Start:    s.startWall,
			End:      s.lastSpeech,
			Duration: audio.PCMDuration(len(pcm), s.cfg.SampleRate, 1),
		}
	} else {
		slog.Debug("discarding sub-minimum speech run",
			"speech_duration", s.speechDur,
			"min_speech_duration", s.cfg.MinSpeechDuration)
	}
	s.Reset()
	return u, emit
}
