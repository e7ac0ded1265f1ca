package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"whisper-native", "openai", "mock"},
	"vad":         {"energy", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued tunable with its documented default.
// Boolean toggles keep their zero value; only the strength/target values
// behind them get defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameSizeMS == 0 {
		cfg.Audio.FrameSizeMS = 20
	}

	if cfg.Preprocess.NoiseReductionStrength == 0 {
		cfg.Preprocess.NoiseReductionStrength = 1.5
	}
	if cfg.Preprocess.TargetRMS == 0 {
		cfg.Preprocess.TargetRMS = 3000
	}

	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = VADEnergy
	}
	if cfg.VAD.SpeechThreshold == 0 {
		cfg.VAD.SpeechThreshold = 0.01
	}

	if cfg.Segmenter.SilenceThresholdSec == 0 {
		cfg.Segmenter.SilenceThresholdSec = 0.8
	}
	if cfg.Segmenter.MinSpeechDurationSec == 0 {
		cfg.Segmenter.MinSpeechDurationSec = 0.25
	}
	if cfg.Segmenter.MaxAudioLengthSec == 0 {
		cfg.Segmenter.MaxAudioLengthSec = 30
	}

	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = 1000
	}
	if cfg.Pipeline.WorkerCount == 0 {
		cfg.Pipeline.WorkerCount = 4
	}
	if cfg.Pipeline.CircuitBreakerFailureThreshold == 0 {
		cfg.Pipeline.CircuitBreakerFailureThreshold = 5
	}
	if cfg.Pipeline.CircuitBreakerOpenDurationSec == 0 {
		cfg.Pipeline.CircuitBreakerOpenDurationSec = 30
	}

	if cfg.Sessions.MaxSessions == 0 {
		cfg.Sessions.MaxSessions = 1000
	}
	if cfg.Sessions.InactiveSessionTimeoutMinutes == 0 {
		cfg.Sessions.InactiveSessionTimeoutMinutes = 30
	}
	if cfg.Sessions.SweepIntervalMinutes == 0 {
		cfg.Sessions.SweepIntervalMinutes = 5
	}

	if cfg.Transcript.PhoneticThreshold == 0 {
		cfg.Transcript.PhoneticThreshold = 0.70
	}

	if cfg.Events.RedisChannel == "" {
		cfg.Events.RedisChannel = "voice.events"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio format
	switch cfg.Audio.SampleRate {
	case 8000, 16000, 24000, 48000:
	default:
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; valid values: 8000, 16000, 24000, 48000", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; the pipeline format is mono", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameSizeMS < 10 || cfg.Audio.FrameSizeMS > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_size_ms %d is out of range [10, 100]", cfg.Audio.FrameSizeMS))
	}

	// Preprocess
	if cfg.Preprocess.NoiseReductionStrength < 0 {
		errs = append(errs, fmt.Errorf("preprocess.noise_reduction_strength %.2f must not be negative", cfg.Preprocess.NoiseReductionStrength))
	}
	if cfg.Preprocess.TargetRMS < 0 {
		errs = append(errs, fmt.Errorf("preprocess.target_rms %.1f must not be negative", cfg.Preprocess.TargetRMS))
	}

	// VAD
	if !cfg.VAD.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("vad.engine %q is invalid; valid values: energy, mock", cfg.VAD.Engine))
	}
	if cfg.VAD.SpeechThreshold <= 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.3f is out of range (0, 1]", cfg.VAD.SpeechThreshold))
	}

	// Segmenter
	if cfg.Segmenter.SilenceThresholdSec <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.silence_threshold_sec %.2f must be positive", cfg.Segmenter.SilenceThresholdSec))
	}
	if cfg.Segmenter.MinSpeechDurationSec <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_speech_duration_sec %.2f must be positive", cfg.Segmenter.MinSpeechDurationSec))
	}
	if cfg.Segmenter.MaxAudioLengthSec <= cfg.Segmenter.MinSpeechDurationSec {
		errs = append(errs, fmt.Errorf("segmenter.max_audio_length_sec %.2f must exceed min_speech_duration_sec %.2f",
			cfg.Segmenter.MaxAudioLengthSec, cfg.Segmenter.MinSpeechDurationSec))
	}

	// Pipeline
	if cfg.Pipeline.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size %d must be positive", cfg.Pipeline.QueueSize))
	}
	if cfg.Pipeline.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("pipeline.worker_count %d must be positive", cfg.Pipeline.WorkerCount))
	}
	if cfg.Pipeline.CircuitBreakerFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("pipeline.circuit_breaker_failure_threshold %d must be positive", cfg.Pipeline.CircuitBreakerFailureThreshold))
	}
	if cfg.Pipeline.CircuitBreakerOpenDurationSec <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.circuit_breaker_open_duration_sec %.1f must be positive", cfg.Pipeline.CircuitBreakerOpenDurationSec))
	}

	// Sessions
	if cfg.Sessions.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions %d must be positive", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.InactiveSessionTimeoutMinutes < 1 {
		errs = append(errs, fmt.Errorf("sessions.inactive_session_timeout_minutes %d must be positive", cfg.Sessions.InactiveSessionTimeoutMinutes))
	}
	if cfg.Sessions.SweepIntervalMinutes < 1 {
		errs = append(errs, fmt.Errorf("sessions.sweep_interval_minutes %d must be positive", cfg.Sessions.SweepIntervalMinutes))
	}

	// Transcriber — unknown names warn rather than fail, third-party
	// registrations are legitimate.
	validateProviderName("transcriber", cfg.Transcriber.Primary.Name)
	for _, fb := range cfg.Transcriber.Fallbacks {
		validateProviderName("transcriber", fb.Name)
	}
	if cfg.Transcriber.Primary.Name == "" && len(cfg.Transcriber.Fallbacks) > 0 {
		errs = append(errs, errors.New("transcriber.fallbacks configured without transcriber.primary"))
	}

	// Transcript
	if cfg.Transcript.PhoneticThreshold < 0 || cfg.Transcript.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcript.phonetic_threshold %.2f is out of range [0, 1]", cfg.Transcript.PhoneticThreshold))
	}
	for i, term := range cfg.Transcript.Vocabulary {
		if term == "" {
			errs = append(errs, fmt.Errorf("transcript.vocabulary[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
