package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (listen address, worker counts, provider selection) requires a restart and
// is deliberately ignored here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SegmenterChanged bool
	NewSegmenter     SegmenterConfig

	VADThresholdChanged bool
	NewVADThreshold     float64

	VocabularyChanged    bool
	NewVocabulary        []string
	NewPhoneticThreshold float64
}

// Empty reports whether the diff carries no reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SegmenterChanged &&
		!d.VADThresholdChanged && !d.VocabularyChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Segmenter != new.Segmenter {
		d.SegmenterChanged = true
		d.NewSegmenter = new.Segmenter
	}

	if old.VAD.SpeechThreshold != new.VAD.SpeechThreshold {
		d.VADThresholdChanged = true
		d.NewVADThreshold = new.VAD.SpeechThreshold
	}

	if !slices.Equal(old.Transcript.Vocabulary, new.Transcript.Vocabulary) ||
		old.Transcript.PhoneticThreshold != new.Transcript.PhoneticThreshold {
		d.VocabularyChanged = true
		d.NewVocabulary = new.Transcript.Vocabulary
		d.NewPhoneticThreshold = new.Transcript.PhoneticThreshold
	}

	return d
}
