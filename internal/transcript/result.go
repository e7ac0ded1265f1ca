// Package transcript defines the transcription result type and the
// post-processing filter chain applied to finalized utterances.
//
// Raw recognizer output is rarely the text a client wants to see: domain
// vocabulary gets misheard ("cooper netties" for "Kubernetes") and some
// sessions ask for translation into another language. The [Chain] applies a
// configurable sequence of [Filter] stages to each result:
//
//  1. Vocabulary correction ([Corrector]): fast, in-process phonetic
//     alignment of misheard words against a configured term list. No network
//     calls.
//
//  2. Translation ([TranslationFilter]): converts the text into the session's
//     target language through a [Translator]. The default [NullTranslator]
//     leaves text untouched, so translation is opt-in per deployment.
//
// Results are values, not shared state: a filter never mutates its input but
// derives a new Result, and the first stage that rewrites the text preserves
// the recognizer's original under [MetaOriginalText]. That keeps provenance
// auditable no matter how many stages ran.
package transcript

import "time"

// Metadata keys with well-known meaning. Filters and downstream consumers
// use these; arbitrary additional keys are allowed.
const (
	// MetaOriginalText holds the text as it left the recognizer. Set by the
	// first filter that rewrites the text, then left alone.
	MetaOriginalText = "original_text"

	// MetaOriginalLanguage holds the pre-translation language. Set by the
	// translation filter when it changes the result language.
	MetaOriginalLanguage = "original_language"

	// MetaEmotion carries an emotion tag attached by an external analysis
	// stage. The session registry folds it into the session's emotion state.
	MetaEmotion = "emotion"

	// MetaEmotionScore carries the detector's confidence in MetaEmotion,
	// formatted as a decimal string.
	MetaEmotionScore = "emotion_score"
)

// Result is one transcription of a session utterance.
//
// A Result is immutable by convention: use [Result.WithText] and
// [Result.WithMetadata] to derive changed copies. The Metadata map must not
// be written through after the Result left its producer.
type Result struct {
	// SessionID identifies the session the utterance belongs to.
	SessionID string

	// Text is the (possibly filtered) utterance text.
	Text string

	// Confidence is the recognizer's confidence in Text, in [0.0, 1.0].
	Confidence float64

	// Language is the language of Text as an ISO 639-1 code. Empty when the
	// recognizer did not report one.
	Language string

	// StartTime and EndTime bound the utterance in wall-clock time, taken
	// from the segmenter's speech start and last speech timestamps.
	StartTime time.Time
	EndTime   time.Time

	// IsFinal is false for interim partial results and true for the
	// finalized utterance. At most one final Result is produced per
	// utterance.
	IsFinal bool

	// Metadata carries optional tags attached by post-processing filters.
	// Nil when no filter attached anything.
	Metadata map[string]string
}

// Duration returns the wall-clock length of the utterance, or 0 when the
// bounds are not set.
func (r Result) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Meta returns the metadata value for key, or "" when absent.
func (r Result) Meta(key string) string {
	return r.Metadata[key]
}

// WithText derives a copy of r carrying text. When this is the first text
// rewrite, the previous text is preserved under [MetaOriginalText].
func (r Result) WithText(text string) Result {
	if text == r.Text {
		return r
	}
	out := r
	out.Metadata = cloneMetadata(r.Metadata)
	if _, ok := out.Metadata[MetaOriginalText]; !ok {
		out.Metadata[MetaOriginalText] = r.Text
	}
	out.Text = text
	return out
}

// WithLanguage derives a copy of r carrying lang. When this changes a
// previously known language, the old value is preserved under
// [MetaOriginalLanguage].
func (r Result) WithLanguage(lang string) Result {
	if lang == r.Language {
		return r
	}
	out := r
	out.Metadata = cloneMetadata(r.Metadata)
	if _, ok := out.Metadata[MetaOriginalLanguage]; !ok && r.Language != "" {
		out.Metadata[MetaOriginalLanguage] = r.Language
	}
	out.Language = lang
	return out
}

// WithMetadata derives a copy of r with key set to value.
func (r Result) WithMetadata(key, value string) Result {
	out := r
	out.Metadata = cloneMetadata(r.Metadata)
	out.Metadata[key] = value
	return out
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
