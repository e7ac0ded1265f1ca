package vad

// Decision is the classification result for a single audio frame.
type Decision struct {
	// IsSpeech reports whether the frame was classified as speech.
	IsSpeech bool

	// Score is the smoothed speech score (0.0–1.0) the classification was
	// derived from. Useful for diagnostics and threshold tuning.
	Score float64
}
