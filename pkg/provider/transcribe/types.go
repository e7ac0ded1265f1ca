package transcribe

// Request describes one utterance to transcribe.
type Request struct {
	// Audio is the complete utterance as 16-bit little-endian mono PCM.
	Audio []byte

	// SampleRate of Audio in Hz. Providers resample internally when their
	// engine needs a different rate.
	SampleRate int

	// Language is an ISO 639-1 hint (e.g. "en", "de"). Empty lets the
	// provider auto-detect.
	Language string

	// Prompt biases recognition with preceding context, typically the
	// previous utterance's text. Providers without prompt support ignore it.
	Prompt string
}

// Result is a provider's transcription of one utterance.
type Result struct {
	// Text is the transcribed speech, trimmed. Empty means the provider heard
	// no speech.
	Text string

	// Confidence is the overall recognition confidence (0.0–1.0). Providers
	// that do not report confidence use a fixed nominal value.
	Confidence float64

	// Language is the ISO 639-1 code the provider detected or was told.
	Language string
}
