// Package audio defines the frame type and raw PCM primitives shared by every
// stage of the transcription pipeline.
//
// All audio in Auricle is 16-bit little-endian PCM. Frames arrive from the
// gateway in whatever format the client negotiated (48 kHz stereo Opus decode
// output, 16 kHz mono raw PCM, …) and are converted to the pipeline format
// before preprocessing and voice activity detection. The helpers here —
// resampling, channel downmix, RMS, duration math, WAV framing — are the only
// places byte-level PCM layout knowledge lives; everything above works in
// terms of [AudioFrame] and opaque []byte buffers.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — received from client streams,
// preprocessed, classified by VAD, and accumulated into utterance buffers.
type AudioFrame struct {
	// PCM audio data, 16-bit little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Opus decode output, 16000 for the pipeline).
	SampleRate int

	// Channels: 1 for mono (pipeline format), 2 for stereo ingest.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame's PCM data.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}
