package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// bitsPerSample is the fixed sample depth for all PCM handled by the pipeline.
const bitsPerSample = 16

// RMS computes the root mean square amplitude of 16-bit little-endian PCM.
// The result is in raw sample units (0 for silence, up to 32767 for a full-scale
// square wave). Returns 0 for empty input; a trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2 // number of 16-bit samples
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// PCMDuration returns the playback length of n bytes of 16-bit PCM at the given
// rate and channel count. Returns 0 when the format parameters are invalid.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return time.Duration(n) * time.Second / time.Duration(bytesPerSec)
}

// Int16sToBytes packs int16 samples into little-endian PCM bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s unpacks little-endian PCM bytes into int16 samples.
// A trailing odd byte is ignored.
func BytesToInt16s(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
