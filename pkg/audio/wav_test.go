package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/auricle/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := samplesToBytes([]int16{100, -100, 200, -200})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Error("missing fmt/data sub-chunk markers")
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels: got %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size: got %d, want %d", got, len(pcm))
	}
	// Payload is carried verbatim.
	for i := range pcm {
		if wav[44+i] != pcm[i] {
			t.Fatalf("payload byte %d: got %#x, want %#x", i, wav[44+i], pcm[i])
		}
	}
}

func TestEncodeWAV_Empty(t *testing.T) {
	wav := audio.EncodeWAV(nil, 16000, 1)
	if len(wav) != 44 {
		t.Fatalf("expected bare 44-byte header, got %d bytes", len(wav))
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 0 {
		t.Errorf("data size: got %d, want 0", got)
	}
}
