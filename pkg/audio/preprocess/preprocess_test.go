package preprocess_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/audio/preprocess"
)

const testRate = 16000

// sineFrame builds one 20ms mono frame containing a sine wave at the given
// frequency and amplitude. phase is the starting sample index so consecutive
// frames form a continuous waveform.
func sineFrame(freq float64, amplitude float64, phase int) audio.AudioFrame {
	const samples = 320 // 20ms at 16kHz
	pcm := make([]int16, samples)
	for i := range pcm {
		t := float64(phase+i) / testRate
		pcm[i] = int16(amplitude * math.Sin(2*math.Pi*freq*t))
	}
	return audio.AudioFrame{
		Data:       audio.Int16sToBytes(pcm),
		SampleRate: testRate,
		Channels:   1,
	}
}

func TestProcess_AllStagesDisabled(t *testing.T) {
	p := preprocess.New(preprocess.Config{SampleRate: testRate})
	in := sineFrame(1000, 5000, 0)
	out := p.Process("s1", in)
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("expected identical samples with all stages disabled")
	}
}

func TestProcess_ShortFramePassesThrough(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:          testRate,
		VolumeNormalization: true,
	})
	in := audio.AudioFrame{
		Data:       make([]byte, 100), // 50 samples, below the 160-sample minimum
		SampleRate: testRate,
		Channels:   1,
	}
	out := p.Process("s1", in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("short frame should pass through without copying")
	}
}

func TestProcess_OddByteCountPassesThrough(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:          testRate,
		VolumeNormalization: true,
	})
	in := audio.AudioFrame{
		Data:       make([]byte, 641),
		SampleRate: testRate,
		Channels:   1,
	}
	out := p.Process("s1", in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("odd-sized frame should pass through unprocessed")
	}
}

func TestProcess_WrongSampleRatePassesThrough(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:          testRate,
		VolumeNormalization: true,
	})
	in := sineFrame(1000, 100, 0)
	in.SampleRate = 48000
	out := p.Process("s1", in)
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("frame with unexpected sample rate should pass through")
	}
}

func TestNormalization_ReachesTargetRMS(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:          testRate,
		VolumeNormalization: true,
		TargetRMS:           3000,
	})
	// Quiet sine: amplitude 100 → RMS ≈ 70.7.
	out := p.Process("s1", sineFrame(1000, 100, 0))
	rms := audio.RMS(out.Data)
	if rms < 2850 || rms > 3150 {
		t.Errorf("normalized RMS: got %.1f, want ≈3000", rms)
	}
}

func TestNormalization_SkipsSilence(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:          testRate,
		VolumeNormalization: true,
		TargetRMS:           3000,
	})
	in := audio.AudioFrame{
		Data:       make([]byte, 640), // pure silence
		SampleRate: testRate,
		Channels:   1,
	}
	out := p.Process("s1", in)
	if rms := audio.RMS(out.Data); rms != 0 {
		t.Errorf("silence was amplified to RMS %.1f", rms)
	}
}

func TestBandpass_AttenuatesRumble(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate: testRate,
		Bandpass:   true,
	})
	// 50 Hz is below the 80 Hz high-pass corner. Run enough frames for the
	// filter to settle, then measure the steady state.
	var inRMS, outRMS float64
	for i := 0; i < 16; i++ {
		in := sineFrame(50, 8000, i*320)
		out := p.Process("s1", in)
		if i >= 8 {
			inRMS += audio.RMS(in.Data)
			outRMS += audio.RMS(out.Data)
		}
	}
	if outRMS > 0.5*inRMS {
		t.Errorf("50Hz attenuation too weak: out/in = %.2f", outRMS/inRMS)
	}
}

func TestBandpass_PassesSpeechBand(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate: testRate,
		Bandpass:   true,
	})
	var inRMS, outRMS float64
	for i := 0; i < 16; i++ {
		in := sineFrame(1000, 8000, i*320)
		out := p.Process("s1", in)
		if i >= 8 {
			inRMS += audio.RMS(in.Data)
			outRMS += audio.RMS(out.Data)
		}
	}
	if outRMS < 0.8*inRMS {
		t.Errorf("1kHz passband loss too high: out/in = %.2f", outRMS/inRMS)
	}
}

func TestNoiseReduction_SubtractsStationaryNoise(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:     testRate,
		NoiseReduction: true,
	})
	// Warm the profile with five frames of a stationary tone, then feed the
	// same tone again. Subtraction should remove nearly all of it.
	for i := 0; i < 5; i++ {
		p.Process("s1", sineFrame(1000, 1000, i*320))
	}
	in := sineFrame(1000, 1000, 5*320)
	out := p.Process("s1", in)

	inRMS := audio.RMS(in.Data)
	outRMS := audio.RMS(out.Data)
	if outRMS > 0.1*inRMS {
		t.Errorf("stationary noise survived subtraction: out RMS %.1f, in RMS %.1f", outRMS, inRMS)
	}
}

func TestNoiseReduction_WarmupPassesThrough(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:     testRate,
		NoiseReduction: true,
	})
	// During warm-up no subtraction happens, so samples survive unchanged.
	for i := 0; i < 5; i++ {
		in := sineFrame(1000, 1000, i*320)
		out := p.Process("s1", in)
		if !bytes.Equal(out.Data, in.Data) {
			t.Fatalf("warm-up frame %d was modified", i)
		}
	}
}

func TestNoiseReduction_SessionsAreIsolated(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:     testRate,
		NoiseReduction: true,
	})
	// Fully warm session A.
	for i := 0; i < 6; i++ {
		p.Process("a", sineFrame(1000, 1000, i*320))
	}
	// Session B's first frame is still warm-up: nothing may be subtracted.
	in := sineFrame(1000, 1000, 0)
	out := p.Process("b", in)
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("session b inherited session a's noise profile")
	}
}

func TestRelease_DropsSessionState(t *testing.T) {
	p := preprocess.New(preprocess.Config{
		SampleRate:     testRate,
		NoiseReduction: true,
	})
	p.Process("s1", sineFrame(1000, 1000, 0))
	if got := p.ActiveSessions(); got != 1 {
		t.Fatalf("ActiveSessions: got %d, want 1", got)
	}
	p.Release("s1")
	if got := p.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions after Release: got %d, want 0", got)
	}
}
