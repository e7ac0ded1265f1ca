package energy_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/vad"
	"github.com/MrWong99/auricle/pkg/provider/vad/energy"
)

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	sess, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

// toneFrame builds a 20ms 16kHz mono frame of a 1kHz sine at the given amplitude.
func toneFrame(amplitude float64) []byte {
	pcm := make([]int16, 320)
	for i := range pcm {
		pcm[i] = int16(amplitude * math.Sin(2*math.Pi*1000*float64(i)/16000))
	}
	return audio.Int16sToBytes(pcm)
}

func TestClassify_SilenceVsSpeech(t *testing.T) {
	sess := newSession(t, vad.Config{})

	d, err := sess.Classify(make([]byte, 640))
	if err != nil {
		t.Fatalf("Classify silence: %v", err)
	}
	if d.IsSpeech {
		t.Errorf("silence classified as speech (score %f)", d.Score)
	}

	d, err = sess.Classify(toneFrame(3000))
	if err != nil {
		t.Fatalf("Classify tone: %v", err)
	}
	if !d.IsSpeech {
		t.Errorf("loud tone not classified as speech (score %f)", d.Score)
	}
	if d.Score <= 0 || d.Score > 1 {
		t.Errorf("score out of range: %f", d.Score)
	}
}

func TestClassify_ScoreIsSmoothed(t *testing.T) {
	sess := newSession(t, vad.Config{SmoothingAlpha: 0.3})

	// Seed with a loud frame, then feed silence. The EMA should decay toward
	// zero rather than dropping instantly.
	first, _ := sess.Classify(toneFrame(5000))
	second, _ := sess.Classify(make([]byte, 640))
	if second.Score <= 0 {
		t.Fatalf("smoothed score dropped instantly to %f", second.Score)
	}
	if second.Score >= first.Score {
		t.Errorf("score did not decay: first %f, second %f", first.Score, second.Score)
	}
	// With alpha 0.3 one silent frame keeps 70% of the average.
	want := first.Score * 0.7
	if math.Abs(second.Score-want) > 0.001 {
		t.Errorf("decay: got %f, want %f", second.Score, want)
	}
}

func TestClassify_ScoreCapsAtOne(t *testing.T) {
	sess := newSession(t, vad.Config{})
	var d vad.Decision
	for i := 0; i < 10; i++ {
		d, _ = sess.Classify(toneFrame(32000))
	}
	if d.Score > 1 {
		t.Errorf("score exceeded 1.0: %f", d.Score)
	}
}

func TestReset_ClearsSmoothing(t *testing.T) {
	sess := newSession(t, vad.Config{})
	sess.Classify(toneFrame(5000))
	sess.Reset()

	// After Reset the first silent frame seeds the average at zero.
	d, err := sess.Classify(make([]byte, 640))
	if err != nil {
		t.Fatalf("Classify after Reset: %v", err)
	}
	if d.Score != 0 {
		t.Errorf("score after reset with silence: got %f, want 0", d.Score)
	}
}

func TestClose_RejectsFurtherFrames(t *testing.T) {
	sess := newSession(t, vad.Config{})
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.Classify(make([]byte, 640)); !errors.Is(err, vad.ErrSessionClosed) {
		t.Errorf("Classify after Close: got %v, want ErrSessionClosed", err)
	}
}

func TestNewSession_Validation(t *testing.T) {
	eng := energy.New()
	if _, err := eng.NewSession(vad.Config{SampleRate: 0}); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := eng.NewSession(vad.Config{SampleRate: 16000, SpeechThreshold: 1.5}); err == nil {
		t.Error("expected error for threshold above 1")
	}
	if _, err := eng.NewSession(vad.Config{SampleRate: 16000, SmoothingAlpha: -0.1}); err == nil {
		t.Error("expected error for negative alpha")
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	eng := energy.New()
	a, _ := eng.NewSession(vad.Config{SampleRate: 16000})
	b, _ := eng.NewSession(vad.Config{SampleRate: 16000})

	// Saturate session a's average; session b must still see fresh silence.
	for i := 0; i < 5; i++ {
		a.Classify(toneFrame(20000))
	}
	d, _ := b.Classify(make([]byte, 640))
	if d.IsSpeech || d.Score != 0 {
		t.Errorf("session b inherited state from a: %+v", d)
	}
}
