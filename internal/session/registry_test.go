package session

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/transcript"
	tmock "github.com/MrWong99/auricle/internal/transport/mock"
)

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := New(cfg)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_CreateDefaults(t *testing.T) {
	r := newTestRegistry(t, Config{DefaultLanguage: "en"})

	s, err := r.Create("")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.ID == "" {
		t.Fatal("session has no ID")
	}
	if want := "user-" + s.ID[:8]; s.UserID != want {
		t.Errorf("user id = %q, want %q", s.UserID, want)
	}
	if s.Status != StatusActive {
		t.Errorf("status = %q, want %q", s.Status, StatusActive)
	}
	if s.Language != "en" {
		t.Errorf("language = %q, want en", s.Language)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestRegistry_EndIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, Config{})
	s, _ := r.Create("alice")
	h := &tmock.Handle{}
	if err := r.AttachTransport(s.ID, h); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if !r.End(s.ID) {
		t.Fatal("first End returned false")
	}
	if r.End(s.ID) {
		t.Fatal("second End returned true, want false")
	}
	if h.CloseCallCount != 1 {
		t.Errorf("transport close count = %d, want exactly 1", h.CloseCallCount)
	}
	if _, ok := r.Get(s.ID); ok {
		t.Error("session still registered after End")
	}
}

func TestRegistry_EvictionHooksFire(t *testing.T) {
	r := newTestRegistry(t, Config{})
	var evicted []string
	r.OnEvict(func(id string) { evicted = append(evicted, id) })

	s, _ := r.Create("")
	r.End(s.ID)

	if len(evicted) != 1 || evicted[0] != s.ID {
		t.Errorf("hooks fired for %v, want [%s]", evicted, s.ID)
	}
}

func TestRegistry_CapacityEvictsOldest(t *testing.T) {
	r := newTestRegistry(t, Config{MaxSessions: 2})

	s1, _ := r.Create("first")
	time.Sleep(2 * time.Millisecond)
	s2, _ := r.Create("second")
	time.Sleep(2 * time.Millisecond)
	r.Touch(s1.ID) // s2 now has the oldest activity

	s3, err := r.Create("third")
	if err != nil {
		t.Fatalf("create at capacity: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("len = %d, want 2", r.Len())
	}
	if _, ok := r.Get(s2.ID); ok {
		t.Error("oldest-activity session survived capacity eviction")
	}
	if _, ok := r.Get(s1.ID); !ok {
		t.Error("recently touched session was evicted")
	}
	if _, ok := r.Get(s3.ID); !ok {
		t.Error("new session missing")
	}
}

func TestRegistry_ReattachClosesReplacedHandle(t *testing.T) {
	r := newTestRegistry(t, Config{})
	s, _ := r.Create("")

	first := &tmock.Handle{}
	second := &tmock.Handle{}
	if err := r.AttachTransport(s.ID, first); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := r.AttachTransport(s.ID, second); err != nil {
		t.Fatalf("re-attach: %v", err)
	}

	if first.CloseCallCount != 1 {
		t.Errorf("replaced handle close count = %d, want 1", first.CloseCallCount)
	}
	if got := r.Transport(s.ID); got != second {
		t.Error("registry does not hold the re-attached handle")
	}
}

func TestRegistry_DetachKeepsSessionAlive(t *testing.T) {
	r := newTestRegistry(t, Config{})
	s, _ := r.Create("")
	h := &tmock.Handle{}
	_ = r.AttachTransport(s.ID, h)

	r.DetachTransport(s.ID)

	if got := r.Transport(s.ID); got != nil {
		t.Error("transport still attached after detach")
	}
	if _, ok := r.Get(s.ID); !ok {
		t.Error("session gone after detach")
	}
	// Detach does not close: the client may reconnect to the same handle's
	// session, but the old handle belongs to the gateway to close.
	if h.CloseCallCount != 0 {
		t.Errorf("handle close count = %d, want 0", h.CloseCallCount)
	}
}

func TestRegistry_SweepEvictsInactive(t *testing.T) {
	r := newTestRegistry(t, Config{
		InactiveTimeout: 30 * time.Millisecond,
		SweepInterval:   10 * time.Millisecond,
	})
	r.Start()

	var evicted []string
	done := make(chan struct{})
	r.OnEvict(func(id string) {
		evicted = append(evicted, id)
		close(done)
	})
	s, _ := r.Create("")
	h := &tmock.Handle{}
	_ = r.AttachTransport(s.ID, h)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not evict the idle session")
	}
	if len(evicted) != 1 || evicted[0] != s.ID {
		t.Errorf("evicted %v, want [%s]", evicted, s.ID)
	}
	if h.CloseCallCount != 1 {
		t.Errorf("transport close count = %d, want 1", h.CloseCallCount)
	}
}

func TestRegistry_PromptContextRoundTrip(t *testing.T) {
	r := newTestRegistry(t, Config{})
	s, _ := r.Create("")

	if got := r.PromptContext(s.ID); got != "" {
		t.Errorf("initial prompt = %q, want empty", got)
	}
	r.SetPromptContext(s.ID, "previous utterance text")
	if got := r.PromptContext(s.ID); got != "previous utterance text" {
		t.Errorf("prompt = %q", got)
	}
	if got := r.PromptContext("nope"); got != "" {
		t.Errorf("unknown session prompt = %q, want empty", got)
	}
}

func TestRegistry_UpdateFromResult(t *testing.T) {
	r := newTestRegistry(t, Config{DefaultLanguage: "en"})
	s, _ := r.Create("")

	// Low confidence: language stays.
	r.UpdateFromResult(s.ID, transcript.Result{
		Text: "ein ziemlich langer satz", Language: "de", Confidence: 0.5,
	})
	if got, _ := r.Get(s.ID); got.Language != "en" {
		t.Errorf("language = %q after low-confidence result, want en", got.Language)
	}

	// High confidence on substantial text: language switches, emotion rolls
	// up, message count advances.
	r.UpdateFromResult(s.ID, transcript.Result{
		Text:       "noch ein ziemlich langer satz",
		Language:   "de",
		Confidence: 0.92,
		Metadata: map[string]string{
			transcript.MetaEmotion:      "happy",
			transcript.MetaEmotionScore: "0.83",
		},
	})
	got, _ := r.Get(s.ID)
	if got.Language != "de" {
		t.Errorf("language = %q, want de", got.Language)
	}
	if got.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", got.MessageCount)
	}
	if got.Emotion.Emotion != "happy" || got.Emotion.Score != 0.83 {
		t.Errorf("emotion = %+v, want happy/0.83", got.Emotion)
	}
}

// activeSessionsGauge collects the current auricle.active_sessions value.
func activeSessionsGauge(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "auricle.active_sessions" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", met.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRegistry_ActiveSessionsGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	r := New(Config{Metrics: m})

	s1, _ := r.Create("")
	if _, err := r.Create(""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := activeSessionsGauge(t, reader); got != 2 {
		t.Errorf("gauge = %d after two creates, want 2", got)
	}

	r.End(s1.ID)
	if got := activeSessionsGauge(t, reader); got != 1 {
		t.Errorf("gauge = %d after End, want 1", got)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := activeSessionsGauge(t, reader); got != 0 {
		t.Errorf("gauge = %d after close, want 0", got)
	}
}

func TestRegistry_CloseClosesAllTransports(t *testing.T) {
	r := New(Config{})
	handles := make([]*tmock.Handle, 3)
	for i := range handles {
		s, _ := r.Create("")
		handles[i] = &tmock.Handle{}
		_ = r.AttachTransport(s.ID, handles[i])
	}

	if !r.Open() {
		t.Error("Open() = false before close")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.Open() {
		t.Error("Open() = true after close")
	}
	for i, h := range handles {
		if h.CloseCallCount != 1 {
			t.Errorf("handle %d close count = %d, want 1", i, h.CloseCallCount)
		}
	}
	if r.Len() != 0 {
		t.Errorf("len = %d after close, want 0", r.Len())
	}
	// Close twice is safe.
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
