package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/transport"
	tmock "github.com/MrWong99/auricle/internal/transport/mock"
	"github.com/MrWong99/auricle/pkg/audio/preprocess"
	"github.com/MrWong99/auricle/pkg/provider/transcribe"
	stmock "github.com/MrWong99/auricle/pkg/provider/transcribe/mock"
	"github.com/MrWong99/auricle/pkg/provider/vad"
	vmock "github.com/MrWong99/auricle/pkg/provider/vad/mock"
)

// captureSubmitter records submitted tasks instead of running a pipeline.
type captureSubmitter struct {
	mu    sync.Mutex
	tasks []pipeline.Task
	err   error
}

func (c *captureSubmitter) Submit(t pipeline.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
	return c.err
}

func (c *captureSubmitter) Tasks() []pipeline.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pipeline.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// scriptedEngine hands each new session its own scripted VAD handle.
type scriptedEngine struct {
	mu       sync.Mutex
	sessions []*vmock.Session
	next     int
}

func (e *scriptedEngine) NewSession(vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.next >= len(e.sessions) {
		return &vmock.Session{}, nil
	}
	s := e.sessions[e.next]
	e.next++
	return s, nil
}

// decisions builds a VAD script: nSpeech speech frames followed by one
// silence frame (the mock repeats the last entry forever).
func decisions(nSpeech int) []vad.Decision {
	out := make([]vad.Decision, 0, nSpeech+1)
	for i := 0; i < nSpeech; i++ {
		out = append(out, vad.Decision{IsSpeech: true, Score: 0.9})
	}
	return append(out, vad.Decision{IsSpeech: false, Score: 0.0})
}

type procFixture struct {
	proc     *Processor
	registry *session.Registry
	sub      *captureSubmitter
	stt      *stmock.Provider
}

func newProcFixture(t *testing.T, engine vad.Engine, stt *stmock.Provider) *procFixture {
	t.Helper()
	reg := session.New(session.Config{})
	t.Cleanup(func() { _ = reg.Close() })
	sub := &captureSubmitter{}
	proc := NewProcessor(ProcessorConfig{
		Preprocessor: preprocess.New(preprocess.Config{SampleRate: testRate}),
		VAD:          engine,
		VADConfig:    vad.Config{SampleRate: testRate},
		Segmenter: SegmenterConfig{
			SampleRate:       testRate,
			SilenceThreshold: 700 * time.Millisecond,
		},
		Transcriber: stt,
		Registry:    reg,
		Submitter:   sub,
	})
	return &procFixture{proc: proc, registry: reg, sub: sub, stt: stt}
}

// startSession creates a registry session with an attached mock transport.
func (f *procFixture) startSession(t *testing.T) (string, *tmock.Handle) {
	t.Helper()
	s, err := f.registry.Create("")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	h := &tmock.Handle{}
	if err := f.registry.AttachTransport(s.ID, h); err != nil {
		t.Fatalf("attach transport: %v", err)
	}
	return s.ID, h
}

func TestProcessor_SpeechRunBecomesOneTask(t *testing.T) {
	engine := &scriptedEngine{sessions: []*vmock.Session{
		{Decisions: decisions(75)},
	}}
	f := newProcFixture(t, engine, &stmock.Provider{})
	id, _ := f.startSession(t)

	// 1.5s of speech, then 1s of silence against a 700ms threshold.
	for i := 0; i < 75; i++ {
		if err := f.proc.ProcessFrame(id, pcmFrame(0xAA)); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	for i := 0; i < 50; i++ {
		if err := f.proc.ProcessFrame(id, pcmFrame(0x00)); err != nil {
			t.Fatalf("silence frame %d: %v", i, err)
		}
	}

	tasks := f.sub.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("submitted %d tasks, want 1", len(tasks))
	}
	task := tasks[0]
	if task.SessionID != id {
		t.Errorf("task session = %q, want %q", task.SessionID, id)
	}
	if want := 75 * frameBytes; len(task.Audio) != want {
		t.Errorf("task audio = %d bytes, want %d (speech only)", len(task.Audio), want)
	}
	if task.SampleRate != testRate {
		t.Errorf("task sample rate = %d, want %d", task.SampleRate, testRate)
	}
	// 1.5s is long-form, not a quick command.
	if task.Priority > pipeline.HighPriorityThreshold {
		t.Errorf("task priority = %d, want normal", task.Priority)
	}
	if task.Handle == nil {
		t.Error("task carries no transport handle")
	}
}

func TestProcessor_ShortUtteranceGetsHighPriority(t *testing.T) {
	engine := &scriptedEngine{sessions: []*vmock.Session{
		{Decisions: decisions(20)}, // 400ms of speech
	}}
	f := newProcFixture(t, engine, &stmock.Provider{})
	id, _ := f.startSession(t)

	for i := 0; i < 20; i++ {
		_ = f.proc.ProcessFrame(id, pcmFrame(0xAA))
	}
	for i := 0; i < 40; i++ {
		_ = f.proc.ProcessFrame(id, pcmFrame(0x00))
	}

	tasks := f.sub.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("submitted %d tasks, want 1", len(tasks))
	}
	if tasks[0].Priority <= pipeline.HighPriorityThreshold {
		t.Errorf("priority = %d, want above %d for a short utterance",
			tasks[0].Priority, pipeline.HighPriorityThreshold)
	}
}

func TestProcessor_VADErrorRepeatsPreviousDecision(t *testing.T) {
	// 20 clean speech frames, then 5 frames where the classifier errors out
	// while its script says silence. The processor must keep treating those
	// as speech, so they end up inside the utterance.
	errs := make([]error, 25)
	for i := 20; i < 25; i++ {
		errs[i] = errors.New("classifier glitch")
	}
	engine := &scriptedEngine{sessions: []*vmock.Session{
		{Decisions: decisions(20), ClassifyErrs: errs},
	}}
	f := newProcFixture(t, engine, &stmock.Provider{})
	id, _ := f.startSession(t)

	for i := 0; i < 25; i++ {
		_ = f.proc.ProcessFrame(id, pcmFrame(0xAA))
	}
	for i := 0; i < 40; i++ {
		_ = f.proc.ProcessFrame(id, pcmFrame(0x00))
	}

	tasks := f.sub.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("submitted %d tasks, want 1", len(tasks))
	}
	if want := 25 * frameBytes; len(tasks[0].Audio) != want {
		t.Errorf("task audio = %d bytes, want %d (error frames carried as speech)",
			len(tasks[0].Audio), want)
	}
}

func TestProcessor_SessionIsolation(t *testing.T) {
	engine := &scriptedEngine{sessions: []*vmock.Session{
		{Decisions: decisions(75)},
		{}, // second session: silence only
	}}
	f := newProcFixture(t, engine, &stmock.Provider{})
	idA, _ := f.startSession(t)
	idB, _ := f.startSession(t)

	for i := 0; i < 75; i++ {
		_ = f.proc.ProcessFrame(idA, pcmFrame(0xAA))
		_ = f.proc.ProcessFrame(idB, pcmFrame(0xAA))
	}
	for i := 0; i < 40; i++ {
		_ = f.proc.ProcessFrame(idA, pcmFrame(0x00))
		_ = f.proc.ProcessFrame(idB, pcmFrame(0x00))
	}

	tasks := f.sub.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("submitted %d tasks, want 1 (only session A spoke)", len(tasks))
	}
	if tasks[0].SessionID != idA {
		t.Errorf("task session = %q, want %q", tasks[0].SessionID, idA)
	}
	if f.proc.ActiveSessions() != 2 {
		t.Errorf("active sessions = %d, want 2", f.proc.ActiveSessions())
	}
}

func TestProcessor_ReleaseDropsState(t *testing.T) {
	vs := &vmock.Session{Decisions: decisions(10)}
	engine := &scriptedEngine{sessions: []*vmock.Session{vs}}
	f := newProcFixture(t, engine, &stmock.Provider{})
	id, _ := f.startSession(t)

	for i := 0; i < 10; i++ {
		_ = f.proc.ProcessFrame(id, pcmFrame(0xAA))
	}
	f.proc.Release(id)

	if vs.CloseCallCount != 1 {
		t.Errorf("vad close count = %d, want 1", vs.CloseCallCount)
	}
	if f.proc.ActiveSessions() != 0 {
		t.Errorf("active sessions = %d after release, want 0", f.proc.ActiveSessions())
	}
	// Releasing twice is harmless.
	f.proc.Release(id)
}

// ─── Execute ───

func execTask(id string, h transport.Handle) pipeline.Task {
	return pipeline.Task{
		SessionID:  id,
		Audio:      make([]byte, 75*frameBytes),
		SampleRate: testRate,
		Handle:     h,
		Start:      time.Now().UTC().Add(-2 * time.Second),
		End:        time.Now().UTC(),
	}
}

func TestProcessor_ExecuteDeliversTranscription(t *testing.T) {
	prov := &stmock.Provider{Results: []transcribe.Result{
		{Text: "hello there", Confidence: 0.93, Language: "en"},
	}}
	f := newProcFixture(t, &scriptedEngine{}, prov)
	id, h := f.startSession(t)

	if err := f.proc.Execute(context.Background(), execTask(id, h)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	msgs := tmock.SentOfType[transport.Transcription](h)
	if len(msgs) != 1 {
		t.Fatalf("sent %d transcription messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.Text != "hello there" {
		t.Errorf("text = %q, want %q", msg.Text, "hello there")
	}
	if !msg.IsFinal {
		t.Error("is_final = false, want true")
	}
	if msg.Confidence != 0.93 {
		t.Errorf("confidence = %v, want 0.93", msg.Confidence)
	}

	// Session roll-up: message count and prompt context.
	if s, _ := f.registry.Get(id); s.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", s.MessageCount)
	}
	if got := f.registry.PromptContext(id); got != "hello there" {
		t.Errorf("prompt context = %q, want %q", got, "hello there")
	}
}

func TestProcessor_ExecutePassesPromptContext(t *testing.T) {
	prov := &stmock.Provider{Results: []transcribe.Result{
		{Text: "first utterance", Confidence: 0.9},
		{Text: "second utterance", Confidence: 0.9},
	}}
	f := newProcFixture(t, &scriptedEngine{}, prov)
	id, h := f.startSession(t)

	if err := f.proc.Execute(context.Background(), execTask(id, h)); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := f.proc.Execute(context.Background(), execTask(id, h)); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if len(prov.TranscribeCalls) != 2 {
		t.Fatalf("transcribe calls = %d, want 2", len(prov.TranscribeCalls))
	}
	if got := prov.TranscribeCalls[0].Req.Prompt; got != "" {
		t.Errorf("first prompt = %q, want empty", got)
	}
	if got := prov.TranscribeCalls[1].Req.Prompt; got != "first utterance" {
		t.Errorf("second prompt = %q, want %q", got, "first utterance")
	}
}

func TestProcessor_ExecuteProviderErrorPropagates(t *testing.T) {
	wantErr := errors.New("model exploded")
	prov := &stmock.Provider{Errs: []error{wantErr}}
	f := newProcFixture(t, &scriptedEngine{}, prov)
	id, h := f.startSession(t)

	err := f.proc.Execute(context.Background(), execTask(id, h))
	if !errors.Is(err, wantErr) {
		t.Fatalf("execute error = %v, want wrap of %v", err, wantErr)
	}
	// Failure messaging is the pipeline's job; the executor stays quiet.
	if msgs := tmock.SentOfType[transport.Transcription](h); len(msgs) != 0 {
		t.Errorf("sent %d transcription messages on failure, want 0", len(msgs))
	}
	if s, _ := f.registry.Get(id); s.MessageCount != 0 {
		t.Errorf("message count = %d after failure, want 0", s.MessageCount)
	}
}

func TestProcessor_ExecuteTimeoutMapsToSentinel(t *testing.T) {
	prov := &stmock.Provider{Delay: 50 * time.Millisecond}
	f := newProcFixture(t, &scriptedEngine{}, prov)
	id, h := f.startSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	err := f.proc.Execute(ctx, execTask(id, h))
	if !errors.Is(err, transcribe.ErrTimeout) {
		t.Fatalf("execute error = %v, want %v", err, transcribe.ErrTimeout)
	}
}

func TestProcessor_ExecuteEmptyTextIsSilentSuccess(t *testing.T) {
	prov := &stmock.Provider{Results: []transcribe.Result{{Text: "  "}}}
	f := newProcFixture(t, &scriptedEngine{}, prov)
	id, h := f.startSession(t)

	if err := f.proc.Execute(context.Background(), execTask(id, h)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if msgs := tmock.SentOfType[transport.Transcription](h); len(msgs) != 0 {
		t.Errorf("sent %d messages for empty transcription, want 0", len(msgs))
	}
}
