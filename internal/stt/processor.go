package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/auricle/internal/archive"
	"github.com/MrWong99/auricle/internal/events"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/transcript"
	"github.com/MrWong99/auricle/internal/transport"
	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/audio/preprocess"
	"github.com/MrWong99/auricle/pkg/provider/transcribe"
	"github.com/MrWong99/auricle/pkg/provider/vad"
)

// transcribeTimeout bounds one transcription attempt. A provider that hangs
// costs at most this much before the attempt counts as a failure.
const transcribeTimeout = 10 * time.Second

// shortUtterance is the duration under which an utterance is treated as a
// quick command or barge-in and routed through the high-priority queue.
const shortUtterance = time.Second

// Submitter accepts finalized utterances for transcription. Implemented by
// [pipeline.Pipeline].
type Submitter interface {
	Submit(task pipeline.Task) error
}

// ProcessorConfig wires a [Processor]. Preprocessor, VAD, Transcriber,
// Registry, and Submitter are required; the rest default sensibly.
type ProcessorConfig struct {
	// Preprocessor conditions frames before classification.
	Preprocessor *preprocess.Preprocessor

	// VAD creates the per-session voice activity classifier.
	VAD vad.Engine

	// VADConfig is handed to VAD.NewSession for each new session.
	VADConfig vad.Config

	// Segmenter configures each session's utterance segmenter.
	Segmenter SegmenterConfig

	// Transcriber converts finalized utterances to text.
	Transcriber transcribe.Provider

	// Filters post-process transcription results. Nil means no filtering.
	Filters *transcript.Chain

	// Registry resolves session state: transport handles, prompt context,
	// language hints, roll-up of results.
	Registry *session.Registry

	// Submitter receives finalized utterances as pipeline tasks.
	Submitter Submitter

	// Archive receives best-effort copies of final results. Nil disables
	// archiving.
	Archive archive.Store

	// Events, when non-nil, receives transcription_created events.
	Events *events.Bus

	// Metrics records processing instrumentation. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// sessionState is everything the processor keeps per session. Its mutex
// serializes frame processing for the session so the segmenter and VAD
// smoothing state only ever see frames in order.
type sessionState struct {
	mu           sync.Mutex
	vad          vad.SessionHandle
	seg          *Segmenter
	lastDecision bool
}

// Processor is the per-frame front half and the per-task back half of the
// transcription path. ProcessFrame runs on gateway read loops: preprocess,
// classify, segment, submit. Execute runs on pipeline workers: transcribe,
// filter, deliver, archive. Both sides are safe for concurrent use across
// sessions; within a session, frames are serialized.
type Processor struct {
	cfg     ProcessorConfig
	metrics *observe.Metrics

	mu      sync.Mutex
	states  map[string]*sessionState
	segCfg  SegmenterConfig
	vadCfg  vad.Config
	filters *transcript.Chain
}

// NewProcessor creates a Processor from cfg.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Filters == nil {
		cfg.Filters = transcript.NewChain()
	}
	if cfg.Archive == nil {
		cfg.Archive = archive.Noop{}
	}
	return &Processor{
		cfg:     cfg,
		metrics: cfg.Metrics,
		states:  make(map[string]*sessionState),
		segCfg:  cfg.Segmenter,
		vadCfg:  cfg.VADConfig,
		filters: cfg.Filters,
	}
}

// ProcessFrame runs one audio frame through preprocessing, voice activity
// detection, and segmentation, submitting a pipeline task when the frame
// completes an utterance. frame must already be mono PCM at the pipeline
// sample rate.
func (p *Processor) ProcessFrame(sessionID string, frame audio.AudioFrame) error {
	st, err := p.state(sessionID)
	if err != nil {
		return fmt.Errorf("stt: session %s: %w", sessionID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	p.metrics.FramesProcessed.Add(context.Background(), 1)
	p.cfg.Registry.Touch(sessionID)

	processed := p.cfg.Preprocessor.Process(sessionID, frame)

	isSpeech := st.lastDecision
	if dec, cerr := st.vad.Classify(processed.Data); cerr != nil {
		// Carry the previous decision forward. A classifier hiccup must not
		// open or close an utterance on its own.
		slog.Debug("vad classify failed, repeating previous decision",
			"session_id", sessionID, "err", cerr)
	} else {
		isSpeech = dec.IsSpeech
		st.lastDecision = isSpeech
	}

	if u, ok := st.seg.Push(processed, isSpeech); ok {
		p.submit(sessionID, u)
	}
	return nil
}

// Release drops all per-session state: VAD handle, segmenter, and the
// preprocessor's noise profile. Registered as a registry eviction hook.
func (p *Processor) Release(sessionID string) {
	p.mu.Lock()
	st, ok := p.states[sessionID]
	delete(p.states, sessionID)
	p.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.vad.Close(); err != nil {
		slog.Warn("vad session close failed", "session_id", sessionID, "err", err)
	}
	st.seg.Reset()
	p.cfg.Preprocessor.Release(sessionID)
}

// ActiveSessions returns the number of sessions with live processing state.
func (p *Processor) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// ─── Hot-reloadable tunables ───

// SetSegmenterConfig applies new segmentation thresholds to existing and
// future sessions.
func (p *Processor) SetSegmenterConfig(cfg SegmenterConfig) {
	p.mu.Lock()
	p.segCfg = cfg
	states := make([]*sessionState, 0, len(p.states))
	for _, st := range p.states {
		states = append(states, st)
	}
	p.mu.Unlock()
	for _, st := range states {
		st.mu.Lock()
		st.seg.SetThresholds(cfg)
		st.mu.Unlock()
	}
}

// SetVADThreshold applies a new speech threshold to sessions created from now
// on. Existing VAD handles keep the threshold they were created with.
func (p *Processor) SetVADThreshold(threshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vadCfg.SpeechThreshold = threshold
}

// SetFilters swaps the transcript filter chain. Tasks already executing
// finish with the chain they started with.
func (p *Processor) SetFilters(c *transcript.Chain) {
	if c == nil {
		c = transcript.NewChain()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = c
}

// state returns the session's processing state, creating it on first frame.
func (p *Processor) state(sessionID string) (*sessionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[sessionID]; ok {
		return st, nil
	}
	handle, err := p.cfg.VAD.NewSession(p.vadCfg)
	if err != nil {
		return nil, fmt.Errorf("new vad session: %w", err)
	}
	st := &sessionState{
		vad: handle,
		seg: NewSegmenter(p.segCfg),
	}
	p.states[sessionID] = st
	return st, nil
}

// submit turns a finalized utterance into a pipeline task. Rejections are the
// pipeline's to report; here they only cost a debug log.
func (p *Processor) submit(sessionID string, u Utterance) {
	p.metrics.RecordUtterance(context.Background(), "silence")

	task := pipeline.Task{
		SessionID:  sessionID,
		Audio:      u.Audio,
		SampleRate: p.segCfg.sampleRate(),
		Handle:     p.cfg.Registry.Transport(sessionID),
		Start:      u.Start,
		End:        u.End,
	}
	if sess, ok := p.cfg.Registry.Get(sessionID); ok {
		task.Language = sess.Language
	}
	// Short utterances are usually commands or interjections; answering them
	// ahead of long-form dictation keeps the interaction snappy.
	if u.Duration < shortUtterance {
		task.Priority = pipeline.HighPriorityThreshold + 1
	}

	if err := p.cfg.Submitter.Submit(task); err != nil {
		slog.Debug("utterance rejected by pipeline",
			"session_id", sessionID,
			"audio_duration", u.Duration,
			"err", err)
	}
}

// ─── Pipeline executor ───

// Execute transcribes one task and delivers the result: provider call under
// a 10s timeout with the session's prompt context, filter chain, transcription
// message, session roll-up, event, and a background archive write. An error
// return means the attempt failed; result delivery problems on a closing
// connection are not failures.
func (p *Processor) Execute(ctx context.Context, task pipeline.Task) (err error) {
	// A panicking provider must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stt: transcribe panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()

	req := transcribe.Request{
		Audio:      task.Audio,
		SampleRate: task.SampleRate,
		Language:   task.Language,
		Prompt:     p.cfg.Registry.PromptContext(task.SessionID),
	}

	start := time.Now()
	res, err := p.cfg.Transcriber.Transcribe(ctx, req)
	p.metrics.RecordTranscribe(ctx, p.cfg.Transcriber.Name(),
		time.Since(start).Seconds(), err != nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", transcribe.ErrTimeout, err)
		}
		return fmt.Errorf("stt: transcribe session %s: %w", task.SessionID, err)
	}

	// The provider heard no speech. A successful attempt, nothing to deliver.
	if strings.TrimSpace(res.Text) == "" {
		return nil
	}

	tr := transcript.Result{
		SessionID:  task.SessionID,
		Text:       res.Text,
		Confidence: res.Confidence,
		Language:   res.Language,
		StartTime:  task.Start,
		EndTime:    task.End,
		IsFinal:    true,
	}

	var hints transcript.Hints
	if sess, ok := p.cfg.Registry.Get(task.SessionID); ok {
		hints.TargetLanguage = sess.TargetLanguage
	}
	p.mu.Lock()
	chain := p.filters
	p.mu.Unlock()
	tr = chain.Apply(ctx, tr, hints)

	p.deliver(task, tr)
	p.cfg.Registry.SetPromptContext(task.SessionID, tr.Text)
	p.cfg.Registry.UpdateFromResult(task.SessionID, tr)
	if p.cfg.Events != nil {
		p.cfg.Events.Emit(events.TranscriptionCreated(tr))
	}
	go p.archiveResult(tr)
	return nil
}

// deliver sends the transcription message. Send failure on a closing
// connection is logged and dropped, not escalated.
func (p *Processor) deliver(task pipeline.Task, tr transcript.Result) {
	if task.Handle == nil {
		return
	}
	msg := transport.Transcription{
		Type:       transport.TypeTranscription,
		Text:       tr.Text,
		Confidence: tr.Confidence,
		IsFinal:    tr.IsFinal,
		Language:   tr.Language,
		Metadata:   tr.Metadata,
		Timestamp:  time.Now().UTC(),
	}
	if err := task.Handle.Send(msg); err != nil {
		slog.Warn("transcription delivery failed",
			"session_id", task.SessionID, "err", err)
	}
}

// archiveResult writes one result to the archive with its own timeout.
func (p *Processor) archiveResult(tr transcript.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), archive.WriteTimeout)
	defer cancel()
	if err := p.cfg.Archive.SaveTranscription(ctx, tr); err != nil {
		slog.Warn("archive write failed",
			"session_id", tr.SessionID, "err", err)
	}
}

// Ensure Processor implements the pipeline executor at compile time.
var _ pipeline.Executor = (*Processor)(nil)
