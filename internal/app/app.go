// Package app wires all Auricle subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and blocks until ctx is cancelled, and
// Shutdown tears everything down in order. ApplyConfigChange is the hot
// reload entry point, wired to the config file watcher in main.
//
// Providers (transcriber, VAD, event publisher, archive) are constructed in
// main from the config registry and injected; tests inject mocks the same
// way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/auricle/internal/archive"
	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/events"
	"github.com/MrWong99/auricle/internal/gateway"
	"github.com/MrWong99/auricle/internal/health"
	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/stt"
	"github.com/MrWong99/auricle/internal/transcript"
	"github.com/MrWong99/auricle/internal/transcript/phonetic"
	"github.com/MrWong99/auricle/pkg/audio/preprocess"
	"github.com/MrWong99/auricle/pkg/provider/transcribe"
	"github.com/MrWong99/auricle/pkg/provider/vad"
	"github.com/MrWong99/auricle/pkg/provider/vad/energy"
)

// serverShutdownTimeout bounds the graceful HTTP drain when ctx is cancelled.
const serverShutdownTimeout = 10 * time.Second

// Providers holds the backends main constructs from the config registry.
// Transcriber is required; the rest default to local implementations.
type Providers struct {
	// Transcriber converts utterances to text. Usually a resilience fallback
	// chain wrapping the configured primary and fallbacks.
	Transcriber transcribe.Provider

	// VAD classifies frames as speech or silence. Nil selects the energy
	// engine.
	VAD vad.Engine

	// Publisher receives lifecycle and transcription events. Nil selects the
	// log publisher.
	Publisher events.Publisher

	// Archive persists sessions and transcriptions. Nil selects the no-op
	// archive.
	Archive archive.Store

	// Translator backs the translation filter. Nil selects the null
	// translator, which leaves text unchanged.
	Translator transcript.Translator
}

// App owns all subsystem lifetimes for one Auricle server.
type App struct {
	cfg        *config.Config
	providers  *Providers
	logLevel   *slog.LevelVar
	translator transcript.Translator

	bus       *events.Bus
	registry  *session.Registry
	processor *stt.Processor
	pipe      *pipeline.Pipeline
	gateway   *gateway.Server
	server    *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogLevelVar hands App the level var behind the process logger so
// ApplyConfigChange can retune verbosity without a restart.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// pipelineSubmitter breaks the construction cycle between the frame
// processor (which submits tasks) and the pipeline (which executes them via
// the processor). New fills p before anything can submit.
type pipelineSubmitter struct {
	p *pipeline.Pipeline
}

func (s *pipelineSubmitter) Submit(task pipeline.Task) error {
	return s.p.Submit(task)
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: event bus, session
// registry, audio preprocessor, frame processor, worker pipeline, and the
// HTTP/WebSocket gateway. Nothing starts running until Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Transcriber == nil {
		return nil, errors.New("app: a transcriber provider is required")
	}
	a := &App{
		cfg:        cfg,
		providers:  providers,
		translator: providers.Translator,
	}
	for _, o := range opts {
		o(a)
	}

	vadEngine := providers.VAD
	if vadEngine == nil {
		vadEngine = energy.New()
	}
	store := providers.Archive
	if store == nil {
		store = archive.Noop{}
	}
	pub := providers.Publisher
	if pub == nil {
		pub = events.LogPublisher{}
	}

	// ── 1. Event bus ─────────────────────────────────────────────────────
	a.bus = events.NewBus(pub, 0)
	a.closers = append(a.closers, a.bus.Close)

	// ── 2. Session registry ──────────────────────────────────────────────
	a.registry = session.New(session.Config{
		MaxSessions:           cfg.Sessions.MaxSessions,
		InactiveTimeout:       cfg.Sessions.InactiveTimeout(),
		SweepInterval:         cfg.Sessions.SweepInterval(),
		DefaultTargetLanguage: cfg.Transcript.TargetLanguage,
		Events:                a.bus,
	})
	a.closers = append(a.closers, a.registry.Close)

	// ── 3. Frame processor ───────────────────────────────────────────────
	pre := preprocess.New(preprocess.Config{
		SampleRate:          cfg.Audio.SampleRate,
		NoiseReduction:      cfg.Preprocess.NoiseReductionEnabled,
		NoiseStrength:       cfg.Preprocess.NoiseReductionStrength,
		Bandpass:            cfg.Preprocess.BandpassFilterEnabled,
		VolumeNormalization: cfg.Preprocess.VolumeNormalizationEnabled,
		TargetRMS:           cfg.Preprocess.TargetRMS,
	})
	sub := &pipelineSubmitter{}
	a.processor = stt.NewProcessor(stt.ProcessorConfig{
		Preprocessor: pre,
		VAD:          vadEngine,
		VADConfig: vad.Config{
			SampleRate:      cfg.Audio.SampleRate,
			SpeechThreshold: cfg.VAD.SpeechThreshold,
		},
		Segmenter:   segmenterConfig(cfg.Segmenter, cfg.Audio.SampleRate),
		Transcriber: providers.Transcriber,
		Filters:     buildFilters(cfg.Transcript, a.translator),
		Registry:    a.registry,
		Submitter:   sub,
		Archive:     store,
		Events:      a.bus,
	})

	// ── 4. Worker pipeline ───────────────────────────────────────────────
	a.pipe = pipeline.New(pipeline.Config{
		QueueSize:           cfg.Pipeline.QueueSize,
		WorkerCount:         cfg.Pipeline.WorkerCount,
		BreakerThreshold:    cfg.Pipeline.CircuitBreakerFailureThreshold,
		BreakerOpenDuration: cfg.Pipeline.CircuitBreakerOpenDuration(),
		Executor:            a.processor,
		Events:              a.bus,
	})
	sub.p = a.pipe

	// Eviction releases everything a session accumulated across subsystems.
	a.registry.OnEvict(a.processor.Release)
	a.registry.OnEvict(a.pipe.ForgetSession)
	a.registry.OnEvict(func(sessionID string) { go a.archiveEnd(store, sessionID) })

	// ── 5. Gateway ───────────────────────────────────────────────────────
	checks := []health.Checker{
		{
			Name:  "pipeline",
			Check: func(context.Context) error { return a.pipelineReady() },
		},
		{
			Name: "sessions",
			Check: func(context.Context) error {
				if !a.registry.Open() {
					return errors.New("registry closed")
				}
				return nil
			},
		},
	}
	if _, noop := store.(archive.Noop); !noop {
		checks = append(checks, health.Checker{Name: "archive", Check: store.Ping})
	}
	a.gateway = gateway.New(gateway.Config{
		Registry:   a.registry,
		Processor:  a.processor,
		Stats:      a.pipe,
		Archive:    store,
		Events:     a.bus,
		Health:     health.New(checks...),
		SampleRate: cfg.Audio.SampleRate,
	})
	a.closers = append(a.closers, store.Close)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.gateway.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background subsystems and serves HTTP until ctx is
// cancelled, then drains the server gracefully. Run returns nil on a clean
// shutdown.
func (a *App) Run(ctx context.Context) error {
	a.bus.Start()
	a.registry.Start()
	a.pipe.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("listening with TLS", "addr", a.server.Addr)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			slog.Warn("http drain incomplete", "err", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the worker pipeline and tears down the remaining subsystems
// in order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting and finishing tasks before closing what workers use.
		a.pipe.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfigChange applies the hot-reloadable delta between old and new.
// Fields that require a restart (listen address, worker counts, provider
// selection) are ignored; the watcher already logged them. Wired to
// [config.NewWatcher] in main.
func (a *App) ApplyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SegmenterChanged {
		a.processor.SetSegmenterConfig(segmenterConfig(d.NewSegmenter, a.cfg.Audio.SampleRate))
		slog.Info("segmenter thresholds changed",
			"silence_threshold", d.NewSegmenter.SilenceThreshold(),
			"min_speech_duration", d.NewSegmenter.MinSpeechDuration(),
			"max_audio_length", d.NewSegmenter.MaxAudioLength())
	}
	if d.VADThresholdChanged {
		a.processor.SetVADThreshold(d.NewVADThreshold)
		slog.Info("vad speech threshold changed", "threshold", d.NewVADThreshold)
	}
	if d.VocabularyChanged {
		tc := a.cfg.Transcript
		tc.Vocabulary = d.NewVocabulary
		tc.PhoneticThreshold = d.NewPhoneticThreshold
		a.processor.SetFilters(buildFilters(tc, a.translator))
		slog.Info("vocabulary changed",
			"terms", len(d.NewVocabulary),
			"phonetic_threshold", d.NewPhoneticThreshold)
	}

	a.cfg = new
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// archiveEnd records a session's end time, best-effort with its own timeout.
func (a *App) archiveEnd(store archive.Store, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), archive.WriteTimeout)
	defer cancel()
	if err := store.EndSession(ctx, sessionID, time.Now().UTC()); err != nil {
		slog.Warn("archive end-session failed", "session_id", sessionID, "err", err)
	}
}

// pipelineReady reports queue saturation as a readiness failure so load
// balancers stop routing new sessions here before submissions start bouncing.
func (a *App) pipelineReady() error {
	stats := a.pipe.Stats()
	if stats.NormalDepth >= stats.NormalCapacity {
		return fmt.Errorf("normal queue full (%d/%d)", stats.NormalDepth, stats.NormalCapacity)
	}
	return nil
}

// segmenterConfig converts the config durations to the segmenter's form.
func segmenterConfig(c config.SegmenterConfig, sampleRate int) stt.SegmenterConfig {
	return stt.SegmenterConfig{
		SilenceThreshold:  c.SilenceThreshold(),
		MinSpeechDuration: c.MinSpeechDuration(),
		MaxAudioLength:    c.MaxAudioLength(),
		SampleRate:        sampleRate,
	}
}

// buildFilters assembles the transcript filter chain from config: phonetic
// vocabulary correction first, then translation. An empty vocabulary skips
// the corrector entirely.
func buildFilters(c config.TranscriptConfig, tr transcript.Translator) *transcript.Chain {
	var filters []transcript.Filter
	if len(c.Vocabulary) > 0 {
		matcher := phonetic.New(phonetic.WithPhoneticThreshold(c.PhoneticThreshold))
		filters = append(filters, transcript.NewCorrector(c.Vocabulary, transcript.WithMatcher(matcher)))
	}
	if c.TargetLanguage != "" {
		filters = append(filters, transcript.NewTranslationFilter(tr))
	}
	return transcript.NewChain(filters...)
}

// SlogLevel converts a config log level to the slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
