// Package whisper implements transcribe.Provider using the whisper.cpp CGO
// bindings, eliminating HTTP overhead entirely. The whisper.cpp static
// library (libwhisper.a) and headers (whisper.h) must be available at link
// time via LIBRARY_PATH and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all concurrent
// calls; each Transcribe creates its own whisper context, which is the unit
// of thread confinement in the bindings.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/transcribe"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

const (
	// whisperSampleRate is the only input rate whisper.cpp accepts. Other
	// rates are resampled on the way in.
	whisperSampleRate = 16000

	defaultLanguage = "en"

	// nominalConfidence is reported because whisper.cpp exposes no
	// utterance-level confidence.
	nominalConfidence = 0.9
)

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Provider runs batch inference against a locally loaded whisper.cpp model.
type Provider struct {
	model    whisperlib.Model
	language string
	threads  int
	closed   atomic.Bool
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default language code for transcription (e.g. "en",
// "de", or "auto" for detection). Per-request hints override it.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithThreads caps the number of CPU threads one inference may use.
// Zero lets whisper.cpp decide.
func WithThreads(n int) Option {
	return func(p *Provider) { p.threads = n }
}

// New creates a Provider that loads the whisper.cpp model from the given file
// path. The caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements transcribe.Provider.
func (p *Provider) Name() string { return "whisper-native" }

// Close releases the whisper model. Calling Close more than once is safe, and
// Close may race an in-flight Transcribe.
func (p *Provider) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs one utterance through the model. Inference itself is a
// blocking CGO call; it runs on its own goroutine so that ctx expiry returns
// control to the caller immediately. The abandoned inference finishes in the
// background and its result is discarded.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if p.closed.Load() {
		return transcribe.Result{}, errors.New("whisper: provider is closed")
	}
	if err := ctx.Err(); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	pcm := req.Audio
	if req.SampleRate != whisperSampleRate {
		pcm = audio.ResampleMono16(pcm, req.SampleRate, whisperSampleRate)
	}
	samples := pcmToFloat32(pcm)

	type inference struct {
		text string
		err  error
	}
	ch := make(chan inference, 1)
	go func() {
		text, err := p.infer(samples, lang, req.Prompt)
		ch <- inference{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return transcribe.Result{}, fmt.Errorf("whisper: inference abandoned: %w", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return transcribe.Result{}, res.err
		}
		return transcribe.Result{
			Text:       res.text,
			Confidence: nominalConfidence,
			Language:   lang,
		}, nil
	}
}

// infer creates a fresh whisper context, configures it, and returns the
// concatenated segment text. Contexts are NOT thread-safe, but the model can
// be shared across goroutines.
func (p *Provider) infer(samples []float32, language, prompt string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(uint(p.threads))
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
