// Package openai provides a transcribe provider backed by the OpenAI audio
// transcription API. Utterances are wrapped in a WAV container and uploaded
// per request; there is no streaming connection to manage, which keeps the
// provider a good fallback behind a local model.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/provider/transcribe"
)

// nominalConfidence is reported because the transcription endpoint's default
// response format carries no confidence information.
const nominalConfidence = 0.9

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Provider implements transcribe.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point at
// an API-compatible local inference server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcribe Provider. model defaults to
// whisper-1 when empty.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Name implements transcribe.Provider.
func (p *Provider) Name() string { return "openai" }

// Close implements transcribe.Provider. The underlying HTTP client holds no
// resources that outlive requests.
func (p *Provider) Close() error { return nil }

// Transcribe uploads the utterance as a WAV file and returns the recognized
// text. Language and prompt hints are forwarded when present.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if len(req.Audio) == 0 {
		return transcribe.Result{}, errors.New("openai: empty audio")
	}
	if req.SampleRate <= 0 {
		return transcribe.Result{}, fmt.Errorf("openai: invalid sample rate %d", req.SampleRate)
	}

	wav := audio.EncodeWAV(req.Audio, req.SampleRate, 1)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: oai.AudioModelWhisper1,
	}
	if p.model != "" {
		params.Model = oai.AudioModel(p.model)
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: transcription request: %w", err)
	}

	return transcribe.Result{
		Text:       resp.Text,
		Confidence: nominalConfidence,
		Language:   req.Language,
	}, nil
}
