package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/auricle/pkg/provider/transcribe"
)

// TranscribeFallback implements [transcribe.Provider] with automatic failover
// across multiple transcription backends. Each backend has its own circuit
// breaker, so a whisper model that keeps timing out is bypassed in favour of
// the next configured provider without the caller noticing.
type TranscribeFallback struct {
	group *FallbackGroup[transcribe.Provider]
}

// Compile-time interface assertion.
var _ transcribe.Provider = (*TranscribeFallback)(nil)

// NewTranscribeFallback creates a [TranscribeFallback] with primary as the
// preferred backend.
func NewTranscribeFallback(primary transcribe.Provider, cfg FallbackConfig) *TranscribeFallback {
	return &TranscribeFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (f *TranscribeFallback) AddFallback(provider transcribe.Provider) {
	f.group.AddFallback(provider.Name(), provider)
}

// Name identifies the failover chain, e.g. "whisper-native>openai".
func (f *TranscribeFallback) Name() string {
	return strings.Join(f.group.Names(), ">")
}

// BreakerStates reports the per-backend circuit breaker states.
func (f *TranscribeFallback) BreakerStates() map[string]State {
	return f.group.BreakerStates()
}

// Transcribe runs the request against the first healthy provider. If the
// primary fails or its breaker is open, subsequent fallbacks are tried in
// registration order.
func (f *TranscribeFallback) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	return ExecuteWithResult(f.group, func(p transcribe.Provider) (transcribe.Result, error) {
		return p.Transcribe(ctx, req)
	})
}

// Close closes every registered provider and joins their errors.
func (f *TranscribeFallback) Close() error {
	var errs []error
	names := f.group.Names()
	for i, p := range f.group.Values() {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", names[i], err))
		}
	}
	return errors.Join(errs...)
}
