// Package mock provides a test double for the transcribe package interfaces.
//
// Use Provider to script Transcribe outcomes and inspect the requests a
// caller issued. Results and errors are consumed per call in order; the last
// scripted value repeats once the script is exhausted.
//
// Example:
//
//	p := &mock.Provider{
//	    Results: []transcribe.Result{{Text: "hello", Confidence: 0.9}},
//	}
//	res, err := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/auricle/pkg/provider/transcribe"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe. Req.Audio is a copy of the
	// original bytes.
	Req transcribe.Request
}

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// NameVal is returned by Name. Defaults to "mock" when empty.
	NameVal string

	// Results are returned by successive Transcribe calls. When fewer results
	// than calls are scripted, the last result repeats. A nil slice yields the
	// zero Result.
	Results []transcribe.Result

	// Errs are returned by successive Transcribe calls, parallel to Results.
	// Calls beyond the slice return nil.
	Errs []error

	// Delay, when positive, makes Transcribe block for the given duration or
	// until ctx is done, whichever comes first. Use it to exercise timeout
	// handling in callers.
	Delay time.Duration

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Name returns NameVal or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameVal == "" {
		return "mock"
	}
	return p.NameVal
}

// Transcribe records the call and returns the next scripted result and error.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	p.mu.Lock()
	cp := make([]byte, len(req.Audio))
	copy(cp, req.Audio)
	rec := req
	rec.Audio = cp
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: rec})
	idx := len(p.TranscribeCalls) - 1

	var res transcribe.Result
	if len(p.Results) > 0 {
		i := idx
		if i >= len(p.Results) {
			i = len(p.Results) - 1
		}
		res = p.Results[i]
	}
	var err error
	if idx < len(p.Errs) {
		err = p.Errs[idx]
	}
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return transcribe.Result{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return transcribe.Result{}, err
	}
	return res, err
}

// Close records the call and returns CloseErr.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return p.CloseErr
}

// TranscribeCallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) TranscribeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.CloseCallCount = 0
}

// Ensure Provider implements transcribe.Provider at compile time.
var _ transcribe.Provider = (*Provider)(nil)
