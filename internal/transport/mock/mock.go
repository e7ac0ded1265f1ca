// Package mock provides a test double for transport.Handle.
//
// Use Handle to capture the messages a component emitted and to simulate a
// client that disconnected mid-flight by flipping Open.
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/auricle/internal/transport"
)

// ErrClosed is returned by Send once the handle has been closed.
var ErrClosed = errors.New("transport mock: handle closed")

// Handle is a mock implementation of transport.Handle.
type Handle struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by every Send call. The message is
	// still recorded.
	SendErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Sent records every message passed to Send in order.
	Sent []any

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// Send records msg and returns SendErr, or ErrClosed after Close.
func (h *Handle) Send(msg any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.Sent = append(h.Sent, msg)
	return h.SendErr
}

// IsOpen reports whether Close has been called.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Close marks the handle closed and returns CloseErr. Subsequent calls are
// no-ops that still count.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CloseCallCount++
	h.closed = true
	return h.CloseErr
}

// SentMessages returns a copy of all recorded messages. Thread-safe.
func (h *Handle) SentMessages() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]any, len(h.Sent))
	copy(out, h.Sent)
	return out
}

// SentOfType returns the recorded messages whose concrete type matches T, in
// order.
func SentOfType[T any](h *Handle) []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []T
	for _, m := range h.Sent {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// ResetCalls clears all recorded messages and counters. Thread-safe.
func (h *Handle) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Sent = nil
	h.CloseCallCount = 0
}

// Ensure Handle implements transport.Handle at compile time.
var _ transport.Handle = (*Handle)(nil)
