package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/auricle/internal/observe"
)

// Default buffer and delivery tuning for a [Bus].
const (
	// DefaultBuffer is the event channel capacity. Events beyond it are
	// dropped rather than queued.
	DefaultBuffer = 256

	// publishTimeout bounds a single Publish call so a wedged backend cannot
	// stall the drain goroutine forever.
	publishTimeout = 5 * time.Second
)

// Bus decouples event producers from the publisher. Emit is a non-blocking
// channel send; a single drain goroutine forwards events to the publisher in
// the background. Create with [NewBus], start with [Bus.Start], and stop with
// [Bus.Close].
type Bus struct {
	pub     Publisher
	ch      chan Event
	metrics *observe.Metrics

	dropped atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// BusOption configures a [Bus].
type BusOption func(*Bus)

// WithMetrics overrides the instrument set, mainly so tests can read the
// drop counter through their own meter provider.
func WithMetrics(m *observe.Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// NewBus creates a Bus over pub. buffer <= 0 selects [DefaultBuffer].
func NewBus(pub Publisher, buffer int, opts ...BusOption) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b := &Bus{
		pub:  pub,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Start launches the drain goroutine.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.drain()
}

// Emit hands an event to the bus without blocking. When the buffer is full
// the event is dropped, counted, and logged — the caller's latency is never
// tied to publisher health.
func (b *Bus) Emit(ev Event) {
	select {
	case b.ch <- ev:
	default:
		n := b.dropped.Add(1)
		b.metrics.EventsDropped.Add(context.Background(), 1)
		slog.Warn("event bus buffer full, dropping event",
			"type", ev.Type,
			"session_id", ev.SessionID,
			"dropped_total", n)
	}
}

// Dropped returns the number of events dropped because the buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops the drain goroutine, flushes events already buffered, and
// closes the publisher. Events emitted after Close are dropped. Safe to call
// more than once.
func (b *Bus) Close() error {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
	return b.pub.Close()
}

// drain forwards buffered events to the publisher until Close, then flushes
// whatever is still buffered.
func (b *Bus) drain() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.ch:
			b.publish(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.ch:
					b.publish(ev)
				default:
					return
				}
			}
		}
	}
}

// publish delivers one event, best-effort. Failures are logged and forgotten.
func (b *Bus) publish(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed",
			"type", ev.Type,
			"session_id", ev.SessionID,
			"err", err)
	}
}
