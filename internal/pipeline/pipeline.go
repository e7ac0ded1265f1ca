// Package pipeline dispatches finalized utterances to a bounded pool of
// transcription workers.
//
// Two bounded queues give short commands and barge-in utterances a latency
// edge over long-form speech: roughly half the workers serve the
// high-priority queue exclusively while the rest drain both, checking high
// first. Admission is guarded per session by a circuit breaker, and both
// queues reject rather than block when full — overload surfaces to the client
// immediately instead of growing an unbounded backlog behind the frame-receive
// path.
//
// Every accepted task produces exactly one terminal outcome for the client: a
// transcription message from the executor, or a scoped error message from the
// pipeline. Internal failure detail stays in the logs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/auricle/internal/events"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/resilience"
	"github.com/MrWong99/auricle/internal/transport"
)

// pullTimeout is how long a worker blocks on its queues before re-checking
// for shutdown. Liveness only, not a functional timeout.
const pullTimeout = time.Second

// Config tunes a [Pipeline]. Zero values select the defaults.
type Config struct {
	// QueueSize is the normal-priority queue capacity; the high-priority
	// queue gets a quarter of it. Default: 1000.
	QueueSize int

	// WorkerCount is the total number of transcription workers. Half of them
	// (rounded down) are dedicated to the high-priority queue. Default: 4.
	WorkerCount int

	// BreakerThreshold is the consecutive failure count that opens a
	// session's circuit breaker. Default: 5.
	BreakerThreshold int

	// BreakerOpenDuration is how long an open breaker rejects submissions
	// before allowing a probe. Default: 30s.
	BreakerOpenDuration time.Duration

	// Executor carries accepted tasks through transcription. Required.
	Executor Executor

	// Events, when non-nil, receives error_occurred notifications for
	// rejected and failed tasks.
	Events *events.Bus

	// Metrics records pipeline instrumentation. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Stats is a point-in-time snapshot of pipeline load, served on the stats
// endpoint.
type Stats struct {
	HighDepth      int            `json:"high_queue_depth"`
	HighCapacity   int            `json:"high_queue_capacity"`
	NormalDepth    int            `json:"normal_queue_depth"`
	NormalCapacity int            `json:"normal_queue_capacity"`
	Workers        int            `json:"workers"`
	Breakers       map[string]int `json:"breakers"`
}

// Pipeline is the priority dispatcher. Create with [New], launch workers with
// [Pipeline.Start], and stop them with [Pipeline.Stop]. All methods are safe
// for concurrent use.
type Pipeline struct {
	cfg     Config
	high    chan Task
	normal  chan Task
	metrics *observe.Metrics

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
	running  bool

	ctx      context.Context
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Pipeline. Start must be called before Submit accepts tasks.
func New(cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerOpenDuration <= 0 {
		cfg.BreakerOpenDuration = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	highCap := cfg.QueueSize / 4
	if highCap < 1 {
		highCap = 1
	}
	return &Pipeline{
		cfg:      cfg,
		high:     make(chan Task, highCap),
		normal:   make(chan Task, cfg.QueueSize),
		metrics:  cfg.Metrics,
		breakers: make(map[string]*resilience.CircuitBreaker),
		done:     make(chan struct{}),
	}
}

// Start launches the worker pool. ctx is the lifetime context handed to the
// executor for each task.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	dedicated := p.cfg.WorkerCount / 2
	for i := 0; i < dedicated; i++ {
		p.wg.Add(1)
		go p.highWorker(i)
	}
	for i := dedicated; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.normalWorker(i)
	}
	slog.Info("pipeline started",
		"workers", p.cfg.WorkerCount,
		"high_priority_workers", dedicated,
		"queue_size", p.cfg.QueueSize)
}

// Stop shuts the worker pool down and waits for in-flight tasks to finish.
// Queued tasks that no worker picked up are dropped; their sessions' clients
// are disconnecting anyway during shutdown. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	slog.Info("pipeline stopped")
}

// Submit admits one task. The full sequence is: per-session breaker check,
// non-blocking enqueue, queued acknowledgement — in that order, and none of
// it blocks. Rejections send the client exactly one error message and return
// a classified error to the caller.
func (p *Pipeline) Submit(task Task) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	br := p.breaker(task.SessionID)
	if err := br.Allow(); err != nil {
		p.reject(task, msgCircuitOpen, "rejected_circuit_open")
		return fmt.Errorf("pipeline: session %s: %w", task.SessionID, err)
	}

	queue, queueName := p.normal, "normal"
	if task.Priority > HighPriorityThreshold {
		queue, queueName = p.high, "high"
	}

	select {
	case queue <- task:
		p.metrics.QueueDepth.Add(context.Background(), 1,
			metric.WithAttributes(observe.Attr("queue", queueName)))
		p.metrics.RecordTask(context.Background(), "queued")
		p.send(task, transport.NewAudioReceived(task.SessionID))
		return nil
	default:
		// Admission is cancelled, not failed: queue pressure says nothing
		// about the session's transcription health.
		br.Release()
		p.reject(task, msgQueueFull, "rejected_queue_full")
		return fmt.Errorf("pipeline: session %s: %w", task.SessionID, ErrQueueFull)
	}
}

// ForgetSession drops the session's circuit breaker. Wired to registry
// eviction so breaker state does not outlive its session.
func (p *Pipeline) ForgetSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.breakers, sessionID)
}

// BreakerState reports the session's breaker state. The second return is
// false when the session has no breaker yet.
func (p *Pipeline) BreakerState(sessionID string) (resilience.State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	br, ok := p.breakers[sessionID]
	if !ok {
		return resilience.StateClosed, false
	}
	return br.State(), true
}

// Stats returns a snapshot of queue depths and breaker states.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make(map[string]int, 3)
	for _, br := range p.breakers {
		states[br.State().String()]++
	}
	return Stats{
		HighDepth:      len(p.high),
		HighCapacity:   cap(p.high),
		NormalDepth:    len(p.normal),
		NormalCapacity: cap(p.normal),
		Workers:        p.cfg.WorkerCount,
		Breakers:       states,
	}
}

// breaker returns the session's circuit breaker, creating it on first use.
func (p *Pipeline) breaker(sessionID string) *resilience.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	br, ok := p.breakers[sessionID]
	if !ok {
		br = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "session-" + sessionID,
			MaxFailures:  p.cfg.BreakerThreshold,
			ResetTimeout: p.cfg.BreakerOpenDuration,
			// One successful probe closes the breaker.
			HalfOpenMax: 1,
		})
		p.breakers[sessionID] = br
	}
	return br
}

// highWorker serves the high-priority queue exclusively.
func (p *Pipeline) highWorker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case task := <-p.high:
			p.handle(task, "high")
		case <-time.After(pullTimeout):
		}
	}
}

// normalWorker steals from the high-priority queue first, then drains both.
func (p *Pipeline) normalWorker(id int) {
	defer p.wg.Done()
	for {
		// Non-blocking high-priority check gives urgent tasks the edge
		// without starving normal traffic.
		select {
		case task := <-p.high:
			p.handle(task, "high")
			continue
		default:
		}

		select {
		case <-p.done:
			return
		case task := <-p.high:
			p.handle(task, "high")
		case task := <-p.normal:
			p.handle(task, "normal")
		case <-time.After(pullTimeout):
		}
	}
}

// handle carries one dequeued task to its terminal outcome.
func (p *Pipeline) handle(task Task, queueName string) {
	ctx := p.ctx
	p.metrics.QueueDepth.Add(ctx, -1,
		metric.WithAttributes(observe.Attr("queue", queueName)))

	br := p.breaker(task.SessionID)

	// The client disconnected while the task sat in the queue. Drop it
	// silently; this is not a transcription failure.
	if task.Handle == nil || !task.Handle.IsOpen() {
		br.Release()
		slog.Debug("pipeline: dropping task for closed connection",
			"session_id", task.SessionID)
		return
	}

	p.send(task, transport.NewProcessingStarted(task.SessionID))
	p.metrics.QueueWait.Record(ctx, time.Since(task.EnqueuedAt).Seconds(),
		metric.WithAttributes(observe.Attr("queue", queueName)))

	if err := p.cfg.Executor.Execute(ctx, task); err != nil {
		br.RecordFailure()
		slog.Warn("pipeline: task failed",
			"session_id", task.SessionID,
			"audio_bytes", len(task.Audio),
			"err", err)
		p.send(task, transport.NewError(msgProcessingFailed))
		p.emit(events.ErrorOccurred(task.SessionID, "transcribe", msgProcessingFailed))
		return
	}
	br.RecordSuccess()
}

// reject tells the client why the task was dropped and records the outcome.
func (p *Pipeline) reject(task Task, message, status string) {
	p.metrics.RecordTask(context.Background(), status)
	p.send(task, transport.NewError(message))
	p.emit(events.ErrorOccurred(task.SessionID, "pipeline", message))
}

// send delivers a message to the task's transport handle, tolerating closed
// connections.
func (p *Pipeline) send(task Task, msg any) {
	if task.Handle == nil {
		return
	}
	if err := task.Handle.Send(msg); err != nil {
		slog.Warn("pipeline: transport send failed",
			"session_id", task.SessionID, "err", err)
	}
}

// emit forwards an event to the bus when one is configured.
func (p *Pipeline) emit(ev events.Event) {
	if p.cfg.Events != nil {
		p.cfg.Events.Emit(ev)
	}
}
