package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/auricle/internal/events"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/transcript"
	"github.com/MrWong99/auricle/internal/transport"
)

// ErrNotFound is returned when an operation requires a session that is not
// registered. Seeing it on an internal path usually means a component held on
// to a session ID past its eviction.
var ErrNotFound = errors.New("session: not found")

// ErrRegistryFull is returned by Create when the registry is at capacity and
// no session could be evicted to make room.
var ErrRegistryFull = errors.New("session: registry full")

// languageUpdateConfidence is the minimum result confidence required before a
// detected language replaces the session's working language.
const languageUpdateConfidence = 0.8

// Config tunes a [Registry]. Zero values select the defaults.
type Config struct {
	// MaxSessions caps the number of concurrently registered sessions. When
	// the cap is hit, Create evicts the session with the oldest activity.
	// Default: 1000.
	MaxSessions int

	// InactiveTimeout is how long a session may sit without activity before
	// the sweeper evicts it. Default: 30 minutes.
	InactiveTimeout time.Duration

	// SweepInterval is how often the background sweeper runs. Default: 5
	// minutes.
	SweepInterval time.Duration

	// DefaultLanguage seeds each new session's working language. Empty leaves
	// language detection to the transcriber.
	DefaultLanguage string

	// DefaultTargetLanguage seeds each new session's translation target.
	// Empty disables translation.
	DefaultTargetLanguage string

	// Events, when non-nil, receives session_created and session_ended
	// notifications. Emission is non-blocking.
	Events *events.Bus

	// Metrics overrides the instrument set backing the active-sessions gauge.
	// Nil selects [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// entry is the registry's internal record for one session.
type entry struct {
	s      Session
	handle transport.Handle
	prompt string
}

// Registry is the concurrent session store. All methods are safe for
// concurrent use; a single coarse mutex guards the map, which is fine at
// per-message call frequency.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*entry
	hooks    []func(sessionID string)
	closed   bool

	done      chan struct{}
	stopOnce  sync.Once
	sweeperWG sync.WaitGroup
}

// New creates a Registry. Call [Registry.Start] to launch the background
// sweeper and [Registry.Close] to tear everything down.
func New(cfg Config) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1000
	}
	if cfg.InactiveTimeout <= 0 {
		cfg.InactiveTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*entry),
		done:     make(chan struct{}),
	}
}

// OnEvict registers fn to run whenever a session leaves the registry, for
// any reason. Components use this to release per-session state (noise
// profiles, utterance buffers, circuit breakers). Register all hooks before
// the first session is created.
func (r *Registry) OnEvict(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Start launches the background sweeper.
func (r *Registry) Start() {
	r.sweeperWG.Add(1)
	go r.sweep()
}

// Create registers a new session and returns a snapshot of it. When userID is
// empty a placeholder derived from the generated session ID is used. At
// capacity, the session with the oldest activity is evicted first.
func (r *Registry) Create(userID string) (Session, error) {
	id := uuid.NewString()
	if userID == "" {
		userID = "user-" + id[:8]
	}
	now := time.Now().UTC()
	s := Session{
		ID:             id,
		UserID:         userID,
		CreatedAt:      now,
		LastActivity:   now,
		Status:         StatusActive,
		Language:       r.cfg.DefaultLanguage,
		TargetLanguage: r.cfg.DefaultTargetLanguage,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Session{}, ErrRegistryFull
	}
	var evicted *entry
	if len(r.sessions) >= r.cfg.MaxSessions {
		oldest := r.oldestLocked()
		if oldest == "" {
			r.mu.Unlock()
			return Session{}, ErrRegistryFull
		}
		evicted = r.removeLocked(oldest)
	}
	r.sessions[id] = &entry{s: s}
	r.mu.Unlock()
	r.cfg.Metrics.ActiveSessions.Add(context.Background(), 1)

	if evicted != nil {
		slog.Warn("session registry at capacity, evicted oldest session",
			"evicted_session_id", evicted.s.ID,
			"max_sessions", r.cfg.MaxSessions)
		r.teardown(evicted, "evicted")
	}

	slog.Info("session created", "session_id", id, "user_id", userID)
	r.emit(events.SessionCreated(id, userID))
	return s, nil
}

// Get returns a snapshot of the session, or false when it is not registered.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return e.s, true
}

// End removes the session, closes its transport handle, and fires the
// eviction hooks. It is idempotent: ending an unknown or already-ended
// session returns false and does nothing.
func (r *Registry) End(id string) bool {
	r.mu.Lock()
	e := r.removeLocked(id)
	r.mu.Unlock()
	if e == nil {
		return false
	}
	r.teardown(e, "client")
	slog.Info("session ended", "session_id", id, "messages", e.s.MessageCount)
	return true
}

// AttachTransport binds a live connection handle to the session. Reconnecting
// clients re-attach; an existing handle for the session is closed first so a
// stale writer cannot linger.
func (r *Registry) AttachTransport(id string, h transport.Handle) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	prev := e.handle
	e.handle = h
	e.s.LastActivity = time.Now().UTC()
	r.mu.Unlock()

	if prev != nil && prev != h {
		if err := prev.Close(); err != nil {
			slog.Warn("session: closing replaced transport handle", "session_id", id, "err", err)
		}
	}
	return nil
}

// DetachTransport unbinds the session's connection handle without ending the
// session. Late worker results for a detached session are dropped silently.
func (r *Registry) DetachTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.handle = nil
	}
}

// Transport returns the session's connection handle, or nil when the session
// is unknown or currently detached.
func (r *Registry) Transport(id string) transport.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		return e.handle
	}
	return nil
}

// Touch bumps the session's activity timestamp. Unknown IDs are ignored.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.s.LastActivity = time.Now().UTC()
	}
}

// PromptContext returns the previous utterance's final text for the session,
// used to bias the next transcription. Empty when none exists.
func (r *Registry) PromptContext(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		return e.prompt
	}
	return ""
}

// SetPromptContext records text as the session's transcription prompt
// context. Empty text clears it.
func (r *Registry) SetPromptContext(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.prompt = text
	}
}

// UpdateFromResult folds a finalized transcription into the session record:
// message count, activity, high-confidence language detection, and any
// emotion metadata the filters attached.
func (r *Registry) UpdateFromResult(id string, res transcript.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		// Bug territory: a worker finished for a session that no longer exists.
		slog.Error("session: update for unknown session", "session_id", id)
		return
	}
	e.s.MessageCount++
	e.s.LastActivity = time.Now().UTC()

	if res.Language != "" && res.Language != e.s.Language &&
		res.Confidence >= languageUpdateConfidence && len(res.Text) > 10 {
		slog.Info("session language updated",
			"session_id", id, "from", e.s.Language, "to", res.Language)
		e.s.Language = res.Language
	}

	if emo := res.Meta(transcript.MetaEmotion); emo != "" {
		score := 0.0
		if v := res.Meta(transcript.MetaEmotionScore); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				score = f
			}
		}
		e.s.Emotion = EmotionState{Emotion: emo, Score: score}
	}
}

// List returns snapshots of all registered sessions in unspecified order.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Open reports whether the registry is still accepting sessions. False only
// after Close. Served as a readiness check.
func (r *Registry) Open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Close shuts the registry down: the sweeper is stopped first so no new
// evictions are scheduled, then every open transport handle is closed and
// the eviction hooks fire, and finally the map is cleared. Safe to call more
// than once.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.sweeperWG.Wait()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	remaining := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		remaining = append(remaining, e)
	}
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range remaining {
		r.teardown(e, "shutdown")
	}
	slog.Info("session registry closed", "sessions_ended", len(remaining))
	return nil
}

// sweep periodically evicts sessions that have been idle longer than the
// inactivity timeout.
func (r *Registry) sweep() {
	defer r.sweeperWG.Done()
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-r.cfg.InactiveTimeout)

			r.mu.Lock()
			var expired []*entry
			for id, e := range r.sessions {
				if e.s.LastActivity.Before(cutoff) {
					expired = append(expired, r.removeLocked(id))
				}
			}
			r.mu.Unlock()

			for _, e := range expired {
				slog.Info("session evicted after inactivity",
					"session_id", e.s.ID,
					"last_activity", e.s.LastActivity)
				r.teardown(e, "evicted")
			}
		}
	}
}

// oldestLocked returns the ID of the session with the oldest activity.
// Must be called with r.mu held.
func (r *Registry) oldestLocked() string {
	var oldestID string
	var oldest time.Time
	for id, e := range r.sessions {
		if oldestID == "" || e.s.LastActivity.Before(oldest) {
			oldestID = id
			oldest = e.s.LastActivity
		}
	}
	return oldestID
}

// removeLocked deletes the session from the map and marks it ended, returning
// the removed entry or nil. Must be called with r.mu held. The caller is
// responsible for teardown outside the lock.
func (r *Registry) removeLocked(id string) *entry {
	e, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	e.s.Status = StatusEnded
	return e
}

// teardown closes the entry's transport handle, fires the eviction hooks, and
// emits the session_ended event. Runs without the registry lock so a slow
// transport close cannot stall unrelated sessions. Every removal path funnels
// through here, which keeps the active-sessions gauge balanced.
func (r *Registry) teardown(e *entry, reason string) {
	r.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	if e.handle != nil {
		if err := e.handle.Close(); err != nil {
			slog.Warn("session: transport close error", "session_id", e.s.ID, "err", err)
		}
		e.handle = nil
	}

	r.mu.Lock()
	hooks := make([]func(string), len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(e.s.ID)
	}

	r.emit(events.SessionEnded(e.s.ID, reason, e.s.MessageCount))
}

// emit forwards an event to the bus when one is configured.
func (r *Registry) emit(ev events.Event) {
	if r.cfg.Events != nil {
		r.cfg.Events.Emit(ev)
	}
}
