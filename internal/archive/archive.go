// Package archive persists sessions and finalized transcriptions.
//
// Archiving is strictly best-effort and off the audio path: callers write in
// background goroutines with their own timeouts, and a failed write costs a
// warn log, never a client-visible error. The [Store] interface has a
// Postgres implementation in the postgres subpackage and a [Noop] used when
// no DSN is configured.
package archive

import (
	"context"
	"time"

	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/transcript"
)

// WriteTimeout bounds a single background archive write.
const WriteTimeout = 5 * time.Second

// Store is the archive sink.
type Store interface {
	// SaveSession records a newly created session.
	SaveSession(ctx context.Context, s session.Session) error

	// EndSession marks a session ended. Unknown session IDs are not an
	// error.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error

	// SaveTranscription records one finalized transcription result.
	SaveTranscription(ctx context.Context, res transcript.Result) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Noop discards every write. It is the store used when archiving is not
// configured, so callers never need a nil check.
type Noop struct{}

func (Noop) SaveSession(context.Context, session.Session) error { return nil }

func (Noop) EndSession(context.Context, string, time.Time) error { return nil }

func (Noop) SaveTranscription(context.Context, transcript.Result) error { return nil }

func (Noop) Ping(context.Context) error { return nil }

func (Noop) Close() error { return nil }

// Ensure Noop implements Store at compile time.
var _ Store = Noop{}
