package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/auricle/internal/archive"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/transcript"
)

// Store is the PostgreSQL-backed [archive.Store]. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ archive.Store = (*Store)(nil)

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the archive tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SaveSession implements [archive.Store]. Re-saving an existing session ID
// updates its user and language rather than failing, so retried writes are
// harmless.
func (s *Store) SaveSession(ctx context.Context, sess session.Session) error {
	const q = `
		INSERT INTO sessions (id, user_id, language, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET user_id = EXCLUDED.user_id, language = EXCLUDED.language`

	_, err := s.pool.Exec(ctx, q, sess.ID, sess.UserID, sess.Language, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("archive store: save session: %w", err)
	}
	return nil
}

// EndSession implements [archive.Store]. It stamps ended_at on the session
// row. An unknown session ID is not an error: the session may predate the
// archive being configured.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	const q = `UPDATE sessions SET ended_at = $2 WHERE id = $1`

	_, err := s.pool.Exec(ctx, q, sessionID, endedAt)
	if err != nil {
		return fmt.Errorf("archive store: end session: %w", err)
	}
	return nil
}

// SaveTranscription implements [archive.Store]. It appends res to the
// transcriptions table.
func (s *Store) SaveTranscription(ctx context.Context, res transcript.Result) error {
	meta, err := json.Marshal(metadataOrEmpty(res.Metadata))
	if err != nil {
		return fmt.Errorf("archive store: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO transcriptions
		    (session_id, text, confidence, language, start_time, end_time, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, q,
		res.SessionID,
		res.Text,
		res.Confidence,
		res.Language,
		nullableTime(res.StartTime),
		nullableTime(res.EndTime),
		meta,
	)
	if err != nil {
		return fmt.Errorf("archive store: save transcription: %w", err)
	}
	return nil
}

// Ping implements [archive.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// metadataOrEmpty ensures a nil metadata map serialises as {} rather than
// JSON null, matching the column default.
func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
