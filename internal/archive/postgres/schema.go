// Package postgres provides the PostgreSQL-backed archive store.
//
// Two tables back the archive: sessions records session lifecycle, and
// transcriptions records every finalized utterance with its timing and
// metadata. [Migrate] creates both idempotently on startup.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveSession(ctx, sess)
//	_ = store.SaveTranscription(ctx, res)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — sessions
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT         PRIMARY KEY,
    user_id    TEXT         NOT NULL DEFAULT '',
    language   TEXT         NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id
    ON sessions (user_id);

CREATE INDEX IF NOT EXISTS idx_sessions_created_at
    ON sessions (created_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — transcriptions
// ─────────────────────────────────────────────────────────────────────────────

const ddlTranscriptions = `
CREATE TABLE IF NOT EXISTS transcriptions (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    language   TEXT         NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ,
    end_time   TIMESTAMPTZ,
    metadata   JSONB        NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_session_id
    ON transcriptions (session_id);

CREATE INDEX IF NOT EXISTS idx_transcriptions_created_at
    ON transcriptions (created_at);

CREATE INDEX IF NOT EXISTS idx_transcriptions_fts
    ON transcriptions USING GIN (to_tsvector('english', text));
`

// Migrate creates or ensures the archive tables exist. It is idempotent
// (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and safe to call
// on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlTranscriptions} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
