// Package postgres provides a PostgreSQL-backed implementation of
// [store.Store].
//
// Sessions and utterances live in two tables sharing the session id. Tag
// counts and the qualitative enrichment payloads are stored as JSONB —
// enrichments are independently nullable, so a NULL column is exactly the
// "not computed" state the domain model requires.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT         PRIMARY KEY,
    child_id      TEXT         NOT NULL DEFAULT '',
    mode          TEXT         NOT NULL,
    audio_ref     TEXT         NOT NULL DEFAULT '',
    duration_ns   BIGINT       NOT NULL DEFAULT 0,
    status        TEXT         NOT NULL DEFAULT 'pending',
    error         TEXT         NOT NULL DEFAULT '',
    failed_at     TIMESTAMPTZ,
    transcript    TEXT         NOT NULL DEFAULT '',
    tag_counts    JSONB,
    score         INT          NOT NULL DEFAULT 0,
    competency    JSONB,
    coaching      JSONB,
    profile       JSONB,
    milestones    JSONB,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_child_status
    ON sessions (child_id, status, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_sessions_status_updated
    ON sessions (status, updated_at);
`

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    session_id   TEXT    NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    order_index  INT     NOT NULL,
    speaker_id   TEXT    NOT NULL,
    text         TEXT    NOT NULL,
    start_ns     BIGINT  NOT NULL DEFAULT 0,
    end_ns       BIGINT  NOT NULL DEFAULT 0,
    role         TEXT    NOT NULL DEFAULT '',
    tag          TEXT    NOT NULL DEFAULT '',
    revised_feedback TEXT NOT NULL DEFAULT '',
    additional_tip   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, order_index)
);

CREATE INDEX IF NOT EXISTS idx_utterances_session_speaker
    ON utterances (session_id, speaker_id);
`

// Migrate ensures all required tables and indexes exist. It is idempotent
// and runs automatically from [New].
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlSessions, ddlUtterances} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
