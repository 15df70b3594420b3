// Package store defines the persistence collaborator interfaces consumed by
// the analysis pipeline.
//
// The pipeline treats storage as a given: sessions and utterances go in,
// ordered utterances and guarded status transitions come out. Two
// implementations exist — postgres (production, pgx-backed) and memstore
// (tests and the one-shot CLI). Storage technology beyond these interfaces
// is out of the pipeline's hands.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/corvidlabs/attune/pkg/types"
)

// ErrNotFound is returned when the referenced session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrConflict is returned by guarded status transitions when the session is
// not in an expected source state. The pipeline relies on this for both
// monotonic-status enforcement and the single-flight check-and-set.
var ErrConflict = errors.New("status transition conflict")

// CompletedFields carries everything written atomically when a session
// reaches the completed state. Nil enrichment pointers stay null in storage:
// "not computed" is distinct from "computed as empty".
type CompletedFields struct {
	Transcript string
	TagCounts  types.TagCounts
	Score      int
	Competency *types.CompetencyAnalysis
	Coaching   *types.CoachingCards
	Profile    *types.DevelopmentalObservation
	Milestones []types.MilestoneCelebration
}

// SessionStore persists sessions and owns their status state machine.
// All statuses move monotonically; implementations enforce the guards.
type SessionStore interface {
	// CreateSession inserts a new session. Status should be pending.
	CreateSession(ctx context.Context, s *types.Session) error

	// Session returns the session by id, or ErrNotFound.
	Session(ctx context.Context, id string) (*types.Session, error)

	// MarkProcessing moves a pending session to processing. Returns
	// ErrConflict when the session is already processing or terminal —
	// this is the single-flight check-and-set.
	MarkProcessing(ctx context.Context, id string) error

	// MarkFailed moves a processing session to failed, recording the
	// user-facing message and failure time.
	MarkFailed(ctx context.Context, id string, msg string, at time.Time) error

	// MarkCompleted moves a processing session to completed and writes all
	// result fields in one atomic update.
	MarkCompleted(ctx context.Context, id string, fields CompletedFields) error

	// RecentCompleted returns up to limit completed sessions for childID,
	// newest first. Used by coaching and profiling for session history.
	RecentCompleted(ctx context.Context, childID string, limit int) ([]types.Session, error)

	// FailStaleProcessing converts sessions stuck in processing for longer
	// than horizon to failed with msg, returning the ids it reaped.
	FailStaleProcessing(ctx context.Context, horizon time.Duration, msg string) ([]string, error)
}

// UtteranceStore persists the ordered per-session utterance list.
//
// Role and tag updates are batch operations and must be applied atomically
// per call: a concurrent reader sees either none or all of a batch.
type UtteranceStore interface {
	// CreateUtterances bulk-inserts the diarized utterances for a session.
	// Order indexes must already be assigned and unique per session.
	CreateUtterances(ctx context.Context, sessionID string, utts []types.Utterance) error

	// Utterances returns the session's utterances ordered by order index.
	Utterances(ctx context.Context, sessionID string) ([]types.Utterance, error)

	// UpdateRoles assigns roles by speaker id across the whole session.
	UpdateRoles(ctx context.Context, sessionID string, roles map[string]types.Role) error

	// UpdateTags assigns behavior tags by utterance order index.
	UpdateTags(ctx context.Context, sessionID string, tags map[int]types.Tag) error
}

// Store is the full persistence surface the pipeline depends on.
type Store interface {
	SessionStore
	UtteranceStore
}
