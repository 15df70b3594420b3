package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corvidlabs/attune/internal/store"
	"github.com/corvidlabs/attune/pkg/types"
)

// Store is the PostgreSQL-backed [store.Store]. All operations are safe for
// concurrent use; the status state machine is enforced with conditional
// UPDATEs so writers racing on the same session resolve to exactly one
// winner.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	status := sess.Status
	if status == "" {
		status = types.StatusPending
	}

	const q = `
		INSERT INTO sessions (id, child_id, mode, audio_ref, duration_ns, status)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		sess.ID, sess.ChildID, string(sess.Mode), sess.AudioRef,
		sess.Duration.Nanoseconds(), string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

// Session implements [store.SessionStore].
func (s *Store) Session(ctx context.Context, id string) (*types.Session, error) {
	const q = `
		SELECT id, child_id, mode, audio_ref, duration_ns, status, error,
		       failed_at, transcript, tag_counts, score,
		       competency, coaching, profile, milestones,
		       created_at, updated_at
		FROM   sessions
		WHERE  id = $1`

	row := s.pool.QueryRow(ctx, q, id)

	var (
		sess       types.Session
		mode       string
		status     string
		durationNS int64
		failedAt   *time.Time
		tagCounts  []byte
		competency []byte
		coaching   []byte
		profile    []byte
		milestones []byte
	)
	err := row.Scan(&sess.ID, &sess.ChildID, &mode, &sess.AudioRef, &durationNS,
		&status, &sess.Error, &failedAt, &sess.Transcript, &tagCounts, &sess.Score,
		&competency, &coaching, &profile, &milestones,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get session: %w", err)
	}

	sess.Mode = types.Mode(mode)
	sess.Status = types.Status(status)
	sess.Duration = time.Duration(durationNS)
	if failedAt != nil {
		sess.FailedAt = *failedAt
	}
	if err := unmarshalInto(tagCounts, &sess.TagCounts); err != nil {
		return nil, fmt.Errorf("postgres: decode tag counts: %w", err)
	}
	if err := unmarshalInto(competency, &sess.Competency); err != nil {
		return nil, fmt.Errorf("postgres: decode competency: %w", err)
	}
	if err := unmarshalInto(coaching, &sess.Coaching); err != nil {
		return nil, fmt.Errorf("postgres: decode coaching: %w", err)
	}
	if err := unmarshalInto(profile, &sess.Profile); err != nil {
		return nil, fmt.Errorf("postgres: decode profile: %w", err)
	}
	if err := unmarshalInto(milestones, &sess.Milestones); err != nil {
		return nil, fmt.Errorf("postgres: decode milestones: %w", err)
	}
	return &sess, nil
}

// unmarshalInto decodes JSONB bytes into out, treating NULL as absent.
func unmarshalInto(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// MarkProcessing implements [store.SessionStore]. The conditional UPDATE is
// the single-flight check-and-set: only a pending session transitions, and
// exactly one concurrent caller observes RowsAffected == 1.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	const q = `
		UPDATE sessions
		SET    status = 'processing', updated_at = now()
		WHERE  id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("postgres: mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

// MarkFailed implements [store.SessionStore].
func (s *Store) MarkFailed(ctx context.Context, id string, msg string, at time.Time) error {
	const q = `
		UPDATE sessions
		SET    status = 'failed', error = $2, failed_at = $3, updated_at = now()
		WHERE  id = $1 AND status = 'processing'`

	tag, err := s.pool.Exec(ctx, q, id, msg, at)
	if err != nil {
		return fmt.Errorf("postgres: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

// MarkCompleted implements [store.SessionStore].
func (s *Store) MarkCompleted(ctx context.Context, id string, fields store.CompletedFields) error {
	tagCounts, err := marshalNullable(fields.TagCounts)
	if err != nil {
		return fmt.Errorf("postgres: encode tag counts: %w", err)
	}
	competency, err := marshalNullable(fields.Competency)
	if err != nil {
		return fmt.Errorf("postgres: encode competency: %w", err)
	}
	coaching, err := marshalNullable(fields.Coaching)
	if err != nil {
		return fmt.Errorf("postgres: encode coaching: %w", err)
	}
	profile, err := marshalNullable(fields.Profile)
	if err != nil {
		return fmt.Errorf("postgres: encode profile: %w", err)
	}
	milestones, err := marshalNullable(fields.Milestones)
	if err != nil {
		return fmt.Errorf("postgres: encode milestones: %w", err)
	}

	const q = `
		UPDATE sessions
		SET    status = 'completed', transcript = $2, tag_counts = $3,
		       score = $4, competency = $5, coaching = $6, profile = $7,
		       milestones = $8, updated_at = now()
		WHERE  id = $1 AND status = 'processing'`

	tag, err := s.pool.Exec(ctx, q, id, fields.Transcript, tagCounts,
		fields.Score, competency, coaching, profile, milestones)
	if err != nil {
		return fmt.Errorf("postgres: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrNotFound(ctx, id)
	}
	return nil
}

// marshalNullable encodes v to JSON, mapping nil pointers/maps/slices to SQL
// NULL so "not computed" round-trips as absence.
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case types.TagCounts:
		if val == nil {
			return nil, nil
		}
	case *types.CompetencyAnalysis:
		if val == nil {
			return nil, nil
		}
	case *types.CoachingCards:
		if val == nil {
			return nil, nil
		}
	case *types.DevelopmentalObservation:
		if val == nil {
			return nil, nil
		}
	case []types.MilestoneCelebration:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// conflictOrNotFound distinguishes the two reasons a guarded UPDATE can
// affect zero rows.
func (s *Store) conflictOrNotFound(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check session: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// RecentCompleted implements [store.SessionStore].
func (s *Store) RecentCompleted(ctx context.Context, childID string, limit int) ([]types.Session, error) {
	const q = `
		SELECT id, mode, score, tag_counts, created_at
		FROM   sessions
		WHERE  child_id = $1 AND status = 'completed'
		ORDER  BY created_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, childID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent completed: %w", err)
	}
	defer rows.Close()

	var out []types.Session
	for rows.Next() {
		var (
			sess      types.Session
			mode      string
			tagCounts []byte
		)
		if err := rows.Scan(&sess.ID, &mode, &sess.Score, &tagCounts, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		sess.Mode = types.Mode(mode)
		sess.Status = types.StatusCompleted
		sess.ChildID = childID
		if err := unmarshalInto(tagCounts, &sess.TagCounts); err != nil {
			return nil, fmt.Errorf("postgres: decode tag counts: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// FailStaleProcessing implements [store.SessionStore].
func (s *Store) FailStaleProcessing(ctx context.Context, horizon time.Duration, msg string) ([]string, error) {
	const q = `
		UPDATE sessions
		SET    status = 'failed', error = $1, failed_at = now(), updated_at = now()
		WHERE  status = 'processing'
		  AND  updated_at < now() - ($2::bigint * interval '1 microsecond')
		RETURNING id`

	rows, err := s.pool.Query(ctx, q, msg, horizon.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("postgres: fail stale processing: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan stale id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateUtterances implements [store.UtteranceStore]. The bulk insert runs
// in one transaction so a reader never sees a partial transcript.
func (s *Store) CreateUtterances(ctx context.Context, sessionID string, utts []types.Utterance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create utterances: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO utterances
		    (session_id, order_index, speaker_id, text, start_ns, end_ns)
		VALUES ($1, $2, $3, $4, $5, $6)`

	batch := &pgx.Batch{}
	for _, u := range utts {
		batch.Queue(q, sessionID, u.OrderIndex, u.SpeakerID, u.Text,
			u.Start.Nanoseconds(), u.End.Nanoseconds())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: create utterances: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create utterances: %w", err)
	}
	return nil
}

// Utterances implements [store.UtteranceStore].
func (s *Store) Utterances(ctx context.Context, sessionID string) ([]types.Utterance, error) {
	const q = `
		SELECT order_index, speaker_id, text, start_ns, end_ns, role, tag,
		       revised_feedback, additional_tip
		FROM   utterances
		WHERE  session_id = $1
		ORDER  BY order_index`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get utterances: %w", err)
	}
	defer rows.Close()

	var out []types.Utterance
	for rows.Next() {
		var (
			u              types.Utterance
			startNS, endNS int64
			role, tag      string
		)
		if err := rows.Scan(&u.OrderIndex, &u.SpeakerID, &u.Text, &startNS, &endNS,
			&role, &tag, &u.RevisedFeedback, &u.AdditionalTip); err != nil {
			return nil, fmt.Errorf("postgres: scan utterance: %w", err)
		}
		u.SessionID = sessionID
		u.Start = time.Duration(startNS)
		u.End = time.Duration(endNS)
		u.Role = types.Role(role)
		u.Tag = types.Tag(tag)
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateRoles implements [store.UtteranceStore]. One UPDATE per speaker id,
// wrapped in a transaction so the role map lands atomically.
func (s *Store) UpdateRoles(ctx context.Context, sessionID string, roles map[string]types.Role) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update roles: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		UPDATE utterances
		SET    role = $3
		WHERE  session_id = $1 AND speaker_id = $2`

	batch := &pgx.Batch{}
	for speakerID, role := range roles {
		batch.Queue(q, sessionID, speakerID, string(role))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: update roles: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update roles: %w", err)
	}
	return nil
}

// UpdateTags implements [store.UtteranceStore]. Atomic like UpdateRoles.
func (s *Store) UpdateTags(ctx context.Context, sessionID string, tags map[int]types.Tag) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update tags: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		UPDATE utterances
		SET    tag = $3
		WHERE  session_id = $1 AND order_index = $2`

	batch := &pgx.Batch{}
	for orderIndex, tag := range tags {
		batch.Queue(q, sessionID, orderIndex, string(tag))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: update tags: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update tags: %w", err)
	}
	return nil
}
