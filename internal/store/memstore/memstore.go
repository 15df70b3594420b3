// Package memstore provides an in-memory implementation of [store.Store].
//
// It backs unit tests and the one-shot `attune analyze` command. The
// implementation honours the same guarantees as the postgres store: guarded
// monotonic status transitions and atomic batch updates.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/corvidlabs/attune/internal/store"
	"github.com/corvidlabs/attune/pkg/types"
)

// Store is an in-memory [store.Store]. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*types.Session
	utterances map[string][]types.Utterance

	// processingSince tracks when each session entered processing, for the
	// staleness reaper.
	processingSince map[string]time.Time
}

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		sessions:        make(map[string]*types.Session),
		utterances:      make(map[string][]types.Utterance),
		processingSince: make(map[string]time.Time),
	}
}

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(_ context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	if cp.Status == "" {
		cp.Status = types.StatusPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.sessions[cp.ID] = &cp
	return nil
}

// Session implements [store.SessionStore].
func (s *Store) Session(_ context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// MarkProcessing implements [store.SessionStore].
func (s *Store) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if sess.Status != types.StatusPending {
		return store.ErrConflict
	}
	sess.Status = types.StatusProcessing
	sess.UpdatedAt = time.Now().UTC()
	s.processingSince[id] = sess.UpdatedAt
	return nil
}

// MarkFailed implements [store.SessionStore].
func (s *Store) MarkFailed(_ context.Context, id string, msg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if sess.Status != types.StatusProcessing {
		return store.ErrConflict
	}
	sess.Status = types.StatusFailed
	sess.Error = msg
	sess.FailedAt = at
	sess.UpdatedAt = time.Now().UTC()
	delete(s.processingSince, id)
	return nil
}

// MarkCompleted implements [store.SessionStore].
func (s *Store) MarkCompleted(_ context.Context, id string, fields store.CompletedFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if sess.Status != types.StatusProcessing {
		return store.ErrConflict
	}
	sess.Status = types.StatusCompleted
	sess.Transcript = fields.Transcript
	sess.TagCounts = fields.TagCounts
	sess.Score = fields.Score
	sess.Competency = fields.Competency
	sess.Coaching = fields.Coaching
	sess.Profile = fields.Profile
	sess.Milestones = fields.Milestones
	sess.UpdatedAt = time.Now().UTC()
	delete(s.processingSince, id)
	return nil
}

// RecentCompleted implements [store.SessionStore].
func (s *Store) RecentCompleted(_ context.Context, childID string, limit int) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Session
	for _, sess := range s.sessions {
		if sess.ChildID == childID && sess.Status == types.StatusCompleted {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FailStaleProcessing implements [store.SessionStore].
func (s *Store) FailStaleProcessing(_ context.Context, horizon time.Duration, msg string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var reaped []string
	for id, since := range s.processingSince {
		if now.Sub(since) < horizon {
			continue
		}
		sess := s.sessions[id]
		sess.Status = types.StatusFailed
		sess.Error = msg
		sess.FailedAt = now
		sess.UpdatedAt = now
		delete(s.processingSince, id)
		reaped = append(reaped, id)
	}
	return reaped, nil
}

// CreateUtterances implements [store.UtteranceStore].
func (s *Store) CreateUtterances(_ context.Context, sessionID string, utts []types.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]types.Utterance, len(utts))
	copy(cp, utts)
	for i := range cp {
		cp[i].SessionID = sessionID
	}
	s.utterances[sessionID] = cp
	return nil
}

// Utterances implements [store.UtteranceStore].
func (s *Store) Utterances(_ context.Context, sessionID string) ([]types.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.utterances[sessionID]
	out := make([]types.Utterance, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool {
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out, nil
}

// UpdateRoles implements [store.UtteranceStore]. The whole batch is applied
// under one lock acquisition, so readers never observe a partial role map.
func (s *Store) UpdateRoles(_ context.Context, sessionID string, roles map[string]types.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	utts := s.utterances[sessionID]
	for i := range utts {
		if role, ok := roles[utts[i].SpeakerID]; ok {
			utts[i].Role = role
		}
	}
	return nil
}

// UpdateTags implements [store.UtteranceStore]. Atomic like UpdateRoles.
func (s *Store) UpdateTags(_ context.Context, sessionID string, tags map[int]types.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	utts := s.utterances[sessionID]
	for i := range utts {
		if tag, ok := tags[utts[i].OrderIndex]; ok {
			utts[i].Tag = tag
		}
	}
	return nil
}
