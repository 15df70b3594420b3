package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/corvidlabs/attune/internal/store"
)

const (
	// DefaultStaleAfter is how long a session may sit in processing before
	// the reaper declares the run dead and fails it.
	DefaultStaleAfter = 15 * time.Minute

	// defaultReapInterval is how often the reaper scans for stuck sessions.
	defaultReapInterval = time.Minute
)

// Supervisor owns pipeline execution for a process: it enforces at most one
// in-flight run per session id and converts sessions stuck in processing
// into failed ones.
//
// The in-process map is the fast path; the store's pending-to-processing
// check-and-set remains the authoritative guard, so two replicas sharing a
// database still cannot double-run a session.
type Supervisor struct {
	pipeline *Pipeline
	sessions store.SessionStore
	log      *slog.Logger

	staleAfter   time.Duration
	reapInterval time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
	runCtx context.Context
}

// SupervisorOption is a functional option for [NewSupervisor].
type SupervisorOption func(*Supervisor)

// WithStaleAfter overrides the processing staleness horizon.
func WithStaleAfter(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithReapInterval overrides the reaper scan interval.
func WithReapInterval(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.reapInterval = d
		}
	}
}

// NewSupervisor creates a Supervisor. Call [Supervisor.Start] before
// triggering runs and [Supervisor.Close] on shutdown.
func NewSupervisor(p *Pipeline, sessions store.SessionStore, log *slog.Logger, opts ...SupervisorOption) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		pipeline:     p,
		sessions:     sessions,
		log:          log,
		staleAfter:   DefaultStaleAfter,
		reapInterval: defaultReapInterval,
		inflight:     make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the staleness reaper. Runs triggered before Start still
// execute; they just use a background context.
func (s *Supervisor) Start(ctx context.Context) {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.reapLoop(s.runCtx)
}

// Close stops the reaper and waits for in-flight runs to finish.
func (s *Supervisor) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Trigger starts the analysis pipeline for sessionID in the background and
// returns immediately. A trigger for a session that is already in flight in
// this process, or already claimed in the store, returns
// [ErrAlreadyRunning]; the caller treats that as a no-op, not a failure of
// the running analysis.
func (s *Supervisor) Trigger(sessionID string) error {
	s.mu.Lock()
	if _, busy := s.inflight[sessionID]; busy {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.inflight[sessionID] = struct{}{}
	s.mu.Unlock()

	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, sessionID)
			s.mu.Unlock()
		}()
		if err := s.pipeline.Run(ctx, sessionID); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.log.ErrorContext(ctx, "pipeline run finished with error",
				"session_id", sessionID, "error", err)
		}
	}()
	return nil
}

// Running reports whether sessionID has an in-flight run in this process.
func (s *Supervisor) Running(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inflight[sessionID]
	return busy
}

func (s *Supervisor) reapLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapStale(ctx)
		}
	}
}

// reapStale fails sessions stuck in processing beyond the staleness
// horizon. The horizon must comfortably exceed the worst-case run time so a
// slow live run is never reaped out from under itself.
func (s *Supervisor) reapStale(ctx context.Context) {
	ids, err := s.sessions.FailStaleProcessing(ctx, s.staleAfter, FailureMessage)
	if err != nil {
		s.log.ErrorContext(ctx, "stale session reap failed", "error", err)
		return
	}
	for _, id := range ids {
		s.log.WarnContext(ctx, "stale processing session marked failed",
			"session_id", id, "stale_after", s.staleAfter)
	}
}
