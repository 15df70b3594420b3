// Package pipeline orchestrates the session analysis state machine: the
// mandatory stage chain (transcription, role identification, behavior
// coding, scoring) followed by the best-effort qualitative branch, with
// per-stage retries and monotonic status transitions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corvidlabs/attune/internal/coding"
	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/internal/insight"
	"github.com/corvidlabs/attune/internal/observe"
	"github.com/corvidlabs/attune/internal/resilience"
	"github.com/corvidlabs/attune/internal/roles"
	"github.com/corvidlabs/attune/internal/scoring"
	"github.com/corvidlabs/attune/internal/store"
	"github.com/corvidlabs/attune/internal/transcribe"
	"github.com/corvidlabs/attune/pkg/provider/stt"
	"github.com/corvidlabs/attune/pkg/types"
)

// FailureMessage is the generic user-facing error recorded on failed
// sessions. Provider internals never leak into it.
const FailureMessage = "analysis failed, please try recording again"

// stageDelays is the retry schedule for each mandatory stage: the first
// attempt runs immediately, retries wait 5s then 15s. Three attempts total.
var stageDelays = []time.Duration{5 * time.Second, 15 * time.Second}

// ErrAlreadyRunning is returned when a trigger races an in-flight run for
// the same session.
var ErrAlreadyRunning = errors.New("pipeline already running for session")

// AudioSource resolves a session's audio reference into a transcription
// request. Implementations own the storage fetch; the pipeline only passes
// the payload through to the STT provider.
type AudioSource interface {
	Fetch(ctx context.Context, s *types.Session) (stt.Request, error)
}

// AudioSourceFunc adapts a function to the AudioSource interface.
type AudioSourceFunc func(ctx context.Context, s *types.Session) (stt.Request, error)

func (f AudioSourceFunc) Fetch(ctx context.Context, s *types.Session) (stt.Request, error) {
	return f(ctx, s)
}

// Pipeline runs one session through the full analysis chain. Safe for
// concurrent use across distinct sessions; per-session exclusivity is the
// Supervisor's job.
type Pipeline struct {
	store       store.Store
	audio       AudioSource
	transcriber *transcribe.Transcriber
	roles       *roles.Identifier
	coder       *coding.Coder
	echoes      *coding.EchoVerifier
	insight     *insight.Analyzer
	log         *slog.Logger
	metrics     *observe.Metrics
	retry       resilience.RetryPolicy
	now         func() time.Time
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStageRetryPolicy overrides the mandatory-stage retry policy. The
// default allows 3 attempts with 0s/5s/15s delays.
func WithStageRetryPolicy(rp resilience.RetryPolicy) Option {
	return func(p *Pipeline) { p.retry = rp }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New assembles a Pipeline. A nil logger falls back to slog.Default.
func New(
	st store.Store,
	audio AudioSource,
	transcriber *transcribe.Transcriber,
	ident *roles.Identifier,
	coder *coding.Coder,
	analyzer *insight.Analyzer,
	log *slog.Logger,
	opts ...Option,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		store:       st,
		audio:       audio,
		transcriber: transcriber,
		roles:       ident,
		coder:       coder,
		echoes:      coding.NewEchoVerifier(),
		insight:     analyzer,
		log:         log,
		metrics:     observe.DefaultMetrics(),
		retry:       resilience.NewRetryPolicy(len(stageDelays)+1, resilience.ScheduleBackoff(stageDelays...), stageRetryable),
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// stageRetryable reports whether a mandatory-stage error is worth another
// attempt. Transport, parse, and consistency failures are; a validation
// failure or any other fatal condition (such as a transcript with no adult)
// is not.
func stageRetryable(err error) bool {
	return gateway.IsTransport(err) || gateway.IsParse(err) || gateway.IsConsistency(err)
}

// Run executes the full analysis for one session. It claims the session via
// the store's pending-to-processing check-and-set; a second concurrent call
// for the same id returns [ErrAlreadyRunning]. On mandatory-stage failure
// the session is marked failed with a generic message and Run returns the
// underlying error.
func (p *Pipeline) Run(ctx context.Context, sessionID string) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	s, err := p.store.Session(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("pipeline: load session %s: %w", sessionID, err)
	}

	if err := p.store.MarkProcessing(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, sessionID)
		}
		return fmt.Errorf("pipeline: claim session %s: %w", sessionID, err)
	}

	p.metrics.PipelineStarted(ctx)
	defer p.metrics.PipelineEnded(ctx)

	log := p.log.With("session_id", sessionID, "mode", s.Mode)
	log.InfoContext(ctx, "pipeline started")

	utts, err := p.transcribeStage(ctx, s)
	if err != nil {
		return p.fail(ctx, s, "transcribe", err)
	}
	utts, err = p.rolesStage(ctx, s, utts)
	if err != nil {
		return p.fail(ctx, s, "roles", err)
	}
	utts, counts, err := p.codingStage(ctx, s, utts)
	if err != nil {
		return p.fail(ctx, s, "coding", err)
	}

	start := p.now()
	score := scoring.Score(counts, s.Mode)
	p.metrics.RecordStage(ctx, "scoring", string(s.Mode), p.now().Sub(start).Seconds())

	enrich := p.insight.Run(ctx, insight.Input{
		Session:    s,
		Utterances: utts,
		TagCounts:  counts,
		Score:      score,
	})

	fields := store.CompletedFields{
		Transcript: renderTranscript(utts),
		TagCounts:  counts,
		Score:      score,
		Competency: enrich.Competency,
		Coaching:   enrich.Coaching,
		Profile:    enrich.Profile,
		Milestones: enrich.Milestones,
	}
	if err := p.store.MarkCompleted(ctx, sessionID, fields); err != nil {
		return p.fail(ctx, s, "persist", err)
	}

	p.metrics.RecordPipelineRun(ctx, string(s.Mode), "completed")
	log.InfoContext(ctx, "pipeline completed", "score", score, "utterances", len(utts))
	return nil
}

// transcribeStage fetches the audio and runs transcription with the stage
// retry budget. The audio fetch participates in the retry: a flaky object
// store read gets the same second chance a flaky STT call does.
func (p *Pipeline) transcribeStage(ctx context.Context, s *types.Session) ([]types.Utterance, error) {
	return runStage(ctx, p, s, "transcribe", func(ctx context.Context) ([]types.Utterance, error) {
		req, err := p.audio.Fetch(ctx, s)
		if err != nil {
			return nil, &gateway.TransportError{Err: fmt.Errorf("fetch audio: %w", err)}
		}
		return p.transcriber.Transcribe(ctx, s.ID, req)
	})
}

// rolesStage classifies speakers and applies the role map in one batch.
func (p *Pipeline) rolesStage(ctx context.Context, s *types.Session, utts []types.Utterance) ([]types.Utterance, error) {
	res, err := runStage(ctx, p, s, "roles", func(ctx context.Context) (*roles.Result, error) {
		return p.roles.Identify(ctx, utts)
	})
	if err != nil {
		return nil, err
	}
	roleMap := res.Roles()
	if err := p.store.UpdateRoles(ctx, s.ID, roleMap); err != nil {
		return nil, fmt.Errorf("persist roles: %w", err)
	}
	for i := range utts {
		utts[i].Role = roleMap[utts[i].SpeakerID]
	}
	return utts, nil
}

// codingStage tags adult utterances, persists the batch, and derives the
// aggregate counts from the tagged set.
func (p *Pipeline) codingStage(ctx context.Context, s *types.Session, utts []types.Utterance) ([]types.Utterance, types.TagCounts, error) {
	adult := make([]types.Utterance, 0, len(utts))
	for _, u := range utts {
		if u.Role == types.RoleAdult {
			adult = append(adult, u)
		}
	}

	res, err := runStage(ctx, p, s, "coding", func(ctx context.Context) (*coding.Result, error) {
		return p.coder.Code(ctx, s.Mode, adult)
	})
	if err != nil {
		return nil, nil, err
	}
	if n := p.echoes.Verify(utts, res.Tags); n > 0 {
		p.log.InfoContext(ctx, "echo tags downgraded", "session_id", s.ID, "count", n)
	}
	if err := p.store.UpdateTags(ctx, s.ID, res.Tags); err != nil {
		return nil, nil, fmt.Errorf("persist tags: %w", err)
	}
	for i := range utts {
		if tag, ok := res.Tags[utts[i].OrderIndex]; ok {
			utts[i].Tag = tag
		}
	}
	return utts, scoring.Aggregate(utts), nil
}

// runStage executes one mandatory stage under the retry policy, recording
// duration and retry metrics.
func runStage[R any](ctx context.Context, p *Pipeline, s *types.Session, stage string, fn func(ctx context.Context) (R, error)) (R, error) {
	start := p.now()
	var out R
	err := p.retry.Do(ctx, stage, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		p.metrics.RecordStageRetry(ctx, stage)
		p.log.WarnContext(ctx, "stage attempt failed, retrying",
			"session_id", s.ID,
			"stage", stage,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	})
	p.metrics.RecordStage(ctx, stage, string(s.Mode), p.now().Sub(start).Seconds())
	return out, err
}

// fail marks the session failed with the generic user-facing message and
// returns the internal error for the caller's logs.
func (p *Pipeline) fail(ctx context.Context, s *types.Session, stage string, err error) error {
	p.log.ErrorContext(ctx, "pipeline failed",
		"session_id", s.ID,
		"stage", stage,
		"error", err,
	)
	p.metrics.RecordPipelineRun(ctx, string(s.Mode), "failed")
	if markErr := p.store.MarkFailed(ctx, s.ID, FailureMessage, p.now()); markErr != nil {
		p.log.ErrorContext(ctx, "failed to record session failure",
			"session_id", s.ID, "error", markErr)
	}
	return fmt.Errorf("pipeline: stage %s: %w", stage, err)
}

// renderTranscript flattens the final utterance list into the stored
// plain-text transcript.
func renderTranscript(utts []types.Utterance) string {
	var sb strings.Builder
	for _, u := range utts {
		label := u.SpeakerID
		if u.Role != types.RoleUnset {
			label = string(u.Role)
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, u.Text)
	}
	return sb.String()
}
