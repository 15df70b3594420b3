// Package insight implements the qualitative analysis branch: the optional
// AI-generated enrichments layered on top of a fully coded session.
//
// The branch runs after scoring and is strictly best-effort. Sub-stages run
// concurrently and settle independently: one failing leaves its output nil
// and the session completed. Coaching cards are a CDI-only concern and are
// never generated for discipline-practice sessions.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/internal/store"
	"github.com/corvidlabs/attune/pkg/types"
)

// defaultHistoryLimit bounds how many prior completed sessions feed the
// coaching and profiling prompts.
const defaultHistoryLimit = 5

// Input is everything the branch consumes. Utterances carry final roles and
// tags; the branch never mutates them.
type Input struct {
	Session    *types.Session
	Utterances []types.Utterance
	TagCounts  types.TagCounts
	Score      int
}

// Output carries the settled enrichments. A nil field means the sub-stage
// failed or was skipped for the session's mode.
type Output struct {
	Competency *types.CompetencyAnalysis
	Coaching   *types.CoachingCards
	Profile    *types.DevelopmentalObservation
	Milestones []types.MilestoneCelebration
}

// Analyzer runs the qualitative branch. Safe for concurrent use.
type Analyzer struct {
	gw           *gateway.Gateway
	sessions     store.SessionStore
	log          *slog.Logger
	historyLimit int
}

// Option is a functional option for [New].
type Option func(*Analyzer)

// WithHistoryLimit overrides how many prior sessions inform coaching and
// profiling.
func WithHistoryLimit(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// New creates an Analyzer. A nil logger falls back to slog.Default.
func New(gw *gateway.Gateway, sessions store.SessionStore, log *slog.Logger, opts ...Option) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	a := &Analyzer{gw: gw, sessions: sessions, log: log, historyLimit: defaultHistoryLimit}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run executes all applicable sub-stages concurrently and waits for every
// one to settle. Run itself never fails: sub-stage errors are logged with
// the session id and stage name, and the corresponding output stays nil.
func (a *Analyzer) Run(ctx context.Context, in Input) Output {
	var (
		out     Output
		history []types.Session
		g       errgroup.Group
	)

	if in.Session.ChildID != "" {
		h, err := a.sessions.RecentCompleted(ctx, in.Session.ChildID, a.historyLimit)
		if err != nil {
			a.log.WarnContext(ctx, "insight: session history unavailable",
				"session_id", in.Session.ID, "error", err)
		} else {
			history = h
		}
	}

	g.Go(func() error {
		c, err := a.Competency(ctx, in)
		if err != nil {
			a.logStageFailure(ctx, in.Session.ID, "competency", err)
			return nil
		}
		out.Competency = c
		return nil
	})
	g.Go(func() error {
		p, err := a.Profile(ctx, in, history)
		if err != nil {
			a.logStageFailure(ctx, in.Session.ID, "profiling", err)
			return nil
		}
		out.Profile = p
		return nil
	})
	g.Go(func() error {
		m, err := a.Milestones(ctx, in)
		if err != nil {
			a.logStageFailure(ctx, in.Session.ID, "milestones", err)
			return nil
		}
		out.Milestones = m
		return nil
	})
	if in.Session.Mode == types.ModeCDI {
		g.Go(func() error {
			c, err := a.Coaching(ctx, in, history)
			if err != nil {
				a.logStageFailure(ctx, in.Session.ID, "coaching", err)
				return nil
			}
			out.Coaching = c
			return nil
		})
	}

	// Every sub-stage swallows its own error, so Wait cannot fail and the
	// goroutines never cancel one another.
	_ = g.Wait()
	return out
}

func (a *Analyzer) logStageFailure(ctx context.Context, sessionID, stage string, err error) {
	a.log.WarnContext(ctx, "insight: sub-stage failed, output omitted",
		"session_id", sessionID,
		"stage", stage,
		"error", err,
	)
}

// renderTranscript formats the tagged utterance list for prompt inclusion.
func renderTranscript(utts []types.Utterance) string {
	var sb strings.Builder
	for _, u := range utts {
		role := string(u.Role)
		if role == "" {
			role = "unknown"
		}
		if u.Tag != "" {
			fmt.Fprintf(&sb, "%s [%s, %s]: %s\n", u.Key(), role, u.Tag, u.Text)
		} else {
			fmt.Fprintf(&sb, "%s [%s]: %s\n", u.Key(), role, u.Text)
		}
	}
	return sb.String()
}

// renderCounts formats the aggregate counts for prompt inclusion.
func renderCounts(counts types.TagCounts) string {
	if len(counts) == 0 {
		return "none"
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, string(tag))
	}
	sort.Strings(tags)
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		parts = append(parts, fmt.Sprintf("%s=%d", tag, counts[types.Tag(tag)]))
	}
	return strings.Join(parts, ", ")
}

// renderHistory summarises prior completed sessions for prompt inclusion.
func renderHistory(history []types.Session) string {
	if len(history) == 0 {
		return "No prior sessions on record."
	}
	var sb strings.Builder
	for _, s := range history {
		fmt.Fprintf(&sb, "- %s session on %s: score %d, counts %s\n",
			strings.ToUpper(string(s.Mode)),
			s.UpdatedAt.Format("2006-01-02"),
			s.Score,
			renderCounts(s.TagCounts),
		)
	}
	return sb.String()
}
