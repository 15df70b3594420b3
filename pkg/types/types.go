// Package types defines the shared domain model for the Attune analysis
// pipeline: sessions, utterances, behavior tags, and the optional qualitative
// enrichment payloads produced by the insight branch.
//
// These types are deliberately free of persistence and transport concerns so
// that every pipeline stage, store implementation, and server handler can
// exchange them without import cycles.
package types

import (
	"fmt"
	"time"
)

// Mode selects which coding schema and prompt set apply to a session.
// A session's mode is immutable once set.
type Mode string

const (
	// ModeCDI is Child-Directed Interaction: free play led by the child,
	// coded against the PRIDE/DPICS "DO" and "DON'T" skill vocabulary.
	ModeCDI Mode = "cdi"

	// ModePDI is Parent-Directed Interaction: discipline practice, coded
	// against the command-effectiveness vocabulary.
	ModePDI Mode = "pdi"
)

// IsValid reports whether m is a recognised session mode.
func (m Mode) IsValid() bool {
	return m == ModeCDI || m == ModePDI
}

// Status is the analysis lifecycle state of a session. Transitions are
// monotonic: a COMPLETED or FAILED session never returns to PENDING.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is an end state of the analysis lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Role classifies a diarized speaker within a session.
type Role string

const (
	RoleAdult Role = "adult"
	RoleChild Role = "child"

	// RoleUnset marks an utterance that role identification has not yet
	// classified.
	RoleUnset Role = ""
)

// Tag is one behavior code from the mode-specific coding vocabulary.
// The closed sets of valid tags per mode live in the coding package.
type Tag string

// Utterance is a single diarized speaker turn. The order index is assigned
// once at transcription time and is the only ordering contract downstream
// consumers may rely on.
type Utterance struct {
	SessionID string `json:"session_id"`

	// OrderIndex is the utterance's position in the diarized transcript.
	// Unique per session, never reassigned.
	OrderIndex int `json:"order_index"`

	// SpeakerID is the opaque diarization label (e.g. "speaker_0").
	SpeakerID string `json:"speaker"`

	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`

	// Role is set exactly once by the role identification stage.
	Role Role `json:"role,omitempty"`

	// Tag is set exactly once by the behavior coding stage, and only on
	// adult utterances.
	Tag Tag `json:"tag,omitempty"`

	// RevisedFeedback and AdditionalTip are free-text review fields added
	// by later coaching passes. Empty until a review stage fills them.
	RevisedFeedback string `json:"revised_feedback,omitempty"`
	AdditionalTip   string `json:"additional_tip,omitempty"`
}

// Key returns the stable per-utterance identifier used in coding prompts and
// responses, so out-of-order model output still maps to the right utterance.
func (u Utterance) Key() string {
	return fmt.Sprintf("u%d", u.OrderIndex)
}

// TagCounts maps tag name to occurrence count for one session. It is derived
// purely from the tagged utterance list and is recomputable at any time; the
// copy stored on the session is a cache, not a source of truth.
type TagCounts map[Tag]int

// Total returns the sum of all counts.
func (tc TagCounts) Total() int {
	n := 0
	for _, c := range tc {
		n += c
	}
	return n
}

// Session is one analyzed recording.
type Session struct {
	ID      string `json:"id"`
	ChildID string `json:"child_id,omitempty"`
	Mode    Mode   `json:"mode"`

	// AudioRef is the opaque object-storage reference for the recording.
	// Upload mechanics are an external concern; the pipeline only hands
	// this to the transcription provider.
	AudioRef string        `json:"audio_ref,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	Status   Status    `json:"status"`
	Error    string    `json:"error,omitempty"`
	FailedAt time.Time `json:"failed_at,omitzero"`

	Transcript string    `json:"transcript,omitempty"`
	TagCounts  TagCounts `json:"tag_counts,omitempty"`

	// Score is the normalized [0,100] mastery score. Only meaningful once
	// Status is completed.
	Score int `json:"score,omitempty"`

	// Optional enrichments. Nil means "not computed" (or the computation
	// failed non-fatally) — never "computed as empty".
	Competency *CompetencyAnalysis       `json:"competency_analysis,omitempty"`
	Coaching   *CoachingCards            `json:"coaching_cards,omitempty"`
	Profile    *DevelopmentalObservation `json:"developmental_observation,omitempty"`
	Milestones []MilestoneCelebration    `json:"milestone_celebrations,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// CompetencyAnalysis is the narrative "top moment" enrichment: the single
// best parenting moment of the session with concrete feedback.
type CompetencyAnalysis struct {
	// TopMoment describes the strongest skill demonstration in the session.
	TopMoment string `json:"topMoment"`

	// Feedback is the coaching narrative attached to that moment.
	Feedback string `json:"feedback"`

	// ExampleUtterance is the order index of the utterance illustrating the
	// moment, or -1 if none applies.
	ExampleUtterance int `json:"exampleUtteranceNumber"`

	// Activity names the play activity observed (e.g. "block building").
	Activity string `json:"activity"`
}

// CoachingCardSection is one titled block within a coaching card set.
type CoachingCardSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CoachingCards is the CDI-only actionable coaching enrichment. PDI sessions
// never carry one.
type CoachingCards struct {
	Sections     []CoachingCardSection `json:"sections"`
	TomorrowGoal string                `json:"tomorrowGoal"`
}

// DevelopmentalObservation summarises the child's developmental signals
// observed during the session.
type DevelopmentalObservation struct {
	Summary string          `json:"summary"`
	Domains []DomainInsight `json:"domains"`
}

// DomainInsight is one developmental domain observation (language, social,
// emotional regulation, play complexity).
type DomainInsight struct {
	Domain      string `json:"domain"`
	Observation string `json:"observation"`
}

// MilestoneCelebration records a developmental milestone detected in the
// session, with the utterance evidence that supports it.
type MilestoneCelebration struct {
	Domain   string `json:"domain"`
	Title    string `json:"title"`
	Evidence string `json:"evidence"`
}

// AnalysisReport is the session status document returned to API callers.
// Fields beyond Status are populated only for completed sessions; a
// processing session exposes nothing partial.
type AnalysisReport struct {
	SessionID string `json:"sessionId"`
	Mode      Mode   `json:"mode"`
	Status    Status `json:"status"`

	// Error is present only when Status is failed. It carries a generic
	// user-facing message, never provider internals.
	Error string `json:"error,omitempty"`

	Score      *int                      `json:"score,omitempty"`
	TagCounts  TagCounts                 `json:"tagCounts,omitempty"`
	Transcript []Utterance               `json:"transcript,omitempty"`
	Competency *CompetencyAnalysis       `json:"competencyAnalysis,omitempty"`
	Coaching   *CoachingCards            `json:"coachingCards,omitempty"`
	Profile    *DevelopmentalObservation `json:"developmentalObservation,omitempty"`
	Milestones []MilestoneCelebration    `json:"milestoneCelebrations,omitempty"`
}
