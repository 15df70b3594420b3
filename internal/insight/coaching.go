package insight

import (
	"context"
	"fmt"

	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/pkg/types"
)

const coachingSystemPrompt = `You are a PCIT-informed parenting coach writing a short coaching plan after a child-directed play session.

The parent is practicing the PRIDE skills: Praise (labeled), Reflect (echo), Imitate, Describe (behavior narration), Enjoy. They are also learning to avoid questions, commands, and criticism during child-led play.

Using the transcript, the skill counts, and the session history, write coaching guidance: what went well, what to practice next, and one concrete goal for tomorrow's five-minute special playtime.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "wentWell": "<2-3 sentences>",
  "practiceNext": "<2-3 sentences naming one specific skill to grow>",
  "tomorrowGoal": "<one concrete, measurable goal for the next session>"
}`

const coachingFormatSystemPrompt = `You format coaching guidance into short parent-facing cards.

Rewrite the guidance into 2-4 titled sections. Titles are short and encouraging (e.g. "You Shined Here"). Content is 1-3 warm, plain-language sentences per section. Keep the tomorrow goal as a single sentence.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "sections": [{"title": "<short title>", "content": "<1-3 sentences>"}],
  "tomorrowGoal": "<one sentence>"
}`

// coachingDraft is the intermediate guidance produced before formatting.
type coachingDraft struct {
	WentWell     string `json:"wentWell"`
	PracticeNext string `json:"practiceNext"`
	TomorrowGoal string `json:"tomorrowGoal"`
}

// Coaching generates the parent-facing coaching cards for a CDI session in
// two steps: a guidance draft, then a formatting pass that shapes it into
// titled cards. PDI sessions are rejected outright; discipline practice has
// no play-skill coaching.
func (a *Analyzer) Coaching(ctx context.Context, in Input, history []types.Session) (*types.CoachingCards, error) {
	if in.Session.Mode != types.ModeCDI {
		return nil, fmt.Errorf("insight: coaching cards not defined for %s sessions", in.Session.Mode)
	}

	prompt := fmt.Sprintf("Skill counts: %s\nScore: %d\n\nSession history:\n%s\nTranscript:\n%s",
		renderCounts(in.TagCounts), in.Score, renderHistory(history), renderTranscript(in.Utterances))

	var draft coachingDraft
	err := a.gw.Invoke(ctx, gateway.Spec{
		Caller:          "insight",
		Purpose:         "coaching-draft",
		SystemPrompt:    coachingSystemPrompt,
		Prompt:          prompt,
		Temperature:     0.7,
		MaxOutputTokens: 1024,
	}, &draft)
	if err != nil {
		return nil, fmt.Errorf("coaching draft: %w", err)
	}

	var cards types.CoachingCards
	err = a.gw.Invoke(ctx, gateway.Spec{
		Caller:       "insight",
		Purpose:      "coaching-format",
		SystemPrompt: coachingFormatSystemPrompt,
		Prompt: fmt.Sprintf("Went well: %s\n\nPractice next: %s\n\nTomorrow goal: %s",
			draft.WentWell, draft.PracticeNext, draft.TomorrowGoal),
		Temperature:     0.4,
		MaxOutputTokens: 1024,
	}, &cards)
	if err != nil {
		return nil, fmt.Errorf("coaching format: %w", err)
	}
	if len(cards.Sections) == 0 {
		return nil, fmt.Errorf("coaching format: empty card set")
	}
	return &cards, nil
}
