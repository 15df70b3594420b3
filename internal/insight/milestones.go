package insight

import (
	"context"
	"fmt"

	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/pkg/types"
)

const milestonesSystemPrompt = `You are a child development specialist scanning a session transcript for concrete developmental milestones the child demonstrated.

Report a milestone ONLY when the transcript contains direct evidence: quote or closely paraphrase the child's words or actions. An empty list is the correct answer when nothing stands out; never invent milestones to fill the list.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "milestones": [
    {"domain": "language" | "social" | "emotional_regulation" | "play_complexity" | "motor", "title": "<short celebratory title>", "evidence": "<the utterance or behavior that shows it>"}
  ]
}`

// milestonesResponse wraps the list so the model returns a JSON object, not
// a bare array.
type milestonesResponse struct {
	Milestones []types.MilestoneCelebration `json:"milestones"`
}

// Milestones scans the session for evidence-backed developmental milestones.
// An empty transcript yields an empty list, not an error.
func (a *Analyzer) Milestones(ctx context.Context, in Input) ([]types.MilestoneCelebration, error) {
	var out milestonesResponse
	err := a.gw.Invoke(ctx, gateway.Spec{
		Caller:          "insight",
		Purpose:         "milestone-detection",
		SystemPrompt:    milestonesSystemPrompt,
		Prompt:          "Transcript:\n" + renderTranscript(in.Utterances),
		Temperature:     0.3,
		MaxOutputTokens: 1024,
	}, &out)
	if err != nil {
		return nil, err
	}
	for i, m := range out.Milestones {
		if m.Title == "" || m.Evidence == "" {
			return nil, fmt.Errorf("milestones: entry %d missing title or evidence", i)
		}
	}
	return out.Milestones, nil
}
