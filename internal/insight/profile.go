package insight

import (
	"context"
	"fmt"

	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/pkg/types"
)

const profileSystemPrompt = `You are a child development specialist reviewing the transcript of a parent-child session.

Observe the child's developmental signals across these domains: language, social connection, emotional regulation, and play complexity. Ground every observation in what the child actually said or did in this transcript; never speculate beyond the evidence. Session history, when present, is context for trends only.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "summary": "<2-3 sentence overall picture of the child in this session>",
  "domains": [
    {"domain": "language" | "social" | "emotional_regulation" | "play_complexity", "observation": "<1-2 evidence-grounded sentences>"}
  ]
}`

// Profile generates the developmental observation for the session's child.
func (a *Analyzer) Profile(ctx context.Context, in Input, history []types.Session) (*types.DevelopmentalObservation, error) {
	prompt := fmt.Sprintf("Session history:\n%s\nTranscript:\n%s",
		renderHistory(history), renderTranscript(in.Utterances))

	var out types.DevelopmentalObservation
	err := a.gw.Invoke(ctx, gateway.Spec{
		Caller:          "insight",
		Purpose:         "developmental-profiling",
		SystemPrompt:    profileSystemPrompt,
		Prompt:          prompt,
		Temperature:     0.5,
		MaxOutputTokens: 1024,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Summary == "" {
		return nil, fmt.Errorf("profiling: empty summary")
	}
	return &out, nil
}
