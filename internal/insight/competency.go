package insight

import (
	"context"
	"fmt"

	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/pkg/types"
)

const competencySystemPrompt = `You are a warm, encouraging parenting coach reviewing a tagged transcript of a parent-child session.

Identify the single strongest parenting moment in the session and write concrete, specific feedback about it. Reference the utterance that best illustrates the moment by its number.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "topMoment": "<one sentence naming the strongest skill demonstration>",
  "feedback": "<2-3 sentences of specific, encouraging coaching about that moment>",
  "exampleUtteranceNumber": <integer order index of the illustrating utterance, or -1>,
  "activity": "<the play or discipline activity observed, e.g. "block building">"
}`

// Competency generates the top-moment narrative for the session.
func (a *Analyzer) Competency(ctx context.Context, in Input) (*types.CompetencyAnalysis, error) {
	prompt := fmt.Sprintf("Session mode: %s\nScore: %d\nTag counts: %s\n\nTranscript:\n%s",
		in.Session.Mode, in.Score, renderCounts(in.TagCounts), renderTranscript(in.Utterances))

	var out types.CompetencyAnalysis
	err := a.gw.Invoke(ctx, gateway.Spec{
		Caller:          "insight",
		Purpose:         "competency-narrative",
		SystemPrompt:    competencySystemPrompt,
		Prompt:          prompt,
		Temperature:     0.7,
		MaxOutputTokens: 1024,
	}, &out)
	if err != nil {
		return nil, err
	}
	// -1 is the "no example" sentinel; anything outside the utterance range
	// (including other negatives the model may invent) normalizes to it.
	if out.ExampleUtterance < 0 || out.ExampleUtterance >= len(in.Utterances) {
		out.ExampleUtterance = -1
	}
	return &out, nil
}
