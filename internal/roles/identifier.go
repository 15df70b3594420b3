// Package roles implements the role identification stage: every diarized
// speaker in a session is classified as the adult or the child.
//
// The classifier works on speaker ids, not positions, and handles any number
// of distinct speakers — a grandparent or sibling in the room becomes a
// third classified speaker rather than noise. Classification with no adult
// at all is fatal: there is nothing to code.
package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/pkg/types"
)

// DefaultConfidenceThreshold marks classifications below it as ambiguous.
// Ambiguity is informational metadata; it never blocks the pipeline.
const DefaultConfidenceThreshold = 0.70

const systemPrompt = `You are analyzing a diarized transcript of a parent-child play session.

Classify EVERY distinct speaker as either "adult" or "child" based on vocabulary, sentence complexity, and conversational role. There may be more than two speakers (another adult or another child may be present); classify all of them.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "speakers": [
    {"speaker": "<speaker id exactly as given>", "role": "adult" | "child", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}
  ]
}`

// Classification is the outcome for one speaker.
type Classification struct {
	Role       types.Role
	Confidence float64
	Reasoning  string

	// Ambiguous is set when confidence falls below the stage threshold.
	Ambiguous bool
}

// Result maps speaker id to its classification.
type Result struct {
	Speakers map[string]Classification
}

// Roles returns the plain speaker→role map consumed by the utterance store.
func (r *Result) Roles() map[string]types.Role {
	out := make(map[string]types.Role, len(r.Speakers))
	for id, c := range r.Speakers {
		out[id] = c.Role
	}
	return out
}

// AdultCount returns how many speakers classified as adult.
func (r *Result) AdultCount() int {
	n := 0
	for _, c := range r.Speakers {
		if c.Role == types.RoleAdult {
			n++
		}
	}
	return n
}

// Identifier classifies session speakers through the AI gateway. Safe for
// concurrent use.
type Identifier struct {
	gw        *gateway.Gateway
	threshold float64
}

// Option is a functional option for [New].
type Option func(*Identifier)

// WithConfidenceThreshold overrides the ambiguity threshold.
func WithConfidenceThreshold(t float64) Option {
	return func(i *Identifier) {
		if t > 0 {
			i.threshold = t
		}
	}
}

// New creates an Identifier backed by gw.
func New(gw *gateway.Gateway, opts ...Option) *Identifier {
	i := &Identifier{gw: gw, threshold: DefaultConfidenceThreshold}
	for _, o := range opts {
		o(i)
	}
	return i
}

// rolesResponse is the expected JSON structure returned by the model.
type rolesResponse struct {
	Speakers []struct {
		Speaker    string  `json:"speaker"`
		Role       string  `json:"role"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	} `json:"speakers"`
}

// Identify classifies every speaker appearing in utts. It fails with a
// *gateway.ValidationError when utts is empty, a *gateway.ConsistencyError
// when the model skips a speaker or invents one, and a plain error when no
// speaker classifies as adult.
func (i *Identifier) Identify(ctx context.Context, utts []types.Utterance) (*Result, error) {
	if len(utts) == 0 {
		return nil, &gateway.ValidationError{Msg: "no utterances to classify"}
	}

	expected := make(map[string]bool)
	var sb strings.Builder
	sb.WriteString("Transcript:\n")
	for _, u := range utts {
		expected[u.SpeakerID] = true
		fmt.Fprintf(&sb, "[%s]: %s\n", u.SpeakerID, u.Text)
	}

	var resp rolesResponse
	err := i.gw.Invoke(ctx, gateway.Spec{
		Caller:          "roles",
		Purpose:         "role-identification",
		SystemPrompt:    systemPrompt,
		Prompt:          sb.String(),
		Temperature:     0.1,
		MaxOutputTokens: 1024,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &Result{Speakers: make(map[string]Classification, len(resp.Speakers))}
	for _, s := range resp.Speakers {
		if !expected[s.Speaker] {
			return nil, &gateway.ConsistencyError{
				Msg: fmt.Sprintf("model classified unknown speaker %q", s.Speaker),
			}
		}
		role := types.Role(strings.ToLower(s.Role))
		if role != types.RoleAdult && role != types.RoleChild {
			return nil, &gateway.ConsistencyError{
				Msg: fmt.Sprintf("model returned invalid role %q for speaker %q", s.Role, s.Speaker),
			}
		}
		result.Speakers[s.Speaker] = Classification{
			Role:       role,
			Confidence: s.Confidence,
			Reasoning:  s.Reasoning,
			Ambiguous:  s.Confidence < i.threshold,
		}
	}

	for id := range expected {
		if _, ok := result.Speakers[id]; !ok {
			return nil, &gateway.ConsistencyError{
				Msg: fmt.Sprintf("model did not classify speaker %q", id),
			}
		}
	}

	if result.AdultCount() == 0 {
		return nil, fmt.Errorf("roles: no speaker classified as adult")
	}
	return result, nil
}
