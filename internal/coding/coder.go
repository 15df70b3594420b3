package coding

import (
	"context"
	"fmt"
	"strings"

	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/pkg/types"
)

// defaultMaxPasses bounds how many sub-request rounds the coder makes for
// utterances the model failed to tag. The first pass covers everything;
// later passes re-request only the gaps.
const defaultMaxPasses = 3

const systemPromptTemplate = `You are a certified DPICS coder for Parent-Child Interaction Therapy sessions.

Assign exactly one tag to every adult utterance listed below. Tags must come from this vocabulary:

%s
%s
Rules:
- Tag EVERY utterance listed. Do not skip any.
- Use the utterance key exactly as given (e.g. "u12").
- One tag per utterance, chosen from the vocabulary above verbatim.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "tags": [
    {"key": "u0", "tag": "<tag name>"}
  ]
}`

// cdiPriorityNote is appended to the CDI system prompt so the model applies
// the rank-based tie break itself.
const cdiPriorityNote = "When an utterance matches more than one category, assign the tag with the LOWEST priority number.\n"

// Result is the outcome of one coding run.
type Result struct {
	// Tags maps utterance order index to the assigned tag. Covers every
	// input utterance — the closed-world guarantee downstream counting
	// relies on.
	Tags map[int]types.Tag

	// Passes is how many model rounds were needed.
	Passes int
}

// Coder assigns behavior tags to adult utterances through the AI gateway.
// It is safe for concurrent use.
type Coder struct {
	gw        *gateway.Gateway
	maxPasses int
}

// Option is a functional option for [New].
type Option func(*Coder)

// WithMaxPasses overrides the sub-request retry budget for untagged
// utterances.
func WithMaxPasses(n int) Option {
	return func(c *Coder) {
		if n > 0 {
			c.maxPasses = n
		}
	}
}

// New creates a Coder backed by gw.
func New(gw *gateway.Gateway, opts ...Option) *Coder {
	c := &Coder{gw: gw, maxPasses: defaultMaxPasses}
	for _, o := range opts {
		o(c)
	}
	return c
}

// codingResponse is the expected JSON structure returned by the model.
type codingResponse struct {
	Tags []struct {
		Key string `json:"key"`
		Tag string `json:"tag"`
	} `json:"tags"`
}

// Code tags every utterance in utts (the caller passes adult utterances
// only). The returned result covers all inputs; an utterance the model
// repeatedly failed to tag, or a reply referencing keys outside the input
// set, yields a *gateway.ConsistencyError.
func (c *Coder) Code(ctx context.Context, mode types.Mode, utts []types.Utterance) (*Result, error) {
	if len(utts) == 0 {
		return nil, &gateway.ValidationError{Msg: "no adult utterances to code"}
	}
	schema, err := SchemaFor(mode)
	if err != nil {
		return nil, err
	}

	// Index the input set by key for consistency checking.
	byKey := make(map[string]types.Utterance, len(utts))
	for _, u := range utts {
		byKey[u.Key()] = u
	}

	tags := make(map[int]types.Tag, len(utts))
	pending := utts

	passes := 0
	for len(pending) > 0 && passes < c.maxPasses {
		passes++

		assigned, err := c.requestTags(ctx, schema, pending, byKey)
		if err != nil {
			return nil, err
		}
		for idx, tag := range assigned {
			tags[idx] = tag
		}

		pending = missingUtterances(pending, tags)
	}

	if len(pending) > 0 {
		keys := make([]string, 0, len(pending))
		for _, u := range pending {
			keys = append(keys, u.Key())
		}
		return nil, &gateway.ConsistencyError{
			Msg: fmt.Sprintf("model left %d utterances untagged after %d passes: %s",
				len(pending), passes, strings.Join(keys, ", ")),
		}
	}

	return &Result{Tags: tags, Passes: passes}, nil
}

// requestTags runs one model round for the given utterances and returns the
// valid assignments. Unknown keys fail the round; invalid tag names are
// dropped so the next pass re-requests them.
func (c *Coder) requestTags(ctx context.Context, schema Schema, utts []types.Utterance, byKey map[string]types.Utterance) (map[int]types.Tag, error) {
	note := ""
	if schema.Mode == types.ModeCDI {
		note = cdiPriorityNote
	}
	sysPrompt := fmt.Sprintf(systemPromptTemplate, schema.promptVocabulary(), note)

	var sb strings.Builder
	sb.WriteString("Adult utterances to code:\n")
	for _, u := range utts {
		fmt.Fprintf(&sb, "%s: %s\n", u.Key(), u.Text)
	}

	var resp codingResponse
	err := c.gw.Invoke(ctx, gateway.Spec{
		Caller:          "coding",
		Purpose:         "behavior-coding",
		SystemPrompt:    sysPrompt,
		Prompt:          sb.String(),
		Temperature:     0.1,
		MaxOutputTokens: 4096,
	}, &resp)
	if err != nil {
		return nil, err
	}

	assigned := make(map[int]types.Tag, len(resp.Tags))
	for _, entry := range resp.Tags {
		u, ok := byKey[entry.Key]
		if !ok {
			return nil, &gateway.ConsistencyError{
				Msg: fmt.Sprintf("model returned unknown utterance key %q", entry.Key),
			}
		}
		tag := types.Tag(entry.Tag)
		if !schema.Valid(tag) {
			// Not in the vocabulary: leave unassigned for the next pass.
			continue
		}
		assigned[u.OrderIndex] = tag
	}
	return assigned, nil
}

// missingUtterances returns the utterances from utts that have no tag yet.
func missingUtterances(utts []types.Utterance, tags map[int]types.Tag) []types.Utterance {
	var out []types.Utterance
	for _, u := range utts {
		if _, ok := tags[u.OrderIndex]; !ok {
			out = append(out, u)
		}
	}
	return out
}
