package coding

import (
	"context"
	"errors"
	"testing"

	"github.com/corvidlabs/attune/internal/audit"
	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/internal/resilience"
	aimock "github.com/corvidlabs/attune/pkg/provider/ai/mock"
	"github.com/corvidlabs/attune/pkg/types"
)

func newCoder(p *aimock.Provider, opts ...Option) *Coder {
	gw := gateway.New(p,
		gateway.WithRetryPolicy(resilience.NewRetryPolicy(1, nil, nil)),
		gateway.WithAuditor(audit.Discard{}),
	)
	return New(gw, opts...)
}

func adultUtterances(texts ...string) []types.Utterance {
	utts := make([]types.Utterance, len(texts))
	for i, text := range texts {
		utts[i] = types.Utterance{
			OrderIndex: i,
			SpeakerID:  "speaker_0",
			Text:       text,
			Role:       types.RoleAdult,
		}
	}
	return utts
}

func TestCode_TagsEveryUtterance(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"tags": [
			{"key": "u0", "tag": "labeled_praise"},
			{"key": "u1", "tag": "echo"},
			{"key": "u2", "tag": "neutral"}
		]}`},
	}}
	c := newCoder(p)

	res, err := c.Code(context.Background(), types.ModeCDI,
		adultUtterances("Great job stacking!", "A red tower!", "Okay."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Tags) != 3 {
		t.Fatalf("tags = %d, want 3", len(res.Tags))
	}
	if res.Tags[0] != TagLabeledPraise || res.Tags[1] != TagEcho || res.Tags[2] != TagNeutral {
		t.Errorf("unexpected tags: %v", res.Tags)
	}
	if res.Passes != 1 {
		t.Errorf("passes = %d, want 1", res.Passes)
	}
}

func TestCode_RetriesMissingKeysAtSubRequestLevel(t *testing.T) {
	// First reply omits u1; second pass covers only the gap.
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"tags": [{"key": "u0", "tag": "echo"}]}`},
		{Text: `{"tags": [{"key": "u1", "tag": "question"}]}`},
	}}
	c := newCoder(p)

	res, err := c.Code(context.Background(), types.ModeCDI,
		adultUtterances("You made a dog!", "What color is it?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tags[0] != TagEcho || res.Tags[1] != TagQuestion {
		t.Errorf("unexpected tags: %v", res.Tags)
	}
	if res.Passes != 2 {
		t.Errorf("passes = %d, want 2", res.Passes)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider calls = %d, want 2", p.CallCount())
	}
}

func TestCode_UnknownKeyIsConsistencyError(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"tags": [{"key": "u99", "tag": "echo"}]}`},
	}}
	c := newCoder(p)

	_, err := c.Code(context.Background(), types.ModeCDI, adultUtterances("Hi there."))
	if !gateway.IsConsistency(err) {
		t.Fatalf("err = %v, want a consistency error", err)
	}
}

func TestCode_InvalidTagNameIsReRequested(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"tags": [{"key": "u0", "tag": "enthusiasm"}]}`},
		{Text: `{"tags": [{"key": "u0", "tag": "unlabeled_praise"}]}`},
	}}
	c := newCoder(p)

	res, err := c.Code(context.Background(), types.ModeCDI, adultUtterances("Nice!"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tags[0] != TagUnlabeledPraise {
		t.Errorf("tag = %q, want unlabeled_praise", res.Tags[0])
	}
}

func TestCode_GivesUpAfterPassBudget(t *testing.T) {
	// The model never tags u0.
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"tags": []}`},
	}}
	c := newCoder(p, WithMaxPasses(2))

	_, err := c.Code(context.Background(), types.ModeCDI, adultUtterances("Hello."))
	if !gateway.IsConsistency(err) {
		t.Fatalf("err = %v, want a consistency error", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider calls = %d, want 2", p.CallCount())
	}
}

func TestCode_EmptyInputIsValidationError(t *testing.T) {
	c := newCoder(&aimock.Provider{})
	_, err := c.Code(context.Background(), types.ModeCDI, nil)
	if !gateway.IsValidation(err) {
		t.Fatalf("err = %v, want a validation error", err)
	}
}

func TestCode_PDIVocabularyAccepted(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"tags": [
			{"key": "u0", "tag": "direct_command"},
			{"key": "u1", "tag": "chained_command"}
		]}`},
	}}
	c := newCoder(p)

	res, err := c.Code(context.Background(), types.ModePDI,
		adultUtterances("Put the block in the box.", "Sit down, clean up, and say sorry."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tags[0] != TagPDIDirectCommand || res.Tags[1] != TagPDIChainedCommand {
		t.Errorf("unexpected tags: %v", res.Tags)
	}
}

func TestSchemaResolve_CDIPriorityWins(t *testing.T) {
	schema, err := SchemaFor(types.ModeCDI)
	if err != nil {
		t.Fatal(err)
	}
	// An utterance matching both echo and direct command codes as echo.
	got := schema.Resolve([]types.Tag{TagDirectCommand, TagEcho})
	if got != TagEcho {
		t.Errorf("Resolve = %q, want echo (lower priority rank wins)", got)
	}
}

func TestSchemaResolve_FallbackWhenNoValidCandidate(t *testing.T) {
	schema, _ := SchemaFor(types.ModeCDI)
	if got := schema.Resolve([]types.Tag{"bogus"}); got != TagNeutral {
		t.Errorf("Resolve = %q, want neutral fallback", got)
	}
	if got := schema.Resolve(nil); got != TagNeutral {
		t.Errorf("Resolve(nil) = %q, want neutral fallback", got)
	}
}

func TestSchemaFor_UnknownMode(t *testing.T) {
	if _, err := SchemaFor(types.Mode("play")); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestCode_TransportErrorPropagates(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{{Err: errors.New("boom")}}}
	c := newCoder(p)

	_, err := c.Code(context.Background(), types.ModeCDI, adultUtterances("Hi."))
	if !gateway.IsTransport(err) {
		t.Fatalf("err = %v, want a transport error", err)
	}
}
