package roles

import (
	"context"
	"testing"

	"github.com/corvidlabs/attune/internal/audit"
	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/internal/resilience"
	aimock "github.com/corvidlabs/attune/pkg/provider/ai/mock"
	"github.com/corvidlabs/attune/pkg/types"
)

func newIdentifier(p *aimock.Provider, opts ...Option) *Identifier {
	gw := gateway.New(p,
		gateway.WithRetryPolicy(resilience.NewRetryPolicy(1, nil, nil)),
		gateway.WithAuditor(audit.Discard{}),
	)
	return New(gw, opts...)
}

func sampleUtterances() []types.Utterance {
	return []types.Utterance{
		{OrderIndex: 0, SpeakerID: "speaker_0", Text: "You're building such a tall tower!"},
		{OrderIndex: 1, SpeakerID: "speaker_1", Text: "Tower big!"},
		{OrderIndex: 2, SpeakerID: "speaker_0", Text: "Great job stacking the red block."},
	}
}

func TestIdentify_ClassifiesAllSpeakers(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"speakers": [
			{"speaker": "speaker_0", "role": "adult", "confidence": 0.95, "reasoning": "complex praise statements"},
			{"speaker": "speaker_1", "role": "child", "confidence": 0.92, "reasoning": "telegraphic speech"}
		]}`},
	}}
	ident := newIdentifier(p)

	res, err := ident.Identify(context.Background(), sampleUtterances())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Speakers["speaker_0"].Role != types.RoleAdult {
		t.Errorf("speaker_0 role = %q, want adult", res.Speakers["speaker_0"].Role)
	}
	if res.Speakers["speaker_1"].Role != types.RoleChild {
		t.Errorf("speaker_1 role = %q, want child", res.Speakers["speaker_1"].Role)
	}
	if res.AdultCount() != 1 {
		t.Errorf("AdultCount = %d, want 1", res.AdultCount())
	}
}

func TestIdentify_SupportsMoreThanTwoSpeakers(t *testing.T) {
	utts := append(sampleUtterances(), types.Utterance{
		OrderIndex: 3, SpeakerID: "speaker_2", Text: "Dinner is almost ready, you two.",
	})
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"speakers": [
			{"speaker": "speaker_0", "role": "adult", "confidence": 0.95, "reasoning": "r"},
			{"speaker": "speaker_1", "role": "child", "confidence": 0.92, "reasoning": "r"},
			{"speaker": "speaker_2", "role": "adult", "confidence": 0.88, "reasoning": "r"}
		]}`},
	}}
	ident := newIdentifier(p)

	res, err := ident.Identify(context.Background(), utts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Speakers) != 3 {
		t.Errorf("classified %d speakers, want 3", len(res.Speakers))
	}
	if res.AdultCount() != 2 {
		t.Errorf("AdultCount = %d, want 2", res.AdultCount())
	}
}

func TestIdentify_LowConfidenceFlaggedNotFatal(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"speakers": [
			{"speaker": "speaker_0", "role": "adult", "confidence": 0.55, "reasoning": "unclear"},
			{"speaker": "speaker_1", "role": "child", "confidence": 0.95, "reasoning": "r"}
		]}`},
	}}
	ident := newIdentifier(p)

	res, err := ident.Identify(context.Background(), sampleUtterances())
	if err != nil {
		t.Fatalf("ambiguity must not fail the stage: %v", err)
	}
	if !res.Speakers["speaker_0"].Ambiguous {
		t.Error("speaker_0 should be flagged ambiguous below the threshold")
	}
	if res.Speakers["speaker_1"].Ambiguous {
		t.Error("speaker_1 should not be flagged ambiguous")
	}
}

func TestIdentify_NoAdultIsFatal(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"speakers": [
			{"speaker": "speaker_0", "role": "child", "confidence": 0.9, "reasoning": "r"},
			{"speaker": "speaker_1", "role": "child", "confidence": 0.9, "reasoning": "r"}
		]}`},
	}}
	ident := newIdentifier(p)

	_, err := ident.Identify(context.Background(), sampleUtterances())
	if err == nil {
		t.Fatal("expected an error when no speaker classifies as adult")
	}
}

func TestIdentify_MissingSpeakerIsConsistencyError(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"speakers": [
			{"speaker": "speaker_0", "role": "adult", "confidence": 0.9, "reasoning": "r"}
		]}`},
	}}
	ident := newIdentifier(p)

	_, err := ident.Identify(context.Background(), sampleUtterances())
	if !gateway.IsConsistency(err) {
		t.Fatalf("err = %v, want a consistency error", err)
	}
}

func TestIdentify_UnknownSpeakerIsConsistencyError(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: `{"speakers": [
			{"speaker": "speaker_9", "role": "adult", "confidence": 0.9, "reasoning": "r"}
		]}`},
	}}
	ident := newIdentifier(p)

	_, err := ident.Identify(context.Background(), sampleUtterances())
	if !gateway.IsConsistency(err) {
		t.Fatalf("err = %v, want a consistency error", err)
	}
}

func TestIdentify_EmptyInputIsValidationError(t *testing.T) {
	ident := newIdentifier(&aimock.Provider{})
	_, err := ident.Identify(context.Background(), nil)
	if !gateway.IsValidation(err) {
		t.Fatalf("err = %v, want a validation error", err)
	}
}
