package resilience

import (
	"context"
	"testing"

	"github.com/corvidlabs/attune/pkg/provider/ai"
	aimock "github.com/corvidlabs/attune/pkg/provider/ai/mock"
)

func TestAIFallback_PrimarySuccess(t *testing.T) {
	primary := &aimock.Provider{Responses: []aimock.Reply{{Text: "primary"}}}
	secondary := &aimock.Provider{Responses: []aimock.Reply{{Text: "secondary"}}}

	f := NewAIFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	resp, err := f.Generate(context.Background(), ai.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "primary" {
		t.Errorf("Text = %q, want %q", resp.Text, "primary")
	}
	if secondary.CallCount() != 0 {
		t.Error("secondary should not have been called")
	}
}

func TestAIFallback_FailsOverToSecondary(t *testing.T) {
	primary := &aimock.Provider{Responses: []aimock.Reply{{Err: errTest}}}
	secondary := &aimock.Provider{Responses: []aimock.Reply{{Text: "secondary"}}}

	f := NewAIFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	resp, err := f.Generate(context.Background(), ai.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "secondary" {
		t.Errorf("Text = %q, want %q", resp.Text, "secondary")
	}
}

func TestAIFallback_AllFail(t *testing.T) {
	primary := &aimock.Provider{Responses: []aimock.Reply{{Err: errTest}}}
	secondary := &aimock.Provider{Responses: []aimock.Reply{{Err: errTest}}}

	f := NewAIFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	_, err := f.Generate(context.Background(), ai.Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected an error when every backend fails")
	}
}
