package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corvidlabs/attune/internal/audit"
	"github.com/corvidlabs/attune/internal/resilience"
	aimock "github.com/corvidlabs/attune/pkg/provider/ai/mock"
)

var errNetwork = errors.New("connection reset")

// fastRetry is a no-delay retry policy for tests.
func fastRetry(maxAttempts int) resilience.RetryPolicy {
	return resilience.NewRetryPolicy(maxAttempts, resilience.ScheduleBackoff(0), nil)
}

func newTestGateway(p *aimock.Provider, maxAttempts int) *Gateway {
	return New(p,
		WithRetryPolicy(fastRetry(maxAttempts)),
		WithAuditor(audit.Discard{}),
	)
}

func TestInvoke_ParsesCleanJSON(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{{Text: `{"value": 7}`}}}
	g := newTestGateway(p, 3)

	var out struct {
		Value int `json:"value"`
	}
	err := g.Invoke(context.Background(), Spec{Caller: "test", Purpose: "test"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != 7 {
		t.Errorf("Value = %d, want 7", out.Value)
	}
}

func TestInvoke_StripsCodeFences(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Text: "```json\n{\"value\": 3}\n```"},
	}}
	g := newTestGateway(p, 3)

	var out struct {
		Value int `json:"value"`
	}
	if err := g.Invoke(context.Background(), Spec{}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != 3 {
		t.Errorf("Value = %d, want 3", out.Value)
	}
}

func TestInvoke_RetriesTransportErrors(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{
		{Err: errNetwork},
		{Err: errNetwork},
		{Text: `{"value": 1}`},
	}}
	g := newTestGateway(p, 3)

	var out struct {
		Value int `json:"value"`
	}
	if err := g.Invoke(context.Background(), Spec{}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CallCount() != 3 {
		t.Errorf("provider calls = %d, want 3", p.CallCount())
	}
}

func TestInvoke_TransportErrorAfterBudget(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{{Err: errNetwork}}}
	g := newTestGateway(p, 3)

	var out struct{}
	err := g.Invoke(context.Background(), Spec{}, &out)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !IsTransport(err) {
		t.Errorf("err = %v, want a transport error", err)
	}
	if p.CallCount() != 3 {
		t.Errorf("provider calls = %d, want 3", p.CallCount())
	}
}

func TestInvoke_ParseErrorNotRetried(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{{Text: "not json at all"}}}
	g := newTestGateway(p, 3)

	var out struct{}
	err := g.Invoke(context.Background(), Spec{}, &out)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if pe.RawText != "not json at all" {
		t.Errorf("RawText = %q, want the raw reply", pe.RawText)
	}
	if p.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (parse errors are not retried)", p.CallCount())
	}
}

func TestInvoke_FatalPredicateStopsRetry(t *testing.T) {
	badRequest := errors.New("status 400: bad request")
	p := &aimock.Provider{Responses: []aimock.Reply{{Err: badRequest}}}
	g := New(p,
		WithRetryPolicy(fastRetry(3)),
		WithAuditor(audit.Discard{}),
		WithFatalPredicate(func(err error) bool { return errors.Is(err, badRequest) }),
	)

	var out struct{}
	err := g.Invoke(context.Background(), Spec{}, &out)
	if !errors.Is(err, badRequest) {
		t.Fatalf("err = %v, want the 400 error unwrapped", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.CallCount())
	}
}

func TestInvoke_RecordsAudit(t *testing.T) {
	p := &aimock.Provider{Responses: []aimock.Reply{{Text: `{}`}}}
	rec := &captureRecorder{}
	g := New(p, WithRetryPolicy(fastRetry(1)), WithAuditor(rec))

	var out struct{}
	if err := g.Invoke(context.Background(), Spec{Caller: "coding", Purpose: "behavior-coding", Prompt: "p"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.records) != 1 {
		t.Fatalf("records = %d, want 1", len(rec.records))
	}
	r := rec.records[0]
	if r.Caller != "coding" || r.Purpose != "behavior-coding" || r.Outcome != "ok" {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.PromptBytes == 0 {
		t.Error("PromptBytes should be non-zero")
	}
	if r.Duration < 0 || r.Duration > time.Minute {
		t.Errorf("implausible duration %v", r.Duration)
	}
}

type captureRecorder struct {
	records []audit.Record
}

func (c *captureRecorder) Record(r audit.Record) {
	c.records = append(c.records, r)
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced json hint", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StripFences(c.in); got != c.want {
				t.Errorf("StripFences(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
