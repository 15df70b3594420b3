// Package mock provides a test double for the ai.Provider interface.
//
// Use Provider in unit tests to verify that pipeline stages send correct
// requests and to feed controlled responses without a live backend. Response
// fields may be set before calling any method; the Responses queue lets a
// test script successive replies (e.g., a malformed reply followed by a valid
// one to exercise retry paths).
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []mock.Reply{{Text: `{"ok": true}`}},
//	}
//	resp, err := p.Generate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/corvidlabs/attune/pkg/provider/ai"
)

// Reply is one scripted Generate outcome.
type Reply struct {
	// Text is the model output returned for this call.
	Text string

	// Err, if non-nil, is returned instead of a response.
	Err error
}

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req ai.Request
}

// Provider is a mock implementation of ai.Provider.
//
// If Responses is non-empty, calls consume it in order; once exhausted, the
// last entry repeats. With an empty queue, Generate returns an empty response
// and nil error.
type Provider struct {
	mu sync.Mutex

	// Responses is the scripted sequence of replies.
	Responses []Reply

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall

	next int
}

// Compile-time interface assertion.
var _ ai.Provider = (*Provider)(nil)

// Name implements ai.Provider.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// Generate implements ai.Provider. It records the call and returns the next
// scripted reply.
func (p *Provider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})

	if len(p.Responses) == 0 {
		return &ai.Response{}, nil
	}
	idx := p.next
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	} else {
		p.next++
	}
	r := p.Responses[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return &ai.Response{Text: r.Text}, nil
}

// CallCount returns the number of Generate invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}
