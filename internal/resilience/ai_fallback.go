package resilience

import (
	"context"

	"github.com/corvidlabs/attune/pkg/provider/ai"
)

// AIFallback implements [ai.Provider] with automatic failover across multiple
// text-generation backends. Each backend has its own circuit breaker; when
// the primary fails or its breaker is open, the next healthy fallback is
// tried. This is how the pipeline stays vendor-agnostic without any stage
// knowing more than the ai.Provider interface.
type AIFallback struct {
	group *FallbackGroup[ai.Provider]
}

// Compile-time interface assertion.
var _ ai.Provider = (*AIFallback)(nil)

// NewAIFallback creates an [AIFallback] with primary as the preferred backend.
func NewAIFallback(primary ai.Provider, primaryName string, cfg FallbackConfig) *AIFallback {
	return &AIFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional provider as a fallback.
func (f *AIFallback) AddFallback(name string, provider ai.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *AIFallback) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	return ExecuteWithResult(f.group, func(p ai.Provider) (*ai.Response, error) {
		return p.Generate(ctx, req)
	})
}

// Name returns the primary backend's name. It does not participate in
// failover because the label is static metadata.
func (f *AIFallback) Name() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Name()
	}
	return "fallback"
}
