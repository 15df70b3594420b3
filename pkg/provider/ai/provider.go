// Package ai defines the Provider interface for text-generation backends.
//
// A provider wraps a remote or local model API (e.g., OpenAI GPT-4o, Anthropic
// Claude via any-llm, or a local Ollama instance) and exposes a uniform
// interface for the analysis pipeline to request completions without coupling
// to any specific SDK. Every pipeline stage that needs structured model output
// goes through the gateway package, which layers retry, JSON parsing, and
// error classification on top of this interface.
//
// Implementations must be safe for concurrent use.
package ai

import "context"

// Request carries everything a provider needs to produce a completion.
// Callers should treat a zero-value request as invalid; at minimum Prompt
// must be non-empty.
type Request struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the user prompt. Providers without a dedicated system slot should
	// prepend it as a "system"-role message.
	SystemPrompt string

	// Prompt is the rendered user prompt text.
	Prompt string

	// Temperature controls output randomness in [0.0, 2.0]. The pipeline's
	// structured-output stages run at low temperature for determinism.
	Temperature float64

	// MaxOutputTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxOutputTokens int
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the full (non-streaming) completion result.
type Response struct {
	// Text is the raw model output. Structured-output callers should expect
	// JSON, possibly wrapped in markdown code fences.
	Text string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
//
// Generate returns an error for transport failures, provider-side errors,
// and context cancellation. It never inspects or validates the content of
// the model's reply — shape validation belongs to the caller.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns a short stable identifier for the backend (e.g.
	// "openai", "anthropic"), used in logs, metrics, and audit records.
	Name() string
}
