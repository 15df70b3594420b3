// Package gateway is the single entry point for structured-output AI calls.
//
// Every pipeline stage that needs model output builds a [Spec] (prompt,
// purpose, output budget) and calls [Gateway.Invoke] with a pointer to the
// expected response struct. The gateway handles the concerns the stages must
// not duplicate:
//
//   - transient-failure retries with exponential backoff (transport errors
//     only — a malformed reply is surfaced, not retried here)
//   - a bounded per-call timeout, with timeouts classified as transient
//   - stripping markdown code-fence wrappers before JSON parsing
//   - classifying failures into the TransportError / ParseError taxonomy so
//     each stage can decide what is fatal for it
//   - anonymized provenance records and OTel metrics per call
package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/corvidlabs/attune/internal/audit"
	"github.com/corvidlabs/attune/internal/observe"
	"github.com/corvidlabs/attune/internal/resilience"
	"github.com/corvidlabs/attune/pkg/provider/ai"
)

const (
	// defaultCallTimeout bounds a single provider round trip.
	defaultCallTimeout = 90 * time.Second

	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
)

// Spec describes one structured-output request.
type Spec struct {
	// Caller is the pipeline component issuing the request, for audit
	// records (e.g. "coding").
	Caller string

	// Purpose is a short label for the request intent, used in audit
	// records and metrics (e.g. "behavior-coding").
	Purpose string

	SystemPrompt    string
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
}

// Gateway wraps an [ai.Provider] with retry, parsing, and provenance. It is
// safe for concurrent use; one gateway is shared by all pipeline stages.
type Gateway struct {
	provider    ai.Provider
	retry       resilience.RetryPolicy
	auditor     audit.Recorder
	metrics     *observe.Metrics
	callTimeout time.Duration

	// fatal reports whether a provider error must not be retried (e.g. a
	// 4xx rejection). The default treats every provider error as transient.
	fatal func(error) bool
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithRetryPolicy overrides the default transport retry policy
// (3 attempts, 2^attempt seconds backoff).
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(g *Gateway) { g.retry = p }
}

// WithAuditor sets the provenance sink. Default: [audit.LogRecorder].
func WithAuditor(r audit.Recorder) Option {
	return func(g *Gateway) { g.auditor = r }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithCallTimeout bounds each individual provider round trip. Zero or
// negative restores the default.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// WithFatalPredicate installs a predicate that marks provider errors as
// non-retryable. Use this to stop retrying 4xx rejections from a specific
// SDK.
func WithFatalPredicate(fatal func(error) bool) Option {
	return func(g *Gateway) { g.fatal = fatal }
}

// New creates a Gateway around provider.
func New(provider ai.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		retry: resilience.NewRetryPolicy(
			defaultMaxAttempts,
			resilience.ExponentialBackoff(defaultBackoffBase),
			nil, // predicate installed below, after options
		),
		auditor:     audit.NewLogRecorder(nil),
		metrics:     observe.DefaultMetrics(),
		callTimeout: defaultCallTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	if g.retry.Retryable == nil {
		g.retry.Retryable = func(err error) bool { return IsTransport(err) }
	}
	return g
}

// Invoke renders spec against the provider and unmarshals the JSON reply
// into out. On failure it returns one of the taxonomy errors:
// *TransportError after the retry budget is exhausted, or *ParseError when
// the reply does not match out's shape. The raw reply text is preserved on
// parse errors so callers can log or reformat.
func (g *Gateway) Invoke(ctx context.Context, spec Spec, out any) error {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "gateway.invoke")
	defer span.End()

	req := ai.Request{
		SystemPrompt:    spec.SystemPrompt,
		Prompt:          spec.Prompt,
		Temperature:     spec.Temperature,
		MaxOutputTokens: spec.MaxOutputTokens,
	}

	resp, err := resilience.DoWithResult(ctx, g.retry, spec.Purpose,
		func(ctx context.Context) (*ai.Response, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
			defer cancel()

			r, callErr := g.provider.Generate(callCtx, req)
			if callErr != nil {
				return nil, g.classify(ctx, callErr)
			}
			return r, nil
		})

	status := "ok"
	responseBytes := 0
	if resp != nil {
		responseBytes = len(resp.Text)
	}

	var invokeErr error
	switch {
	case err != nil:
		status = "transport_error"
		invokeErr = err
	default:
		cleaned := StripFences(resp.Text)
		if parseErr := json.Unmarshal([]byte(cleaned), out); parseErr != nil {
			status = "parse_error"
			invokeErr = &ParseError{RawText: resp.Text, Err: parseErr}
		}
	}

	elapsed := time.Since(start)
	g.auditor.Record(audit.Record{
		Caller:        spec.Caller,
		Purpose:       spec.Purpose,
		Provider:      g.provider.Name(),
		PromptBytes:   len(spec.SystemPrompt) + len(spec.Prompt),
		ResponseBytes: responseBytes,
		Duration:      elapsed,
		Outcome:       status,
	})
	g.metrics.RecordAICall(ctx, g.provider.Name(), spec.Purpose, status, elapsed.Seconds())

	return invokeErr
}

// classify maps a raw provider error into the gateway taxonomy. A call-level
// deadline is transient (the next attempt may succeed); a parent-context
// cancellation is returned unwrapped so the retry loop stops.
func (g *Gateway) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	if g.fatal != nil && g.fatal(err) {
		return err
	}
	return &TransportError{Err: err}
}

// StripFences removes a leading/trailing markdown code fence (``` or
// ```json) from a model reply, returning the inner text trimmed. Replies
// without fences come back trimmed but otherwise unchanged.
func StripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	// Drop the language hint on the opening fence line, if any.
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		first := strings.TrimSpace(t[:nl])
		if first == "" || isFenceLang(first) {
			t = t[nl+1:]
		}
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// isFenceLang reports whether s looks like a code-fence language hint.
func isFenceLang(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
