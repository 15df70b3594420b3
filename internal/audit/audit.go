// Package audit records anonymized provenance for every AI provider call.
//
// A [Record] carries only metadata — which component called which backend,
// for what purpose, and how large the payloads were. Raw prompts and model
// output never enter a record; anonymization is therefore structural rather
// than redactive.
package audit

import (
	"log/slog"
	"time"
)

// Record is one anonymized provenance entry for an AI provider call.
type Record struct {
	// Caller is the pipeline component that issued the request
	// (e.g. "coding", "roles", "insight.milestones").
	Caller string

	// Purpose is a short machine-readable label for the request intent
	// (e.g. "behavior-coding", "role-identification").
	Purpose string

	// Provider is the backend name that served the request.
	Provider string

	// PromptBytes and ResponseBytes are payload sizes. Content itself is
	// never recorded.
	PromptBytes   int
	ResponseBytes int

	// Duration is the wall-clock time of the call including retries.
	Duration time.Duration

	// Outcome is "ok", "transport_error", or "parse_error".
	Outcome string
}

// Recorder consumes provenance records. Implementations must be safe for
// concurrent use and must not block the caller on slow sinks.
type Recorder interface {
	Record(rec Record)
}

// LogRecorder writes records to a [slog.Logger] at info level. It is the
// default sink; deployments with a dedicated audit trail can substitute
// their own Recorder.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a LogRecorder. A nil logger uses [slog.Default].
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

// Record implements [Recorder].
func (r *LogRecorder) Record(rec Record) {
	r.logger.Info("ai call",
		"caller", rec.Caller,
		"purpose", rec.Purpose,
		"provider", rec.Provider,
		"prompt_bytes", rec.PromptBytes,
		"response_bytes", rec.ResponseBytes,
		"duration", rec.Duration,
		"outcome", rec.Outcome,
	)
}

// Discard is a Recorder that drops every record. Useful in tests.
type Discard struct{}

// Record implements [Recorder].
func (Discard) Record(Record) {}
