// Package stt defines the Provider interface for batch speech-to-text
// backends with speaker diarization.
//
// Unlike a streaming recognizer, the analysis pipeline works on complete
// recordings: a provider receives the full audio payload and returns the
// diarized utterance list in one call. The utterance order in the result is
// the authoritative transcript order — the transcription stage assigns order
// indexes from slice positions.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"io"
	"time"
)

// Request describes one batch transcription job.
type Request struct {
	// Audio is the recording payload. The provider consumes it fully.
	Audio io.Reader

	// MIMEType is the audio container type (e.g. "audio/wav", "audio/m4a").
	MIMEType string

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// Empty lets the provider auto-detect, if supported.
	Language string

	// ExpectedDuration is the recording length reported at upload time.
	// Providers may use it to size timeouts; zero means unknown.
	ExpectedDuration time.Duration
}

// Segment is one diarized speaker turn in a transcription result.
type Segment struct {
	// SpeakerID is the provider's opaque diarization label, normalised to
	// the form "speaker_N".
	SpeakerID string

	Text  string
	Start time.Duration
	End   time.Duration

	// Confidence is the provider's confidence for this segment (0.0–1.0).
	// Zero when the provider does not report one.
	Confidence float64
}

// Result is the complete diarized transcript of one recording.
type Result struct {
	// Segments is the ordered utterance list. Order is transcript order.
	Segments []Segment
}

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe runs one transcription job to completion. An empty segment
	// list with a nil error is a valid provider result; rejecting it is the
	// transcription stage's responsibility.
	Transcribe(ctx context.Context, req Request) (*Result, error)

	// Name returns a short stable identifier for the backend (e.g.
	// "deepgram"), used in logs, metrics, and audit records.
	Name() string
}
