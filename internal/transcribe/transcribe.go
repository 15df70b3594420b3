// Package transcribe implements the transcription stage: a complete session
// recording goes in, an ordered diarized utterance list comes out and is
// persisted in one batch.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/internal/store"
	"github.com/corvidlabs/attune/pkg/provider/stt"
	"github.com/corvidlabs/attune/pkg/types"
)

// Transcriber runs batch transcription through an stt.Provider and writes
// the resulting utterances to the utterance store. Safe for concurrent use.
type Transcriber struct {
	provider stt.Provider
	utts     store.UtteranceStore
	log      *slog.Logger
}

// New creates a Transcriber. A nil logger falls back to slog.Default.
func New(provider stt.Provider, utts store.UtteranceStore, log *slog.Logger) *Transcriber {
	if log == nil {
		log = slog.Default()
	}
	return &Transcriber{provider: provider, utts: utts, log: log}
}

// Transcribe runs one recording through the provider, assigns order indexes
// from segment positions, and persists the batch. An empty or silence-only
// transcript is a *gateway.ValidationError: there is nothing to analyze, and
// retrying the stage cannot help.
func (t *Transcriber) Transcribe(ctx context.Context, sessionID string, req stt.Request) ([]types.Utterance, error) {
	res, err := t.provider.Transcribe(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: provider %s: %w", t.provider.Name(), err)
	}

	utts := make([]types.Utterance, 0, len(res.Segments))
	for _, seg := range res.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		utts = append(utts, types.Utterance{
			SessionID:  sessionID,
			OrderIndex: len(utts),
			SpeakerID:  seg.SpeakerID,
			Text:       seg.Text,
			Start:      seg.Start,
			End:        seg.End,
		})
	}
	if len(utts) == 0 {
		return nil, &gateway.ValidationError{Msg: "transcription produced no speech"}
	}

	if err := t.utts.CreateUtterances(ctx, sessionID, utts); err != nil {
		return nil, fmt.Errorf("transcribe: persist %d utterances: %w", len(utts), err)
	}
	t.log.InfoContext(ctx, "transcription complete",
		"session_id", sessionID,
		"provider", t.provider.Name(),
		"utterances", len(utts),
	)
	return utts, nil
}
