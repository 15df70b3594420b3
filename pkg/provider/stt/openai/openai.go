// Package openai provides a batch speech-to-text provider backed by the
// OpenAI audio transcription API (Whisper).
//
// Whisper does not perform speaker diarization, so the whole recording comes
// back as a single "speaker_0" segment. This makes the provider suitable only
// as a degraded fallback behind a diarizing backend: role identification will
// see one speaker and sessions with both voices merged will typically fail
// coding-quality expectations. The primary backend should be deepgram.
package openai

import (
	"context"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/corvidlabs/attune/pkg/provider/stt"
)

// Provider implements stt.Provider using the OpenAI transcription API.
type Provider struct {
	client oai.Client
	model  string
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// New constructs an OpenAI transcription Provider. model is typically
// "whisper-1".
func New(apiKey string, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = "whisper-1"
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: client, model: model}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(req.Audio, "recording", req.MIMEType),
		Model: oai.AudioModel(p.model),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcription: %w", err)
	}
	if resp.Text == "" {
		return &stt.Result{}, nil
	}

	end := req.ExpectedDuration
	if end == 0 {
		end = time.Duration(0)
	}
	return &stt.Result{
		Segments: []stt.Segment{
			{
				SpeakerID: "speaker_0",
				Text:      resp.Text,
				Start:     0,
				End:       end,
			},
		},
	}, nil
}
