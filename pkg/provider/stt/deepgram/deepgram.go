// Package deepgram provides a batch speech-to-text provider backed by the
// Deepgram pre-recorded audio API with speaker diarization enabled.
//
// The provider posts the raw audio bytes to /v1/listen with diarize=true and
// utterances=true, then maps Deepgram's utterance list onto stt.Segment
// values. Deepgram reports speakers as small integers; these are normalised
// to "speaker_N" labels.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/corvidlabs/attune/pkg/provider/stt"
)

const defaultBaseURL = "https://api.deepgram.com"

// defaultTimeout bounds one transcription HTTP round trip when the request
// carries no expected duration.
const defaultTimeout = 2 * time.Minute

// Provider implements stt.Provider using the Deepgram pre-recorded API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the default Deepgram API base URL. Useful for tests
// and self-hosted deployments.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// New constructs a Deepgram batch transcription Provider. model selects the
// Deepgram model (e.g. "nova-2"); empty uses the account default.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "deepgram" }

// listenResponse mirrors the subset of the Deepgram pre-recorded response the
// provider consumes.
type listenResponse struct {
	Results struct {
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Speaker    int     `json:"speaker"`
		} `json:"utterances"`
	} `json:"results"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	timeout := defaultTimeout
	if req.ExpectedDuration > 0 {
		// Allow roughly 2x real time plus a fixed floor for queueing.
		timeout = 2*req.ExpectedDuration + 30*time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := url.Values{}
	q.Set("diarize", "true")
	q.Set("utterances", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if p.model != "" {
		q.Set("model", p.model)
	}
	if req.Language != "" {
		q.Set("language", req.Language)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/listen?"+q.Encode(), req.Audio)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	if req.MIMEType != "" {
		httpReq.Header.Set("Content-Type", req.MIMEType)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: listen request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("deepgram: listen returned %d: %s", resp.StatusCode, body)
	}

	var parsed listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}

	result := &stt.Result{
		Segments: make([]stt.Segment, 0, len(parsed.Results.Utterances)),
	}
	for _, u := range parsed.Results.Utterances {
		result.Segments = append(result.Segments, stt.Segment{
			SpeakerID:  fmt.Sprintf("speaker_%d", u.Speaker),
			Text:       u.Transcript,
			Start:      time.Duration(u.Start * float64(time.Second)),
			End:        time.Duration(u.End * float64(time.Second)),
			Confidence: u.Confidence,
		})
	}
	return result, nil
}
