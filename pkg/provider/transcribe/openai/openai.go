// Package openai provides a transcription provider backed by the OpenAI
// audio transcription API (Whisper).
//
// The Whisper API performs no diarization, so every returned segment carries
// an empty Speaker label; downstream treats such files as single-speaker.
package openai

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tobfr/verbatim/pkg/provider/transcribe"
)

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Provider implements transcribe.Provider using the OpenAI audio API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for pointing
// at a self-hosted Whisper server with an OpenAI-compatible surface.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout. Transcription of long media
// can take many minutes; the default is one hour.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcribe: apiKey must not be empty")
	}
	if model == "" {
		model = "whisper-1"
	}

	cfg := &config{timeout: time.Hour}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// verboseTranscription mirrors the verbose_json response shape of the
// transcription endpoint.
type verboseTranscription struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		// AvgLogprob is the mean token log-probability; exp() of it is a
		// usable confidence proxy.
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error) {
	if req.Audio == nil {
		return nil, fmt.Errorf("openai transcribe: nil audio reader")
	}

	params := oai.AudioTranscriptionNewParams{
		File:           req.Audio,
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	if req.Progress != nil {
		req.Progress(0)
	}

	var verbose verboseTranscription
	_, err := p.client.Audio.Transcriptions.New(ctx, params,
		option.WithResponseBodyInto(&verbose))
	if err != nil {
		return nil, fmt.Errorf("openai transcribe: %w", err)
	}

	result := &transcribe.Result{
		Language: verbose.Language,
		Duration: verbose.Duration,
		Segments: make([]transcribe.Segment, 0, len(verbose.Segments)),
	}
	for _, s := range verbose.Segments {
		result.Segments = append(result.Segments, transcribe.Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			Confidence: logprobConfidence(s.AvgLogprob),
		})
	}
	// Whisper occasionally returns text without segments for very short clips.
	if len(result.Segments) == 0 && verbose.Text != "" {
		result.Segments = append(result.Segments, transcribe.Segment{
			Start:      0,
			End:        verbose.Duration,
			Text:       verbose.Text,
			Confidence: 1,
		})
	}

	if req.Progress != nil {
		req.Progress(1)
	}
	return result, nil
}

// logprobConfidence maps an average token log-probability to [0,1].
// exp(logprob) is the geometric-mean token probability.
func logprobConfidence(avgLogprob float64) float64 {
	c := math.Exp(avgLogprob)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
