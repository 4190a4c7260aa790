// Package http provides a voice embedding provider that talks to a sidecar
// embedding service (typically a pyannote model behind a small HTTP wrapper).
//
// The wire contract is a multipart POST to <base>/embed with the audio file
// under the "file" field and "start"/"end" form values in seconds; the
// response is JSON: {"embedding": [0.12, -0.04, ...]}.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tobfr/verbatim/pkg/provider/voice"
)

// Compile-time assertion that Provider satisfies voice.Provider.
var _ voice.Provider = (*Provider)(nil)

// Provider implements voice.Provider against a sidecar embedding service.
type Provider struct {
	baseURL    string
	dimensions int
	client     *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithHTTPClient overrides the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// New constructs a Provider for the embedding service at baseURL producing
// vectors of the given dimension.
func New(baseURL string, dimensions int, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("voice http: baseURL must not be empty")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("voice http: dimensions must be positive, got %d", dimensions)
	}

	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// embedResponse is the service's JSON reply.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements voice.Provider.
func (p *Provider) Embed(ctx context.Context, req voice.Request) ([]float32, error) {
	if req.Audio == nil {
		return nil, fmt.Errorf("voice http: nil audio reader")
	}
	if req.End <= req.Start {
		return nil, fmt.Errorf("voice http: invalid interval [%f, %f)", req.Start, req.End)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	name := req.Filename
	if name == "" {
		name = "audio"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("voice http: create form file: %w", err)
	}
	if _, err := io.Copy(fw, req.Audio); err != nil {
		return nil, fmt.Errorf("voice http: copy audio: %w", err)
	}
	_ = mw.WriteField("start", strconv.FormatFloat(req.Start, 'f', 3, 64))
	_ = mw.WriteField("end", strconv.FormatFloat(req.End, 'f', 3, 64))
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("voice http: finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", &body)
	if err != nil {
		return nil, fmt.Errorf("voice http: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("voice http: post embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("voice http: embed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("voice http: decode response: %w", err)
	}
	if len(er.Embedding) != p.dimensions {
		return nil, fmt.Errorf("voice http: expected %d dimensions, got %d", p.dimensions, len(er.Embedding))
	}
	return er.Embedding, nil
}

// Dimensions implements voice.Provider.
func (p *Provider) Dimensions() int {
	return p.dimensions
}
