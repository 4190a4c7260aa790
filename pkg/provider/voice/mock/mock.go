// Package mock provides a test double for the voice.Provider interface.
package mock

import (
	"context"
	"strconv"
	"sync"

	"github.com/tobfr/verbatim/pkg/provider/voice"
)

// Call records a single invocation of Embed.
type Call struct {
	// Req is the request passed to Embed. Req.Audio has been consumed.
	Req voice.Request
}

// Provider is a mock implementation of voice.Provider.
//
// Embeddings are served from EmbeddingFor keyed by Key(start, end), falling
// back to Embedding. This lets tests hand out distinct vectors per
// diarization segment.
type Provider struct {
	mu sync.Mutex

	// Dim is returned by Dimensions. Defaults to 512 when zero.
	Dim int

	// Embedding is the fallback vector returned by Embed.
	Embedding []float32

	// EmbeddingFor maps Key(start, end) to vectors.
	EmbeddingFor map[string][]float32

	// Err, if non-nil, is returned from Embed.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

// Compile-time assertion that Provider satisfies voice.Provider.
var _ voice.Provider = (*Provider)(nil)

// Key formats an interval the way EmbeddingFor expects: start and end with
// three decimal places joined by a dash, e.g. "0.000-4.500".
func Key(start, end float64) string {
	return strconv.FormatFloat(start, 'f', 3, 64) + "-" + strconv.FormatFloat(end, 'f', 3, 64)
}

// Embed implements voice.Provider.
func (p *Provider) Embed(_ context.Context, req voice.Request) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{Req: req})

	if p.Err != nil {
		return nil, p.Err
	}
	if v, ok := p.EmbeddingFor[Key(req.Start, req.End)]; ok {
		return v, nil
	}
	return p.Embedding, nil
}

// Dimensions implements voice.Provider.
func (p *Provider) Dimensions() int {
	if p.Dim > 0 {
		return p.Dim
	}
	return 512
}
