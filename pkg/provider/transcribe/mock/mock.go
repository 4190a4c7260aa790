// Package mock provides a test double for the transcribe.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/tobfr/verbatim/pkg/provider/transcribe"
)

// Call records a single invocation of Transcribe.
type Call struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe. Req.Audio has been consumed.
	Req transcribe.Request
}

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result *transcribe.Result

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// ProgressSteps, when non-empty, is replayed through Req.Progress before
	// returning, simulating a backend that streams coarse progress.
	ProgressSteps []float64

	// Calls records every invocation in order.
	Calls []Call
}

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	steps := p.ProgressSteps
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if req.Progress != nil {
		for _, f := range steps {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			req.Progress(f)
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
