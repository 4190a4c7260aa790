// Package voice defines the Provider interface for voice (speaker) embedding
// backends.
//
// A voice embedding provider maps an audio interval to a fixed-dimension
// float32 vector characterizing the speaker's voice (e.g., a pyannote
// embedding model served over HTTP). The speaker identity engine aggregates
// these vectors per diarization label and matches them across files.
//
// Implementors must be safe for concurrent use.
package voice

import (
	"context"
	"io"
)

// Request identifies one audio interval to embed.
type Request struct {
	// Audio is the full media content. The provider is responsible for
	// selecting the [Start, End) interval; the caller closes the reader.
	Audio io.Reader

	// Filename signals the container format to HTTP backends.
	Filename string

	// Start and End bound the interval in seconds from the beginning of the
	// media. End must be greater than Start.
	Start float64
	End   float64
}

// Provider is the abstraction over any voice embedding backend.
type Provider interface {
	// Embed returns the voice embedding for the requested interval. The
	// returned slice has exactly Dimensions() elements.
	Embed(ctx context.Context, req Request) ([]float32, error)

	// Dimensions reports the embedding dimension this backend produces
	// (512 for pyannote embedding models).
	Dimensions() int
}
