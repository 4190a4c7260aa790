// Package transcribe defines the Provider interface for batch
// transcription-plus-diarization backends.
//
// A transcription provider consumes a complete media object and returns the
// full diarized transcript in one call. This is deliberately not a streaming
// interface: verbatim processes uploaded files on the gpu queue, where the
// task reports coarse progress itself and the model run is an opaque, possibly
// hours-long unit of work.
//
// Implementors must be safe for concurrent use, although the gpu queue only
// ever holds one transcription in flight.
package transcribe

import (
	"context"
	"io"
)

// Segment is a single diarized transcript span.
type Segment struct {
	// Start and End are offsets from the beginning of the media, in seconds.
	Start float64
	End   float64

	// Text is the transcribed content of the span.
	Text string

	// Speaker is the diarization label (e.g., "SPEAKER_00"). Empty when the
	// backend performs no diarization; callers treat the file as single-speaker.
	Speaker string

	// Confidence is the backend's confidence for this span in [0,1].
	// Backends without per-segment confidence report 1.
	Confidence float64
}

// Request carries the audio and hints for one transcription run.
type Request struct {
	// Audio is the media content. The provider reads it fully; the caller
	// closes it.
	Audio io.Reader

	// Filename is the original name, used by HTTP backends to signal the
	// container format (e.g., "interview.mp3").
	Filename string

	// Language is an optional BCP-47 hint ("en", "de"). Empty means
	// auto-detect.
	Language string

	// Progress, when non-nil, receives coarse completion fractions in [0,1].
	// Implementations call it best-effort and never block on it.
	Progress func(fraction float64)
}

// Result is the outcome of a transcription run.
type Result struct {
	// Segments is the ordered diarized transcript. Never nil on success.
	Segments []Segment

	// Language is the detected (or confirmed) language code.
	Language string

	// Duration is the media duration in seconds as reported by the backend.
	Duration float64
}

// Provider is the abstraction over any transcription+diarization backend.
type Provider interface {
	// Transcribe runs the model over req.Audio and returns the diarized
	// transcript. It blocks until the run finishes, fails, or ctx is
	// cancelled.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
