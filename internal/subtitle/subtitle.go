// Package subtitle shapes transcript segments into SRT and WebVTT subtitle
// files. Shaping is pure and deterministic: wrapping at a line budget,
// limiting lines per cue, splitting overlong segments proportionally to
// their text, and clamping display times. The SRT parser supports the
// round-trip of emitted files.
package subtitle

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/store"
)

// Options controls cue shaping. Use [DefaultOptions] for the industry
// defaults.
type Options struct {
	// MaxLineChars is the maximum characters per rendered line.
	MaxLineChars int

	// MaxLines is the maximum lines per cue; longer text splits into
	// multiple cues sharing the segment's time span.
	MaxLines int

	// MinDuration and MaxDuration bound a cue's display time in seconds.
	// A short cue is extended up to the following cue's start; a long one is
	// clamped.
	MinDuration float64
	MaxDuration float64

	// MaxCharsPerSec is the target reading speed. The splitter uses it when
	// dividing a segment's time among sub-cues; it never stretches a
	// segment's own boundaries.
	MaxCharsPerSec float64

	// SpeakerPrefix prepends "Name: " to each cue's first line.
	SpeakerPrefix bool
}

// DefaultOptions are the subtitle industry defaults.
func DefaultOptions() Options {
	return Options{
		MaxLineChars:   42,
		MaxLines:       2,
		MinDuration:    1,
		MaxDuration:    6,
		MaxCharsPerSec: 20,
		SpeakerPrefix:  true,
	}
}

// Cue is one timed subtitle block.
type Cue struct {
	Index int
	Start float64
	End   float64
	Lines []string
}

// Text returns the cue's lines joined by newlines.
func (c Cue) Text() string {
	return strings.Join(c.Lines, "\n")
}

// Build shapes segments into cues. names resolves assigned speaker IDs to
// display names; segments without a resolvable name fall back to their
// diarization label, and an empty label means no prefix. Segments are
// expected in index order.
func Build(segments []store.TranscriptSegment, names map[uuid.UUID]string, opts Options) []Cue {
	var cues []Cue
	for _, seg := range segments {
		text := strings.Join(strings.Fields(seg.Text), " ")
		if text == "" {
			continue
		}
		if opts.SpeakerPrefix {
			if name := speakerName(seg, names); name != "" {
				text = name + ": " + text
			}
		}

		lines := wrap(text, opts.MaxLineChars)
		for _, part := range split(seg.StartSec, seg.EndSec, lines, opts.MaxLines) {
			if part.End-part.Start > opts.MaxDuration {
				part.End = part.Start + opts.MaxDuration
			}
			cues = append(cues, part)
		}
	}

	// Extend sub-minimum cues into the following gap.
	for i := range cues {
		if cues[i].End-cues[i].Start >= opts.MinDuration {
			continue
		}
		end := cues[i].Start + opts.MinDuration
		if i+1 < len(cues) && end > cues[i+1].Start {
			end = cues[i+1].Start
		}
		if end > cues[i].End {
			cues[i].End = end
		}
	}

	for i := range cues {
		cues[i].Index = i + 1
	}
	return cues
}

func speakerName(seg store.TranscriptSegment, names map[uuid.UUID]string) string {
	if seg.SpeakerID != nil {
		if name, ok := names[*seg.SpeakerID]; ok && name != "" {
			return name
		}
	}
	return seg.DiarizationLabel
}

// wrap word-wraps text into lines of at most width characters. A single word
// longer than width is hard-broken.
func wrap(text string, width int) []string {
	var lines []string
	var line strings.Builder

	flush := func() {
		if line.Len() > 0 {
			lines = append(lines, line.String())
			line.Reset()
		}
	}

	for _, word := range strings.Fields(text) {
		for len(word) > width {
			flush()
			lines = append(lines, word[:width])
			word = word[width:]
		}
		switch {
		case line.Len() == 0:
			line.WriteString(word)
		case line.Len()+1+len(word) <= width:
			line.WriteByte(' ')
			line.WriteString(word)
		default:
			flush()
			line.WriteString(word)
		}
	}
	flush()
	return lines
}

// split divides a segment's lines into cues of at most maxLines each, giving
// every cue a share of the time span proportional to its character count.
func split(start, end float64, lines []string, maxLines int) []Cue {
	if len(lines) <= maxLines {
		return []Cue{{Start: start, End: end, Lines: lines}}
	}

	var groups [][]string
	for len(lines) > 0 {
		n := min(maxLines, len(lines))
		groups = append(groups, lines[:n])
		lines = lines[n:]
	}

	total := 0
	for _, g := range groups {
		for _, l := range g {
			total += len(l)
		}
	}

	cues := make([]Cue, 0, len(groups))
	at := start
	span := end - start
	for i, g := range groups {
		chars := 0
		for _, l := range g {
			chars += len(l)
		}
		cueEnd := at + span*float64(chars)/float64(total)
		if i == len(groups)-1 {
			cueEnd = end
		}
		cues = append(cues, Cue{Start: at, End: cueEnd, Lines: g})
		at = cueEnd
	}
	return cues
}

// FormatSRT renders cues as SubRip. SRT timestamps use a comma decimal
// separator.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			c.Index, timestamp(c.Start, ','), timestamp(c.End, ','), c.Text())
	}
	return b.String()
}

// FormatVTT renders cues as WebVTT. VTT timestamps use a dot decimal
// separator.
func FormatVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, c := range cues {
		fmt.Fprintf(&b, "\n%s --> %s\n%s\n",
			timestamp(c.Start, '.'), timestamp(c.End, '.'), c.Text())
	}
	return b.String()
}

// timestamp renders seconds as HH:MM:SS<sep>mmm, rounding to the nearest
// millisecond.
func timestamp(sec float64, sep byte) string {
	ms := int64(sec*1000 + 0.5)
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
