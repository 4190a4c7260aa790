package subtitle

import (
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/store"
)

func seg(idx int, start, end float64, text, label string) store.TranscriptSegment {
	return store.TranscriptSegment{
		Index:            idx,
		StartSec:         start,
		EndSec:           end,
		Text:             text,
		DiarizationLabel: label,
	}
}

func TestBuild_SpeakerPrefixAndTimestamps(t *testing.T) {
	speakerID := uuid.New()
	s := seg(0, 62.0, 64.5, "Hello world, this is a test of the subtitle formatter.", "SPEAKER_00")
	s.SpeakerID = &speakerID

	cues := Build([]store.TranscriptSegment{s}, map[uuid.UUID]string{speakerID: "Bob"}, DefaultOptions())
	if len(cues) != 1 {
		t.Fatalf("cues = %d, want 1", len(cues))
	}

	srt := FormatSRT(cues)
	if !strings.HasPrefix(srt, "1\n00:01:02,000 --> 00:01:04,500\n") {
		t.Errorf("SRT header wrong:\n%s", srt)
	}
	if !strings.HasPrefix(cues[0].Lines[0], "Bob: Hello world,") {
		t.Errorf("first line = %q, want Bob: Hello world, …", cues[0].Lines[0])
	}
	for _, line := range cues[0].Lines {
		if len(line) > 42 {
			t.Errorf("line exceeds 42 chars: %q", line)
		}
	}
	if len(cues[0].Lines) > 2 {
		t.Errorf("cue has %d lines, want at most 2", len(cues[0].Lines))
	}
}

func TestBuild_FallsBackToDiarizationLabel(t *testing.T) {
	cues := Build([]store.TranscriptSegment{
		seg(0, 0, 2, "short line", "SPEAKER_01"),
	}, nil, DefaultOptions())

	if got := cues[0].Lines[0]; !strings.HasPrefix(got, "SPEAKER_01: ") {
		t.Errorf("line = %q, want diarization label prefix", got)
	}
}

func TestBuild_SplitsOverlongSegments(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 60)) // ~300 chars, > 2*42
	cues := Build([]store.TranscriptSegment{
		seg(0, 10, 22, long, ""),
	}, nil, DefaultOptions())

	if len(cues) < 2 {
		t.Fatalf("cues = %d, want a split", len(cues))
	}
	if cues[0].Start != 10 {
		t.Errorf("first cue start = %v, want 10", cues[0].Start)
	}
	if last := cues[len(cues)-1]; last.End != 22 {
		t.Errorf("last cue end = %v, want 22", last.End)
	}
	for i := 1; i < len(cues); i++ {
		if cues[i].Start < cues[i-1].End-1e-9 {
			t.Errorf("cue %d overlaps its predecessor", i+1)
		}
	}
	for _, c := range cues {
		if len(c.Lines) > 2 {
			t.Errorf("cue %d has %d lines", c.Index, len(c.Lines))
		}
	}
}

func TestBuild_DurationBounds(t *testing.T) {
	cues := Build([]store.TranscriptSegment{
		seg(0, 0, 0.4, "blip", ""),     // below the 1s floor
		seg(1, 5, 20, "held cue", ""),  // above the 6s ceiling
	}, nil, DefaultOptions())

	if d := cues[0].End - cues[0].Start; math.Abs(d-1) > 1e-9 {
		t.Errorf("short cue duration = %v, want extended to 1s", d)
	}
	if d := cues[1].End - cues[1].Start; math.Abs(d-6) > 1e-9 {
		t.Errorf("long cue duration = %v, want clamped to 6s", d)
	}
}

func TestBuild_ShortCueStopsAtNextCue(t *testing.T) {
	cues := Build([]store.TranscriptSegment{
		seg(0, 0, 0.4, "blip", ""),
		seg(1, 0.6, 2.0, "next", ""),
	}, nil, DefaultOptions())

	if cues[0].End > cues[1].Start+1e-9 {
		t.Errorf("extended cue end %v overlaps next start %v", cues[0].End, cues[1].Start)
	}
}

func TestFormatVTT(t *testing.T) {
	cues := Build([]store.TranscriptSegment{
		seg(0, 62.0, 64.5, "Hello there.", "SPEAKER_00"),
	}, nil, DefaultOptions())

	vtt := FormatVTT(cues)
	if !strings.HasPrefix(vtt, "WEBVTT\n") {
		t.Error("missing WEBVTT header")
	}
	if !strings.Contains(vtt, "00:01:02.000 --> 00:01:04.500") {
		t.Errorf("VTT uses wrong decimal separator:\n%s", vtt)
	}
	if strings.Contains(vtt, ",") && strings.Contains(vtt, "-->") &&
		strings.Contains(strings.SplitAfter(vtt, "-->")[0], ",") {
		t.Error("comma leaked into a VTT timestamp")
	}
}

func TestSRT_RoundTrip(t *testing.T) {
	segments := []store.TranscriptSegment{
		seg(0, 0, 3.25, "First segment of the recording session.", "SPEAKER_00"),
		seg(1, 3.5, 7.081, "Second one, slightly longer than before.", "SPEAKER_01"),
		seg(2, 8, 9.5, "And a third.", "SPEAKER_00"),
	}
	opts := DefaultOptions()
	opts.SpeakerPrefix = false

	cues := Build(segments, nil, opts)
	parsed, err := ParseSRT(FormatSRT(cues))
	if err != nil {
		t.Fatalf("ParseSRT: %v", err)
	}
	if len(parsed) != len(cues) {
		t.Fatalf("parsed %d cues, want %d", len(parsed), len(cues))
	}

	for i := range cues {
		if parsed[i].Index != cues[i].Index {
			t.Errorf("cue %d: index %d != %d", i, parsed[i].Index, cues[i].Index)
		}
		if math.Abs(parsed[i].Start-cues[i].Start) > 0.001 {
			t.Errorf("cue %d: start %v != %v", i, parsed[i].Start, cues[i].Start)
		}
		if math.Abs(parsed[i].End-cues[i].End) > 0.001 {
			t.Errorf("cue %d: end %v != %v", i, parsed[i].End, cues[i].End)
		}
		if parsed[i].Text() != cues[i].Text() {
			t.Errorf("cue %d: text %q != %q", i, parsed[i].Text(), cues[i].Text())
		}
	}
}

func TestParseSRT_Malformed(t *testing.T) {
	if _, err := ParseSRT("1\nnot a time line\ntext"); err == nil {
		t.Error("bad time line accepted")
	}
	if _, err := ParseSRT("x\n00:00:00,000 --> 00:00:01,000\ntext"); err == nil {
		t.Error("bad index accepted")
	}
}

func TestWrap_HardBreaksLongWords(t *testing.T) {
	lines := wrap(strings.Repeat("x", 100), 42)
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	for i, l := range lines {
		if len(l) > 42 {
			t.Errorf("line %d length %d exceeds width", i, len(l))
		}
	}
}
