package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tobfr/verbatim/internal/blob"
	"github.com/tobfr/verbatim/internal/errclass"
	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/waveform"
)

// runWaveform decodes the original audio and stores the multi-resolution RMS
// peaks on the media file row, where the player UI reads them.
func (s *Service) runWaveform(ctx context.Context, task store.Task) error {
	audio, err := s.blobs.Get(ctx, blob.OriginalKey(task.FileID))
	if err != nil {
		return err
	}
	defer audio.Close()

	samples, _, err := waveform.DecodeWAV(audio)
	if errors.Is(err, waveform.ErrUnsupportedWAV) {
		return fmt.Errorf("waveform for %s: %v: %w", task.FileID, err, errclass.ErrFormat)
	}
	if err != nil {
		return fmt.Errorf("waveform for %s: %w", task.FileID, err)
	}

	peaks := waveform.Multi(samples, waveform.DefaultResolutions)
	if err := s.store.Files.SetWaveform(ctx, task.FileID, peaks); err != nil {
		return fmt.Errorf("waveform for %s: %w", task.FileID, err)
	}
	return nil
}

// SpeakerStats is the per-speaker slice of a file's analytics.
type SpeakerStats struct {
	Label         string  `json:"label"`
	TalkTimeSec   float64 `json:"talk_time_sec"`
	WordCount     int     `json:"word_count"`
	SegmentCount  int     `json:"segment_count"`
	Interruptions int     `json:"interruptions"`
}

// Analytics summarizes who spoke how much in a file.
type Analytics struct {
	TotalTalkTimeSec float64        `json:"total_talk_time_sec"`
	TotalWords       int            `json:"total_words"`
	Speakers         []SpeakerStats `json:"speakers"`
}

// ComputeAnalytics derives talk-time, word-count, and interruption statistics
// from the transcript. An interruption is a segment starting before the
// previous segment of a different speaker has ended. Speakers are keyed by
// diarization label and returned in descending talk-time order.
func ComputeAnalytics(segments []store.TranscriptSegment) Analytics {
	byLabel := map[string]*SpeakerStats{}
	order := []string{}
	stats := func(label string) *SpeakerStats {
		st, ok := byLabel[label]
		if !ok {
			st = &SpeakerStats{Label: label}
			byLabel[label] = st
			order = append(order, label)
		}
		return st
	}

	var a Analytics
	for i, seg := range segments {
		st := stats(seg.DiarizationLabel)
		dur := seg.EndSec - seg.StartSec
		if dur < 0 {
			dur = 0
		}
		words := len(strings.Fields(seg.Text))

		st.TalkTimeSec += dur
		st.WordCount += words
		st.SegmentCount++
		a.TotalTalkTimeSec += dur
		a.TotalWords += words

		if i > 0 {
			prev := segments[i-1]
			if prev.DiarizationLabel != seg.DiarizationLabel && seg.StartSec < prev.EndSec {
				st.Interruptions++
			}
		}
	}

	a.Speakers = make([]SpeakerStats, 0, len(order))
	for _, label := range order {
		a.Speakers = append(a.Speakers, *byLabel[label])
	}
	sort.SliceStable(a.Speakers, func(i, j int) bool {
		return a.Speakers[i].TalkTimeSec > a.Speakers[j].TalkTimeSec
	})
	return a
}

// runAnalytics computes and stores the file's speaker analytics blob.
func (s *Service) runAnalytics(ctx context.Context, task store.Task) error {
	segments, err := s.store.Segments.ListForFile(ctx, task.FileID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ComputeAnalytics(segments))
	if err != nil {
		return fmt.Errorf("analytics for %s: encode: %w", task.FileID, err)
	}
	return s.blobs.Put(ctx, blob.AnalyticsKey(task.FileID),
		bytes.NewReader(payload), int64(len(payload)), "application/json")
}
