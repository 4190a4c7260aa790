package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/notify"
	"github.com/tobfr/verbatim/internal/speaker"
	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/summarize"
	"github.com/tobfr/verbatim/pkg/provider/llm"
)

// transcriptWithNames loads a file's segments together with the display names
// of their resolved speakers.
func (s *Service) transcriptWithNames(ctx context.Context, fileID uuid.UUID) ([]store.TranscriptSegment, map[uuid.UUID]string, error) {
	segments, err := s.store.Segments.ListForFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	speakers, err := s.store.Speakers.ListForFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	names := make(map[uuid.UUID]string, len(speakers))
	for _, sp := range speakers {
		names[sp.ID] = sp.Name
	}
	return segments, names, nil
}

// runSummarization renders the transcript with speaker attribution and stores
// the BLUF summary.
func (s *Service) runSummarization(ctx context.Context, task store.Task) error {
	segments, names, err := s.transcriptWithNames(ctx, task.FileID)
	if err != nil {
		return err
	}

	var summary store.Summary
	err = s.modelBreaker.Execute(func() error {
		var sErr error
		summary, sErr = s.summarizer.Summarize(ctx, task.FileID, summarize.Render(segments, names))
		return sErr
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify.EventSummaryReady, task.UserID, task.FileID, map[string]any{
		"kind": "summary",
		"bluf": summary.BLUF,
	})
	return nil
}

// runTopicExtraction asks the model for topic suggestions and stores them for
// user review.
func (s *Service) runTopicExtraction(ctx context.Context, task store.Task) error {
	segments, names, err := s.transcriptWithNames(ctx, task.FileID)
	if err != nil {
		return err
	}

	var suggestions []store.TopicSuggestion
	err = s.modelBreaker.Execute(func() error {
		var tErr error
		suggestions, tErr = s.topics.Extract(ctx, task.FileID, summarize.Render(segments, names))
		return tErr
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify.EventSummaryReady, task.UserID, task.FileID, map[string]any{
		"kind":   "topics",
		"topics": len(suggestions),
	})
	return nil
}

// speakerHint is one LLM-derived name guess for a diarization label.
type speakerHint struct {
	Label      string  `json:"label"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

const speakerHintsPrompt = `The following is a diarized transcript. Speakers are identified only by placeholder labels such as SPEAKER_00. Infer real names from the conversation itself, e.g. when participants address or introduce each other.

Reply with a JSON array, one object per label you can name:
[{"label": "SPEAKER_00", "name": "Anna", "confidence": 0.9}]

Only include labels where the transcript gives direct evidence for the name. Reply with [] when there is none.`

// runSpeakerHints mines the transcript for self-introductions and forms of
// address, then surfaces name guesses as suggestions. Hints never rename a
// speaker; that stays a user decision.
func (s *Service) runSpeakerHints(ctx context.Context, task store.Task) error {
	segments, names, err := s.transcriptWithNames(ctx, task.FileID)
	if err != nil {
		return err
	}

	// Only unnamed speakers need hints.
	unnamed := map[string]uuid.UUID{}
	speakers, err := s.store.Speakers.ListForFile(ctx, task.FileID)
	if err != nil {
		return err
	}
	for _, sp := range speakers {
		if speaker.IsRawLabel(sp.Name) {
			unnamed[sp.Name] = sp.ID
		}
	}
	if len(unnamed) == 0 {
		return nil
	}

	transcript := llm.TruncateToFit(s.llm, summarize.Render(segments, names))
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	var hints []speakerHint
	err = s.modelBreaker.Execute(func() error {
		raw, jErr := llm.CompleteJSON(ctx, s.llm, llm.CompletionRequest{
			SystemPrompt: speakerHintsPrompt,
			Messages:     []llm.Message{{Role: "user", Content: transcript}},
			Temperature:  0,
		}, &hints)
		if jErr != nil {
			return fmt.Errorf("speaker hints: %w (reply %q)", jErr, truncateForLog(raw))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, h := range hints {
		speakerID, ok := unnamed[h.Label]
		if !ok || strings.TrimSpace(h.Name) == "" {
			continue
		}
		s.publish(ctx, notify.EventSpeakerMatch, task.UserID, task.FileID, map[string]any{
			"kind":       "name_hint",
			"speaker_id": speakerID,
			"label":      h.Label,
			"name":       strings.TrimSpace(h.Name),
			"confidence": h.Confidence,
		})
	}
	return nil
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
