// Package summarize produces BLUF-style summaries of transcripts via the LLM
// provider. The stored summary is indexed for full-text search by the
// summaries table's tsvector index, which is what file search ranks against
// alongside segment text.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/pkg/provider/llm"
)

const systemPrompt = `You summarize transcribed recordings for later recall.
Reply with JSON only:
{"bluf": "...", "summary": "..."}
bluf is a single bottom-line-up-front paragraph (2-3 sentences) stating what
happened and what was decided. summary is a structured markdown account with
sections for context, discussion, and outcomes. Use the speakers' names as
they appear in the transcript. Do not invent facts.`

// SummaryStore is the persistence slice the summarizer needs.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s store.Summary) error
}

// Summarizer generates and persists transcript summaries.
type Summarizer struct {
	llm   llm.Provider
	store SummaryStore
	model string
}

// New creates a Summarizer. model is recorded on stored summaries for
// provenance; pass the configured model name.
func New(provider llm.Provider, summaryStore SummaryStore, model string) *Summarizer {
	return &Summarizer{llm: provider, store: summaryStore, model: model}
}

type summaryReply struct {
	BLUF    string `json:"bluf"`
	Summary string `json:"summary"`
}

// Summarize generates a summary over the transcript and upserts it for the
// file. The transcript is truncated to the model's context window.
func (s *Summarizer) Summarize(ctx context.Context, fileID uuid.UUID, transcript string) (store.Summary, error) {
	transcript = llm.TruncateToFit(s.llm, transcript)
	if strings.TrimSpace(transcript) == "" {
		return store.Summary{}, fmt.Errorf("summarize: empty transcript for file %s", fileID)
	}

	var reply summaryReply
	raw, err := llm.CompleteJSON(ctx, s.llm, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
		Temperature:  0.3,
	}, &reply)
	if err != nil {
		return store.Summary{}, fmt.Errorf("summarize: %w (reply: %.200s)", err, raw)
	}

	reply.BLUF = strings.TrimSpace(reply.BLUF)
	reply.Summary = strings.TrimSpace(reply.Summary)
	if reply.BLUF == "" {
		return store.Summary{}, fmt.Errorf("summarize: model returned no bluf for file %s", fileID)
	}

	summary := store.Summary{
		FileID: fileID,
		BLUF:   reply.BLUF,
		Body:   reply.Summary,
		Model:  s.model,
	}
	if err := s.store.SaveSummary(ctx, summary); err != nil {
		return store.Summary{}, fmt.Errorf("summarize: store: %w", err)
	}
	return summary, nil
}

// Render flattens segments into the "Name: text" transcript form the NLP
// prompts consume. Unassigned segments fall back to their diarization label.
func Render(segments []store.TranscriptSegment, names map[uuid.UUID]string) string {
	var b strings.Builder
	for _, seg := range segments {
		name := seg.DiarizationLabel
		if seg.SpeakerID != nil {
			if n, ok := names[*seg.SpeakerID]; ok && n != "" {
				name = n
			}
		}
		if name != "" {
			b.WriteString(name)
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteByte('\n')
	}
	return b.String()
}
