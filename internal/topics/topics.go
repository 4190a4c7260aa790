// Package topics extracts suggested tags and collections from a transcript
// via the LLM provider. Suggestions land in the topic_suggestions table as
// pending rows; the user accepts or rejects them, and re-extraction never
// touches reviewed rows.
package topics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/pkg/provider/llm"
)

const systemPrompt = `You are a librarian tagging transcribed recordings.
Given a transcript, propose up to %d short topical tags a user would file
this recording under. Reply with JSON only:
{"topics": [{"topic": "...", "relevance": 0.0}]}
relevance is in [0,1]. Tags are 1-3 words, lowercase, no punctuation.`

// MaxSuggestions caps how many topics one extraction may propose.
const MaxSuggestions = 8

// TopicStore is the persistence slice the extractor needs.
type TopicStore interface {
	ReplaceSuggestions(ctx context.Context, fileID uuid.UUID, suggestions []store.TopicSuggestion) error
}

// Extractor turns transcripts into topic suggestions.
type Extractor struct {
	llm   llm.Provider
	store TopicStore
}

// NewExtractor creates an Extractor over the given model and store.
func NewExtractor(provider llm.Provider, topicStore TopicStore) *Extractor {
	return &Extractor{llm: provider, store: topicStore}
}

type topicReply struct {
	Topics []struct {
		Topic     string  `json:"topic"`
		Relevance float64 `json:"relevance"`
	} `json:"topics"`
}

// Extract asks the model for topics over the transcript and replaces the
// file's pending suggestions. The transcript is truncated to fit the model's
// context window. Returns the stored suggestions.
func (e *Extractor) Extract(ctx context.Context, fileID uuid.UUID, transcript string) ([]store.TopicSuggestion, error) {
	transcript = llm.TruncateToFit(e.llm, transcript)
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	var reply topicReply
	raw, err := llm.CompleteJSON(ctx, e.llm, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPrompt, MaxSuggestions),
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
		Temperature:  0.2,
	}, &reply)
	if err != nil {
		return nil, fmt.Errorf("topics: extract: %w (reply: %.200s)", err, raw)
	}

	suggestions := normalize(fileID, reply)
	if err := e.store.ReplaceSuggestions(ctx, fileID, suggestions); err != nil {
		return nil, fmt.Errorf("topics: store suggestions: %w", err)
	}
	return suggestions, nil
}

// normalize dedupes, clamps relevance, trims to MaxSuggestions, and orders
// by descending relevance.
func normalize(fileID uuid.UUID, reply topicReply) []store.TopicSuggestion {
	seen := map[string]bool{}
	var out []store.TopicSuggestion
	for _, t := range reply.Topics {
		topic := strings.ToLower(strings.TrimSpace(t.Topic))
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true

		rel := t.Relevance
		if rel < 0 {
			rel = 0
		}
		if rel > 1 {
			rel = 1
		}
		out = append(out, store.TopicSuggestion{
			ID:        uuid.New(),
			FileID:    fileID,
			Topic:     topic,
			Relevance: rel,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}
