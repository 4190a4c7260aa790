package topics

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/pkg/provider/llm"
	llmmock "github.com/tobfr/verbatim/pkg/provider/llm/mock"
)

type captureStore struct {
	fileID      uuid.UUID
	suggestions []store.TopicSuggestion
}

func (c *captureStore) ReplaceSuggestions(_ context.Context, fileID uuid.UUID, suggestions []store.TopicSuggestion) error {
	c.fileID = fileID
	c.suggestions = suggestions
	return nil
}

func TestExtract(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "```json\n" + `{
			"topics": [
				{"topic": "Quarterly Planning", "relevance": 0.9},
				{"topic": "budget", "relevance": 1.7},
				{"topic": "quarterly planning", "relevance": 0.3},
				{"topic": "  ", "relevance": 0.5}
			]
		}` + "\n```"},
	}
	sink := &captureStore{}
	fileID := uuid.New()

	got, err := NewExtractor(provider, sink).Extract(context.Background(), fileID, "we talked about the budget")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("suggestions = %d, want 2 after dedup and blank drop", len(got))
	}
	// Clamped relevance 1.0 sorts first.
	if got[0].Topic != "budget" || got[0].Relevance != 1 {
		t.Errorf("got[0] = %+v, want budget with clamped relevance 1", got[0])
	}
	if got[1].Topic != "quarterly planning" || got[1].Relevance != 0.9 {
		t.Errorf("got[1] = %+v, want lowercased quarterly planning at 0.9", got[1])
	}
	if sink.fileID != fileID {
		t.Errorf("stored under file %s, want %s", sink.fileID, fileID)
	}
}

func TestExtract_BadModelReply(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "I cannot help with that."},
	}

	_, err := NewExtractor(provider, &captureStore{}).Extract(context.Background(), uuid.New(), "transcript")
	if err == nil {
		t.Fatal("non-JSON reply accepted")
	}
}

func TestExtract_EmptyTranscript(t *testing.T) {
	provider := &llmmock.Provider{}
	sink := &captureStore{}

	got, err := NewExtractor(provider, sink).Extract(context.Background(), uuid.New(), "   ")
	if err != nil || got != nil {
		t.Fatalf("Extract(blank) = %v, %v; want nil, nil", got, err)
	}
	if len(provider.CompleteCalls) != 0 {
		t.Error("model called for a blank transcript")
	}
}
