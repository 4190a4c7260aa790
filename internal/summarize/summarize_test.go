package summarize

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/pkg/provider/llm"
	llmmock "github.com/tobfr/verbatim/pkg/provider/llm/mock"
)

type captureStore struct {
	saved *store.Summary
}

func (c *captureStore) SaveSummary(_ context.Context, s store.Summary) error {
	c.saved = &s
	return nil
}

func TestSummarize(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"bluf": "The team agreed to ship in May.", "summary": "## Context\nRelease planning."}`,
		},
	}
	sink := &captureStore{}
	fileID := uuid.New()

	got, err := New(provider, sink, "gpt-4o-mini").Summarize(context.Background(), fileID, "Alice: let's ship in May")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if got.BLUF != "The team agreed to ship in May." {
		t.Errorf("bluf = %q", got.BLUF)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want provenance recorded", got.Model)
	}
	if sink.saved == nil || sink.saved.FileID != fileID {
		t.Errorf("saved = %+v, want persisted for %s", sink.saved, fileID)
	}
}

func TestSummarize_MissingBLUF(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"bluf": "", "summary": "body"}`},
	}

	_, err := New(provider, &captureStore{}, "m").Summarize(context.Background(), uuid.New(), "text")
	if err == nil {
		t.Fatal("blufless reply accepted")
	}
}

func TestRender(t *testing.T) {
	alice := uuid.New()
	segments := []store.TranscriptSegment{
		{Text: "hello", DiarizationLabel: "SPEAKER_00", SpeakerID: &alice},
		{Text: "hi there", DiarizationLabel: "SPEAKER_01"},
		{Text: "unlabeled aside"},
	}

	out := Render(segments, map[uuid.UUID]string{alice: "Alice"})
	want := "Alice: hello\nSPEAKER_01: hi there\nunlabeled aside\n"
	if out != want {
		t.Errorf("Render = %q, want %q", out, want)
	}
}

func TestTruncateToFit(t *testing.T) {
	provider := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 600, MaxOutputTokens: 50},
	}

	long := strings.Repeat("word ", 2000) // ~2500 tokens by the estimator
	got := llm.TruncateToFit(provider, long)
	if len(got) >= len(long) {
		t.Fatal("overlong text not truncated")
	}
	if n, _ := provider.CountTokens([]llm.Message{{Role: "user", Content: got}}); n > 600-50-512 {
		t.Errorf("truncated text still counts %d tokens", n)
	}
	if strings.HasSuffix(got, " ") {
		t.Error("truncation left a trailing space")
	}
}
