// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, an
// Anthropic model behind any-llm, or a local Ollama instance) and exposes a
// uniform completion interface so that the verbatim NLP stages (summarization,
// topic extraction, speaker-name hints) never couple to a specific SDK.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. A value
	// of 0.0 typically requests greedy (argmax) decoding.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens the given message list would
	// consume in the model's context window. Used to truncate transcripts
	// before sending a request. The result need not be exact but should not
	// undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing the underlying model.
	// The result is assumed constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}

// CompleteJSON sends req to p and unmarshals the reply into out. Models
// frequently wrap JSON replies in markdown code fences; those are stripped
// before decoding. The raw reply text is returned alongside any decode error
// so callers can log what the model actually said.
func CompleteJSON(ctx context.Context, p Provider, req CompletionRequest, out any) (string, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	raw := StripFences(resp.Content)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return resp.Content, fmt.Errorf("llm: decode json reply: %w", err)
	}
	return resp.Content, nil
}

// StripFences removes a surrounding markdown code fence (``` or ```json) from
// s, if present, and trims whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "json" || first == "" {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// EstimateTokens is the shared fallback token estimator used by providers
// without a local tokenizer: ~4 characters per token plus a small per-message
// overhead. It intentionally rounds up.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}

// TruncateToFit cuts text so a single-user-message prompt fits the model's
// context window, leaving room for the reply plus a small fixed overhead for
// system prompts. Cuts fall on word boundaries. Returns text unchanged when
// it already fits or when token counting fails.
func TruncateToFit(p Provider, text string) string {
	caps := p.Capabilities()
	budget := caps.ContextWindow - caps.MaxOutputTokens - 512
	if budget <= 0 {
		budget = 2048
	}

	for {
		n, err := p.CountTokens([]Message{{Role: "user", Content: text}})
		if err != nil || n <= budget {
			return text
		}
		keep := len(text) * budget / n
		if keep <= 0 {
			return ""
		}
		cut := text[:keep]
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		if len(cut) >= len(text) {
			return cut
		}
		text = cut
	}
}
