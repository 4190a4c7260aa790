package errclass

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify_Sentinels(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("transcription: %w", ErrNoSpeech), NoSpeech},
		{fmt.Errorf("decode: %w", ErrFileQuality), FileQuality},
		{fmt.Errorf("probe: %w", ErrFormat), FormatIssue},
		{fmt.Errorf("fetch: %w", ErrPermission), PermissionError},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestClassify_Heuristics(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"dial tcp: connection refused", NetworkError},
		{"GET https://example.com: 403 Forbidden", PermissionError},
		{"ffprobe: moov atom not found", FileQuality},
		{"unsupported codec: wmav2", FormatIssue},
		{"model reported no speech in input", NoSpeech},
		{"CUDA error: device-side assert triggered", ProcessingError},
		{"something entirely else", Unknown},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestClassify_DeadlineIsNetwork(t *testing.T) {
	err := fmt.Errorf("download: %w", context.DeadlineExceeded)
	if got := Classify(err); got != NetworkError {
		t.Errorf("Classify(deadline) = %v, want NETWORK_ERROR", got)
	}
}

func TestRetriable(t *testing.T) {
	retriable := []Kind{NetworkError, ProcessingError, Unknown}
	terminal := []Kind{FileQuality, NoSpeech, FormatIssue, PermissionError}

	for _, k := range retriable {
		if !k.Retriable() {
			t.Errorf("%v should be retriable", k)
		}
	}
	for _, k := range terminal {
		if k.Retriable() {
			t.Errorf("%v should not be retriable", k)
		}
	}
}

func TestMessage(t *testing.T) {
	err := fmt.Errorf("transcription: %w", ErrNoSpeech)
	got := Message(err)
	want := "NO_SPEECH: transcription: no detectable speech content"
	if got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
	if Message(nil) != "" {
		t.Errorf("Message(nil) = %q, want empty", Message(nil))
	}
}

func TestUserMessageAndSuggestionsCoverAllKinds(t *testing.T) {
	kinds := []Kind{FileQuality, NoSpeech, FormatIssue, NetworkError, PermissionError, ProcessingError, Unknown}
	for _, k := range kinds {
		if k.UserMessage() == "" {
			t.Errorf("%v has empty user message", k)
		}
		if len(k.Suggestions()) == 0 {
			t.Errorf("%v has no suggestions", k)
		}
	}
}
