package llm

import "testing"

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced json tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}\n", `{"a":1}`},
		{"fence with prose kept", "```json\n[1,2]\n```", "[1,2]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripFences(tc.in); got != tc.want {
				t.Errorf("StripFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "hello world, twenty one"}, // 23 chars -> 6 + 4
	}
	got := EstimateTokens(msgs)
	if got != 10 {
		t.Errorf("EstimateTokens = %d, want 10", got)
	}

	if EstimateTokens(nil) != 0 {
		t.Errorf("EstimateTokens(nil) = %d, want 0", EstimateTokens(nil))
	}
}
