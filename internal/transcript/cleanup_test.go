package transcript

import (
	"strings"
	"testing"
)

func TestClean_DropsLongWords(t *testing.T) {
	long := strings.Repeat("a", 51)
	text := "hello " + long + " world"

	got, changed := Clean(text, CleanupOptions{DropLongWords: true})
	if !changed {
		t.Error("changed = false, want true")
	}
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}

	// Exactly at the threshold survives.
	edge := strings.Repeat("b", 50)
	got, changed = Clean("x "+edge, CleanupOptions{DropLongWords: true})
	if changed || got != "x "+edge {
		t.Errorf("50-rune word dropped: %q (changed=%v)", got, changed)
	}
}

func TestClean_CollapsesRepetitionLoops(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "three identical words collapse",
			in:   "the the the answer",
			want: "the answer",
		},
		{
			name: "two repeats are normal speech",
			in:   "very very good",
			want: "very very good",
		},
		{
			name: "near duplicates within one edit collapse",
			in:   "okay okey okay okay then",
			want: "okay then",
		},
		{
			name: "long hallucination run",
			in:   "so " + strings.TrimSpace(strings.Repeat("thanks ", 12)) + "bye",
			want: "so thanks bye",
		},
		{
			name: "trailing punctuation ignored for comparison",
			in:   "no, no no. fine",
			want: "no, fine",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Clean(tc.in, CleanupOptions{CollapseRepeats: true})
			if got != tc.want {
				t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestClean_Disabled(t *testing.T) {
	text := "the the the " + strings.Repeat("a", 99)
	got, changed := Clean(text, CleanupOptions{})
	if changed || got != text {
		t.Errorf("disabled cleanup modified text: %q", got)
	}
}

func TestClean_CombinedPasses(t *testing.T) {
	long := strings.Repeat("z", 60)
	text := "well well well " + long + " done"

	got, changed := Clean(text, CleanupOptions{
		DropLongWords:   true,
		MaxWordLength:   50,
		CollapseRepeats: true,
	})
	if !changed {
		t.Error("changed = false, want true")
	}
	if got != "well done" {
		t.Errorf("got %q, want %q", got, "well done")
	}
}
