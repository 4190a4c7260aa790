// Package transcript post-processes raw transcription output before it is
// persisted: garbage-word filtering and hallucinated-repetition collapse.
// Both operations are pure and deterministic; the runtime toggles live in
// the settings table and are read by the transcription handler.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultMaxWordLength is the garbage-word threshold used when the
// "transcription.max_word_length" setting is absent. Transcription models
// occasionally emit kilometer-long pseudo-words on noisy audio.
const DefaultMaxWordLength = 50

// minRepeats is the shortest run of consecutive near-duplicate words that
// counts as a model repetition loop. Two repeats are normal speech
// ("very, very good"); three or more almost never are.
const minRepeats = 3

// CleanupOptions tunes Clean. The zero value disables everything.
type CleanupOptions struct {
	// DropLongWords removes words longer than MaxWordLength runes.
	DropLongWords bool
	MaxWordLength int

	// CollapseRepeats folds runs of minRepeats or more consecutive
	// near-duplicate words (OSA distance at most 1, case-insensitive) down
	// to a single occurrence.
	CollapseRepeats bool
}

// Clean applies the configured cleanup passes to a segment text and reports
// whether anything changed. Whitespace between surviving words is normalized
// to single spaces.
func Clean(text string, opts CleanupOptions) (string, bool) {
	if !opts.DropLongWords && !opts.CollapseRepeats {
		return text, false
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return text, false
	}

	out := make([]string, 0, len(words))
	changed := false

	maxLen := opts.MaxWordLength
	if maxLen <= 0 {
		maxLen = DefaultMaxWordLength
	}

	for _, w := range words {
		if opts.DropLongWords && len([]rune(w)) > maxLen {
			changed = true
			continue
		}
		out = append(out, w)
	}

	if opts.CollapseRepeats {
		collapsed := collapseRepeats(out)
		if len(collapsed) != len(out) {
			changed = true
		}
		out = collapsed
	}

	cleaned := strings.Join(out, " ")
	if !changed && cleaned != text {
		// Only whitespace normalization happened.
		changed = true
	}
	return cleaned, changed
}

// collapseRepeats reduces each run of near-duplicate words to its first
// occurrence when the run is at least minRepeats long.
func collapseRepeats(words []string) []string {
	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		run := 1
		for i+run < len(words) && nearDuplicate(words[i], words[i+run]) {
			run++
		}
		if run >= minRepeats {
			out = append(out, words[i])
		} else {
			out = append(out, words[i:i+run]...)
		}
		i += run
	}
	return out
}

// nearDuplicate reports whether two words are equal up to one edit
// (optimal string alignment distance), ignoring case and trailing
// punctuation.
func nearDuplicate(a, b string) bool {
	a = strings.ToLower(strings.TrimRight(a, ".,!?;:"))
	b = strings.ToLower(strings.TrimRight(b, ".,!?;:"))
	if a == b {
		return true
	}
	return matchr.OSA(a, b) <= 1
}
