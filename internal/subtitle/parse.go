package subtitle

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSRT parses a SubRip document back into cues. It accepts the files
// [FormatSRT] emits plus common variations: CRLF line endings, missing
// trailing newline, and dot decimal separators.
func ParseSRT(data string) ([]Cue, error) {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	blocks := strings.Split(strings.TrimSpace(data), "\n\n")

	var cues []Cue
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return nil, fmt.Errorf("subtitle: cue %d: bad index line %q", len(cues)+1, lines[0])
		}

		start, end, err := parseTimeLine(lines[1])
		if err != nil {
			return nil, fmt.Errorf("subtitle: cue %d: %w", index, err)
		}

		cues = append(cues, Cue{
			Index: index,
			Start: start,
			End:   end,
			Lines: lines[2:],
		})
	}
	return cues, nil
}

func parseTimeLine(line string) (start, end float64, err error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad time line %q", line)
	}
	if start, err = parseTimestamp(strings.TrimSpace(parts[0])); err != nil {
		return 0, 0, err
	}
	if end, err = parseTimestamp(strings.TrimSpace(parts[1])); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp reads HH:MM:SS,mmm (or with a dot separator).
func parseTimestamp(ts string) (float64, error) {
	normalized := strings.Replace(ts, ",", ".", 1)
	fields := strings.Split(normalized, ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("bad timestamp %q", ts)
	}

	h, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q", ts)
	}
	m, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q", ts)
	}
	s, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q", ts)
	}
	return float64(h)*3600 + float64(m)*60 + s, nil
}
