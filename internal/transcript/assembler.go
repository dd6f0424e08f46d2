// Package transcript turns time-coded recognizer runs into display lines and
// decides which runs are highlighted during playback. Everything here is a
// pure function of its input.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"lecturescribe/internal/domain"
)

// Run is the part of one transcript segment that falls inside a line.
type Run struct {
	Text       string           `json:"text"`
	Range      domain.TimeRange `json:"range"`
	Final      bool             `json:"final"`
	Confidence *float64         `json:"confidence,omitempty"`
}

// Line is one sentence-bounded display line.
type Line struct {
	Text string `json:"text"`
	Runs []Run  `json:"runs"`
}

// Range spans the first run's start to the last run's end.
func (l Line) Range() domain.TimeRange {
	if len(l.Runs) == 0 {
		return domain.TimeRange{}
	}
	return domain.TimeRange{Start: l.Runs[0].Range.Start, End: l.Runs[len(l.Runs)-1].Range.End}
}

// SplitIntoLines cuts the concatenated segment text after sentence
// punctuation. Latin terminators (. ! ?) end a sentence only when followed by
// whitespace or the end of input; CJK terminators always do. Lines are
// trimmed, empty lines are dropped, and each line keeps the attributes of the
// segments it was built from.
func SplitIntoLines(segments []domain.TranscriptSegment) []Line {
	var sb strings.Builder
	bounds := make([]int, len(segments)+1)
	for i, seg := range segments {
		bounds[i] = sb.Len()
		sb.WriteString(seg.Text)
	}
	bounds[len(segments)] = sb.Len()
	text := sb.String()

	var lines []Line
	start := 0
	for _, cut := range sentenceCuts(text) {
		if line, ok := buildLine(text, start, cut, segments, bounds); ok {
			lines = append(lines, line)
		}
		start = cut
	}
	if line, ok := buildLine(text, start, len(text), segments, bounds); ok {
		lines = append(lines, line)
	}
	return lines
}

// sentenceCuts returns byte offsets just past each sentence terminator.
func sentenceCuts(text string) []int {
	var cuts []int
	for i, r := range text {
		size := utf8.RuneLen(r)
		end := i + size
		switch r {
		case '。', '！', '？':
			cuts = append(cuts, end)
		case '.', '!', '?':
			if end == len(text) {
				cuts = append(cuts, end)
				continue
			}
			next, _ := utf8.DecodeRuneInString(text[end:])
			if unicode.IsSpace(next) {
				cuts = append(cuts, end)
			}
		}
	}
	return cuts
}

func buildLine(text string, start, end int, segments []domain.TranscriptSegment, bounds []int) (Line, bool) {
	chunk := text[start:end]
	trimmedLeft := strings.TrimLeftFunc(chunk, unicode.IsSpace)
	start += len(chunk) - len(trimmedLeft)
	trimmed := strings.TrimRightFunc(trimmedLeft, unicode.IsSpace)
	end = start + len(trimmed)
	if trimmed == "" {
		return Line{}, false
	}

	line := Line{Text: trimmed}
	for i, seg := range segments {
		segStart, segEnd := bounds[i], bounds[i+1]
		lo := max(segStart, start)
		hi := min(segEnd, end)
		if lo >= hi {
			continue
		}
		line.Runs = append(line.Runs, Run{
			Text:       text[lo:hi],
			Range:      seg.Range,
			Final:      seg.Final,
			Confidence: seg.Confidence,
		})
	}
	return line, true
}
