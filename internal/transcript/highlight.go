package transcript

import "lecturescribe/internal/domain"

// IsHighlighted reports whether seg is under the playback cursor: only while
// playing, and only for cursor in [start, end).
func IsHighlighted(seg domain.TranscriptSegment, cursor float64, playing bool) bool {
	return playing && seg.Range.Contains(cursor)
}

// HighlightedSegments returns the indices of segments under the cursor.
func HighlightedSegments(segments []domain.TranscriptSegment, cursor float64, playing bool) []int {
	if !playing {
		return nil
	}
	var out []int
	for i, seg := range segments {
		if IsHighlighted(seg, cursor, playing) {
			out = append(out, i)
		}
	}
	return out
}
