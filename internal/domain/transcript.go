package domain

import "strings"

// TimeRange is a half-open interval [Start, End) in seconds relative to
// session start.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether t lies in [Start, End).
func (r TimeRange) Contains(t float64) bool {
	return t >= r.Start && t < r.End
}

// Overlaps reports whether the two half-open ranges share any instant.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// RecognitionResult is one item of a recognizer's result stream.
type RecognitionResult struct {
	Text       string
	Range      TimeRange
	IsFinal    bool
	Confidence *float64
}

// TranscriptSegment is one time-coded text run.
type TranscriptSegment struct {
	Text       string    `json:"text"`
	Range      TimeRange `json:"range"`
	Final      bool      `json:"final"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Transcript is an immutable snapshot: append-only finals plus at most one
// volatile segment.
type Transcript struct {
	Finals   []TranscriptSegment `json:"finals"`
	Volatile *TranscriptSegment  `json:"volatile,omitempty"`
}

// FinalText concatenates the finalized runs in emission order.
func (t Transcript) FinalText() string {
	var sb strings.Builder
	for _, seg := range t.Finals {
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

// VolatileText returns the pending tentative text, possibly empty.
func (t Transcript) VolatileText() string {
	if t.Volatile == nil {
		return ""
	}
	return t.Volatile.Text
}

// Text is the displayed transcript: finals followed by the volatile run.
func (t Transcript) Text() string {
	return t.FinalText() + t.VolatileText()
}

// Segments returns finals followed by the volatile run when present.
func (t Transcript) Segments() []TranscriptSegment {
	out := make([]TranscriptSegment, 0, len(t.Finals)+1)
	out = append(out, t.Finals...)
	if t.Volatile != nil {
		out = append(out, *t.Volatile)
	}
	return out
}

// IsEmpty reports whether nothing has been recognized yet.
func (t Transcript) IsEmpty() bool {
	return len(t.Finals) == 0 && t.Volatile == nil
}
