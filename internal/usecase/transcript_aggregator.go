package usecase

import (
	"sync"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
	"lecturescribe/internal/transcript"
)

// transcriptAggregator keeps the lecture's latest transcript snapshot and
// forwards every update to the boundary.
type transcriptAggregator struct {
	mu      sync.Mutex
	current domain.Transcript
	events  ports.EventSink
}

func newTranscriptAggregator(events ports.EventSink) *transcriptAggregator {
	return &transcriptAggregator{events: events}
}

// Update is called from the orchestrator's consumer goroutine.
func (a *transcriptAggregator) Update(t domain.Transcript) {
	a.mu.Lock()
	a.current = t
	a.mu.Unlock()

	if a.events != nil {
		a.events.TranscriptUpdated(t)
	}
}

func (a *transcriptAggregator) Snapshot() domain.Transcript {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *transcriptAggregator) Segments() []domain.TranscriptSegment {
	return a.Snapshot().Segments()
}

func (a *transcriptAggregator) Lines() []transcript.Line {
	return transcript.SplitIntoLines(a.Segments())
}
