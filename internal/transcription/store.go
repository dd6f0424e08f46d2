package transcription

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"lecturescribe/internal/domain"
)

// transcriptStore holds the merged transcript. The consumer goroutine is the
// only writer; readers load the published snapshot without locking.
// Snapshots are copy-on-write: a merge only writes past the lengths of
// already published Finals slices.
type transcriptStore struct {
	mu       sync.Mutex
	frozen   bool
	lastEnd  float64
	hasFinal bool

	current atomic.Pointer[domain.Transcript]
}

func newTranscriptStore() *transcriptStore {
	s := &transcriptStore{}
	s.current.Store(&domain.Transcript{})
	return s
}

func (s *transcriptStore) snapshot() domain.Transcript {
	return *s.current.Load()
}

// merge applies one recognizer result. It reports false once frozen.
func (s *transcriptStore) merge(res domain.RecognitionResult, logger *slog.Logger) (domain.Transcript, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.Transcript{}, false
	}

	cur := s.current.Load()
	next := &domain.Transcript{Finals: cur.Finals}

	if !res.IsFinal {
		if res.Text != "" {
			next.Volatile = &domain.TranscriptSegment{
				Text:       res.Text,
				Range:      res.Range,
				Confidence: res.Confidence,
			}
		}
		s.current.Store(next)
		return *next, true
	}

	// A final always clears the volatile run. Its text is appended as given.
	if res.Text != "" {
		rng := res.Range
		if s.hasFinal && rng.Start < s.lastEnd {
			logger.Warn("final result starts before previous final ends, clamping",
				"start", rng.Start, "previous_end", s.lastEnd)
			rng.Start = s.lastEnd
		}
		if rng.End < rng.Start {
			rng.End = rng.Start
		}
		next.Finals = append(cur.Finals, domain.TranscriptSegment{
			Text:       res.Text,
			Range:      rng,
			Final:      true,
			Confidence: res.Confidence,
		})
		s.lastEnd = rng.End
		s.hasFinal = true
	}
	s.current.Store(next)
	return *next, true
}

// freeze stops all further merges and returns the final snapshot.
func (s *transcriptStore) freeze() domain.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	return *s.current.Load()
}
