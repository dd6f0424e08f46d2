package usecase

import (
	"sync"
	"time"

	"lecturescribe/internal/capture"
	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
	"lecturescribe/internal/transcription"
)

// activeSession is one recording cycle: a fresh recorder and orchestrator
// pair plus the lecture they fill.
type activeSession struct {
	lecture      *domain.Lecture
	recorder     *capture.Recorder
	orchestrator *transcription.Orchestrator
	transcript   *transcriptAggregator
	pumpDone     chan struct{}

	clockMu   sync.Mutex
	startedAt time.Time
	elapsed   time.Duration
	paused    bool
}

func (s *activeSession) pauseClock(now time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	if s.paused {
		return
	}
	s.elapsed += now.Sub(s.startedAt)
	s.paused = true
}

func (s *activeSession) resumeClock(now time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	if !s.paused {
		return
	}
	s.startedAt = now
	s.paused = false
}

// Elapsed excludes paused time.
func (s *activeSession) Elapsed(now time.Time) time.Duration {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	if s.paused {
		return s.elapsed
	}
	return s.elapsed + now.Sub(s.startedAt)
}

type activePlayback struct {
	playback ports.Playback
	done     chan struct{}
}
