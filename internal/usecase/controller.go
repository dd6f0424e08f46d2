package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lecturescribe/internal/capture"
	"lecturescribe/internal/domain"
	"lecturescribe/internal/observe"
	"lecturescribe/internal/ports"
	"lecturescribe/internal/transcript"
	"lecturescribe/internal/transcription"
)

// ErrNoActiveSession is returned by Stop, Pause and Resume with nothing recording.
var ErrNoActiveSession = domain.ErrNoActiveSession

const defaultPositionInterval = 50 * time.Millisecond

// Config controls recording, recognition and export behavior.
type Config struct {
	// Capture is the template for each cycle's recorder.
	Capture capture.Options

	Locale            string
	RecognizerOptions ports.RecognizerOptions
	MaxConvertFrames  int
	FinalizeTimeout   time.Duration

	ExportPath      string
	CopyToClipboard bool

	// PositionInterval is how often playback highlights are refreshed.
	PositionInterval time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// RecordingController coordinates capture, recognition and playback. Recording
// and playback states are tracked independently; playback is refused while
// actively recording.
type RecordingController struct {
	recognizer ports.Recognizer
	player     ports.Player
	events     ports.EventSink
	finalizer  transcriptFinalizer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	// opMu serialises lifecycle operations; mu guards the fields below.
	opMu sync.Mutex

	mu        sync.Mutex
	recording domain.RecordingState
	playback  domain.PlaybackState
	current   *activeSession
	lecture   *domain.Lecture
	last      *transcriptAggregator
	playing   *activePlayback
}

func NewRecordingController(
	recognizer ports.Recognizer,
	player ports.Player,
	clipboard ports.Clipboard,
	events ports.EventSink,
	cfg Config,
) *RecordingController {
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = defaultPositionInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capture.Logger == nil {
		cfg.Capture.Logger = logger
	}
	if cfg.Capture.Metrics == nil {
		cfg.Capture.Metrics = cfg.Metrics
	}
	return &RecordingController{
		recognizer: recognizer,
		player:     player,
		events:     events,
		finalizer:  newTranscriptFinalizer(cfg.ExportPath, cfg.CopyToClipboard, clipboard, events),
		cfg:        cfg,
		logger:     logger.With("component", "controller"),
		now:        time.Now,
		recording:  domain.RecordingStateStopped,
		playback:   domain.PlaybackStateNotPlaying,
	}
}

// Start begins a new recording cycle with a fresh orchestrator. The previous
// lecture's transcript is discarded. Any running playback is stopped first.
func (c *RecordingController) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.recording != domain.RecordingStateStopped {
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", domain.ErrInvalidTransition, c.recording)
	}
	restarted := c.lecture != nil
	c.mu.Unlock()

	c.stopPlayback()
	c.emitState(domain.SessionReasonPreparingModel)

	aggregator := newTranscriptAggregator(c.events)
	orchestrator := transcription.New(transcription.Options{
		Recognizer:        c.recognizer,
		Locale:            c.cfg.Locale,
		RecognizerOptions: c.cfg.RecognizerOptions,
		OnInstallProgress: c.events.ModelDownloadProgress,
		OnUpdate:          aggregator.Update,
		MaxConvertFrames:  c.cfg.MaxConvertFrames,
		FinalizeTimeout:   c.cfg.FinalizeTimeout,
		Logger:            c.cfg.Logger,
		Metrics:           c.cfg.Metrics,
	})
	if err := orchestrator.Setup(ctx); err != nil {
		c.events.SessionError(errorCodeFor(err, domain.ErrorCodeModel), err.Error())
		c.emitState(domain.SessionReasonTranscriptionFailed)
		return err
	}

	recorder := capture.NewRecorder(c.cfg.Capture)
	if err := recorder.Start(ctx); err != nil {
		orchestrator.Abort()
		c.events.SessionError(errorCodeFor(err, domain.ErrorCodeStartup), err.Error())
		c.emitState(domain.SessionReasonIdle)
		return err
	}

	active := &activeSession{
		lecture:      &domain.Lecture{ID: uuid.NewString(), FilePath: recorder.FilePath()},
		recorder:     recorder,
		orchestrator: orchestrator,
		transcript:   aggregator,
		pumpDone:     make(chan struct{}),
		startedAt:    c.now(),
	}
	go pumpAudioBuffers(recorder.Buffers(), orchestrator, c.events, c.logger, active.pumpDone)

	c.mu.Lock()
	c.current = active
	c.lecture = active.lecture
	c.last = aggregator
	c.recording = domain.RecordingStateRecording
	c.mu.Unlock()

	c.logger.Info("recording started", "lecture", active.lecture.ID, "file", active.lecture.FilePath)
	reason := domain.SessionReasonRecordingStarted
	if restarted {
		reason = domain.SessionReasonRecordingRestarted
	}
	c.emitState(reason)
	return nil
}

// Pause keeps the device and file open but discards input until Resume.
func (c *RecordingController) Pause() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	active, err := c.activeIn(domain.RecordingStateRecording)
	if err != nil {
		return err
	}
	if err := active.recorder.Pause(); err != nil {
		return err
	}
	active.pauseClock(c.now())
	c.setRecording(domain.RecordingStatePaused)
	c.emitState(domain.SessionReasonRecordingPaused)
	return nil
}

// Resume continues capture. A playback started while paused is stopped first.
func (c *RecordingController) Resume() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	active, err := c.activeIn(domain.RecordingStatePaused)
	if err != nil {
		return err
	}
	c.stopPlayback()
	if err := active.recorder.Resume(); err != nil {
		return err
	}
	active.resumeClock(c.now())
	c.setRecording(domain.RecordingStateRecording)
	c.emitState(domain.SessionReasonRecordingResumed)
	return nil
}

// Stop ends capture, finalizes recognition and exports the transcript. The
// returned result is valid even when export fails.
func (c *RecordingController) Stop(ctx context.Context) (domain.StopResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil {
		return domain.StopResult{}, ErrNoActiveSession
	}

	c.emitState(domain.SessionReasonFinalizing)

	if err := active.recorder.Stop(ctx); err != nil {
		c.logger.Warn("stopping capture failed", "error", err)
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
	<-active.pumpDone

	if err := active.orchestrator.Finalize(ctx); err != nil && !errors.Is(err, domain.ErrSessionFinalized) {
		c.logger.Warn("finalizing recognition failed", "error", err)
		c.events.SessionError(domain.ErrorCodeTranscription, err.Error())
	}

	result, reason, exportErr := c.finalizer.Finalize(ctx, active.orchestrator)
	if frozen, err := active.orchestrator.FrozenTranscript(); err == nil {
		active.transcript.Update(frozen)
	}

	c.mu.Lock()
	active.lecture.Transcript = active.transcript.Snapshot()
	active.lecture.Done = true
	c.current = nil
	c.recording = domain.RecordingStateStopped
	c.mu.Unlock()

	c.logger.Info("recording stopped", "lecture", active.lecture.ID, "exported", result.Exported, "copied", result.Copied)
	if reason != domain.SessionReasonTranscriptionFailed {
		c.events.FinalTranscript(result.Transcript)
	}
	c.emitState(reason)
	return result, exportErr
}

// Discard stops an active cycle without exporting anything.
func (c *RecordingController) Discard(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil {
		return ErrNoActiveSession
	}

	_ = active.recorder.Stop(ctx)
	<-active.pumpDone
	active.orchestrator.Abort()

	c.mu.Lock()
	c.current = nil
	c.recording = domain.RecordingStateStopped
	c.mu.Unlock()
	c.emitState(domain.SessionReasonIdle)
	return nil
}

// StartPlayback plays the current lecture's recording and streams highlight
// updates until it ends or StopPlayback is called.
func (c *RecordingController) StartPlayback(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.recording == domain.RecordingStateRecording {
		c.mu.Unlock()
		return fmt.Errorf("%w: playback while recording", domain.ErrInvalidTransition)
	}
	if c.playback == domain.PlaybackStatePlaying {
		c.mu.Unlock()
		return fmt.Errorf("%w: already playing", domain.ErrInvalidTransition)
	}
	if c.lecture == nil || c.lecture.FilePath == "" || c.player == nil {
		c.mu.Unlock()
		return domain.ErrPlaybackUnavailable
	}
	path := c.lecture.FilePath
	aggregator := c.last
	c.mu.Unlock()

	playback, err := c.player.Play(ctx, path)
	if err != nil {
		c.events.SessionError(domain.ErrorCodePlayback, err.Error())
		return err
	}

	active := &activePlayback{playback: playback, done: make(chan struct{})}
	c.mu.Lock()
	c.playing = active
	c.playback = domain.PlaybackStatePlaying
	c.mu.Unlock()

	go c.trackPlayback(active, aggregator)
	c.emitState(domain.SessionReasonPlaybackStarted)
	return nil
}

// StopPlayback stops a running playback.
func (c *RecordingController) StopPlayback() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.stopPlayback() {
		return fmt.Errorf("%w: not playing", domain.ErrInvalidTransition)
	}
	return nil
}

func (c *RecordingController) stopPlayback() bool {
	c.mu.Lock()
	active := c.playing
	c.mu.Unlock()
	if active == nil {
		return false
	}
	if err := active.playback.Stop(); err != nil {
		c.logger.Warn("stopping playback failed", "error", err)
	}
	<-active.done
	return true
}

func (c *RecordingController) trackPlayback(active *activePlayback, aggregator *transcriptAggregator) {
	defer close(active.done)

	ticker := time.NewTicker(c.cfg.PositionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pos := active.playback.Position()
			c.events.PlaybackPosition(pos, transcript.HighlightedSegments(aggregator.Snapshot().Finals, pos, true))
		case <-active.playback.Done():
			pos := active.playback.Position()
			c.mu.Lock()
			if c.playing == active {
				c.playing = nil
				c.playback = domain.PlaybackStateNotPlaying
			}
			c.mu.Unlock()
			c.events.PlaybackPosition(pos, nil)
			c.emitState(domain.SessionReasonPlaybackStopped)
			return
		}
	}
}

// Lecture returns a copy of the current lecture, if any.
func (c *RecordingController) Lecture() (domain.Lecture, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lecture == nil {
		return domain.Lecture{}, false
	}
	lecture := *c.lecture
	if c.last != nil {
		lecture.Transcript = c.last.Snapshot()
	}
	return lecture, true
}

// Lines splits the current transcript into sentence lines for display.
func (c *RecordingController) Lines() []transcript.Line {
	c.mu.Lock()
	aggregator := c.last
	c.mu.Unlock()
	if aggregator == nil {
		return nil
	}
	return aggregator.Lines()
}

// Status returns the current backend status.
func (c *RecordingController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		Recording: c.recording,
		Playback:  c.playback,
		Session:   domain.OrchestratorUninitialized,
	}
	if c.lecture != nil {
		status.SessionID = c.lecture.ID
	}
	if c.current != nil {
		status.Session = c.current.orchestrator.State()
		status.Elapsed = c.current.Elapsed(c.now()).Seconds()
	}
	return status
}

func (c *RecordingController) activeIn(state domain.RecordingState) (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	if c.recording != state {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTransition, c.recording)
	}
	return c.current, nil
}

func (c *RecordingController) setRecording(state domain.RecordingState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = state
}

func (c *RecordingController) emitState(reason domain.SessionStateReason) {
	c.events.SessionStateChanged(c.Status(), reason)
}
