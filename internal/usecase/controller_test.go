package usecase

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lecturescribe/internal/capture"
	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
)

var pcmFormat = domain.AudioFormat{SampleRate: 16000, Channels: 1, Encoding: domain.EncodingInt16}

func newTestController(t *testing.T, device *fakeDevice, rec *fakeRecognizer, player ports.Player, clipboard *fakeClipboard, events *fakeEventSink) *RecordingController {
	t.Helper()
	return NewRecordingController(rec, player, clipboard, events, Config{
		Capture: capture.Options{
			Device:          device,
			Dir:             t.TempDir(),
			FramesPerBuffer: 160,
		},
		Locale:           "en-US",
		ExportPath:       filepath.Join(t.TempDir(), "transcript.txt"),
		CopyToClipboard:  true,
		PositionInterval: 5 * time.Millisecond,
	})
}

func TestRecordingControllerStartStopExportsAndCopies(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	session := newFakeRecognizerSession()
	session.onFirstPush = []domain.RecognitionResult{final("Hello.", 0, 1)}
	session.flush = []domain.RecognitionResult{final(" World.", 1, 2)}
	rec := newFakeRecognizer(session)
	clipboard := &fakeClipboard{}
	events := &fakeEventSink{}
	controller := newTestController(t, device, rec, nil, clipboard, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if status := controller.Status(); status.Recording != domain.RecordingStateRecording || status.Session != domain.OrchestratorReady {
		t.Fatalf("unexpected status: %+v", status)
	}
	device.last().writeSamples(t, 160)

	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if result.Transcript != "Hello. World." {
		t.Fatalf("unexpected transcript: %q", result.Transcript)
	}
	if !result.Exported || !result.Copied {
		t.Fatalf("expected exported and copied, got %+v", result)
	}
	data, err := os.ReadFile(result.ExportPath)
	if err != nil || string(data) != "Hello. World." {
		t.Fatalf("unexpected export %q (%v)", data, err)
	}
	if clipboard.text() != "Hello. World." {
		t.Fatalf("clipboard did not receive transcript")
	}
	if got := events.snapshotFinals(); len(got) != 1 || got[0] != "Hello. World." {
		t.Fatalf("expected final transcript event, got %v", got)
	}
	if len(events.snapshotTranscripts()) == 0 {
		t.Fatalf("expected transcript updates")
	}

	reasons := events.reasons()
	want := []domain.SessionStateReason{
		domain.SessionReasonPreparingModel,
		domain.SessionReasonRecordingStarted,
		domain.SessionReasonFinalizing,
		domain.SessionReasonTranscriptCopied,
	}
	if len(reasons) != len(want) {
		t.Fatalf("expected reasons %v, got %v", want, reasons)
	}
	for i := range want {
		if reasons[i] != want[i] {
			t.Fatalf("expected reasons %v, got %v", want, reasons)
		}
	}

	lecture, ok := controller.Lecture()
	if !ok || !lecture.Done || lecture.Transcript.FinalText() != "Hello. World." {
		t.Fatalf("unexpected lecture %+v", lecture)
	}
	if _, err := os.Stat(lecture.FilePath); err != nil {
		t.Fatalf("expected backing recording: %v", err)
	}
	if lines := controller.Lines(); len(lines) != 2 || lines[1].Text != "World." {
		t.Fatalf("unexpected lines %+v", lines)
	}
	if status := controller.Status(); status.Recording != domain.RecordingStateStopped {
		t.Fatalf("expected stopped, got %+v", status)
	}
}

func TestRecordingControllerStopWithoutActiveSession(t *testing.T) {
	t.Parallel()

	controller := newTestController(t, &fakeDevice{}, newFakeRecognizer(), nil, &fakeClipboard{}, &fakeEventSink{})
	if _, err := controller.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := controller.Pause(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession from pause, got %v", err)
	}
}

func TestRecordingControllerPauseResumeTransitions(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	controller := newTestController(t, &fakeDevice{}, newFakeRecognizer(newFakeRecognizerSession()), nil, &fakeClipboard{}, events)
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Start(context.Background()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second start to be rejected, got %v", err)
	}
	if err := controller.Resume(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected resume while recording to fail, got %v", err)
	}
	if err := controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if status := controller.Status(); status.Recording != domain.RecordingStatePaused {
		t.Fatalf("expected paused, got %+v", status)
	}
	if err := controller.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if _, err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	reasons := events.reasons()
	if reasons[2] != domain.SessionReasonRecordingPaused || reasons[3] != domain.SessionReasonRecordingResumed {
		t.Fatalf("unexpected reasons %v", reasons)
	}
}

func TestRecordingControllerRestartDiscardsPreviousTranscript(t *testing.T) {
	t.Parallel()

	first := newFakeRecognizerSession()
	first.flush = []domain.RecognitionResult{final("First.", 0, 1)}
	second := newFakeRecognizerSession()
	events := &fakeEventSink{}
	controller := newTestController(t, &fakeDevice{}, newFakeRecognizer(first, second), nil, &fakeClipboard{}, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if _, err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	firstLecture, _ := controller.Lecture()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	lecture, _ := controller.Lecture()
	if lecture.ID == firstLecture.ID || !lecture.Transcript.IsEmpty() {
		t.Fatalf("expected a fresh lecture, got %+v", lecture)
	}
	reasons := events.reasons()
	if reasons[len(reasons)-1] != domain.SessionReasonRecordingRestarted {
		t.Fatalf("expected recording_restarted, got %v", reasons)
	}
	if err := controller.Discard(context.Background()); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
}

func TestRecordingControllerStartUnsupportedLocale(t *testing.T) {
	t.Parallel()

	rec := newFakeRecognizer(newFakeRecognizerSession())
	rec.supported = []string{"fr-FR"}
	device := &fakeDevice{}
	events := &fakeEventSink{}
	controller := newTestController(t, device, rec, nil, &fakeClipboard{}, events)

	err := controller.Start(context.Background())
	if !errors.Is(err, domain.ErrLocaleUnsupported) {
		t.Fatalf("expected ErrLocaleUnsupported, got %v", err)
	}
	if device.openCount() != 0 {
		t.Fatalf("expected device to stay closed")
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeModel {
		t.Fatalf("expected model error, got %+v", errs)
	}
	if status := controller.Status(); status.Recording != domain.RecordingStateStopped {
		t.Fatalf("expected stopped, got %+v", status)
	}
}

func TestRecordingControllerPermissionDenied(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	session := newFakeRecognizerSession()
	controller := NewRecordingController(newFakeRecognizer(session), nil, &fakeClipboard{}, events, Config{
		Capture: capture.Options{Device: &fakeDevice{}, Authorizer: denyingAuthorizer{}, Dir: t.TempDir()},
		Locale:  "en-US",
	})

	err := controller.Start(context.Background())
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodePermission {
		t.Fatalf("expected permission error event, got %+v", errs)
	}
	if !session.isClosed() {
		t.Fatalf("expected recognizer session to be closed")
	}
}

func TestRecordingControllerExportFailureKeepsTranscript(t *testing.T) {
	t.Parallel()

	session := newFakeRecognizerSession()
	session.flush = []domain.RecognitionResult{final("Kept.", 0, 1)}
	events := &fakeEventSink{}
	controller := NewRecordingController(newFakeRecognizer(session), nil, &fakeClipboard{}, events, Config{
		Capture:    capture.Options{Device: &fakeDevice{}, Dir: t.TempDir()},
		Locale:     "en-US",
		ExportPath: filepath.Join(t.TempDir(), "missing", "transcript.txt"),
	})

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result, err := controller.Stop(context.Background())
	if err == nil {
		t.Fatalf("expected export error")
	}
	if result.Transcript != "Kept." || result.Exported {
		t.Fatalf("unexpected result %+v", result)
	}
	reasons := events.reasons()
	if reasons[len(reasons)-1] != domain.SessionReasonExportFailed {
		t.Fatalf("expected export_failed, got %v", reasons)
	}
}

func TestRecordingControllerPlaybackHighlightsSegments(t *testing.T) {
	t.Parallel()

	session := newFakeRecognizerSession()
	session.flush = []domain.RecognitionResult{final("One.", 0, 1), final(" Two.", 1, 2)}
	player := &fakePlayer{playback: newFakePlayback(1.5)}
	events := &fakeEventSink{}
	controller := newTestController(t, &fakeDevice{}, newFakeRecognizer(session), player, &fakeClipboard{}, events)

	if err := controller.StartPlayback(context.Background()); !errors.Is(err, domain.ErrPlaybackUnavailable) {
		t.Fatalf("expected playback unavailable before any recording, got %v", err)
	}
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.StartPlayback(context.Background()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected playback refused while recording, got %v", err)
	}
	if _, err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := controller.StartPlayback(context.Background()); err != nil {
		t.Fatalf("start playback failed: %v", err)
	}
	if status := controller.Status(); status.Playback != domain.PlaybackStatePlaying {
		t.Fatalf("expected playing, got %+v", status)
	}
	lecture, _ := controller.Lecture()
	if player.path() != lecture.FilePath {
		t.Fatalf("expected backing file to be played, got %q", player.path())
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(events.snapshotPositions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for playback position")
		}
		time.Sleep(5 * time.Millisecond)
	}
	pos := events.snapshotPositions()[0]
	if pos.position != 1.5 || len(pos.highlighted) != 1 || pos.highlighted[0] != 1 {
		t.Fatalf("unexpected position event %+v", pos)
	}

	if err := controller.StopPlayback(); err != nil {
		t.Fatalf("stop playback failed: %v", err)
	}
	if status := controller.Status(); status.Playback != domain.PlaybackStateNotPlaying {
		t.Fatalf("expected not playing, got %+v", status)
	}
	positions := events.snapshotPositions()
	if last := positions[len(positions)-1]; len(last.highlighted) != 0 {
		t.Fatalf("expected highlights cleared when playback stops, got %+v", last)
	}
	if err := controller.StopPlayback(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second stop to fail, got %v", err)
	}
}

func TestRecordingControllerResumeStopsPlaybackStartedWhilePaused(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	session := newFakeRecognizerSession()
	session.onFirstPush = []domain.RecognitionResult{
		final("One.", 0, 1),
		{Text: " two", Range: domain.TimeRange{Start: 1, End: 2}},
	}
	playback := newFakePlayback(1.5)
	player := &fakePlayer{playback: playback}
	events := &fakeEventSink{}
	controller := newTestController(t, device, newFakeRecognizer(session), player, &fakeClipboard{}, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	device.last().writeSamples(t, 160)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ts := events.snapshotTranscripts(); len(ts) > 0 && ts[len(ts)-1].Volatile != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for volatile result")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := controller.StartPlayback(context.Background()); err != nil {
		t.Fatalf("playback while paused should be allowed: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for len(events.snapshotPositions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for playback position")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if pos := events.snapshotPositions()[0]; len(pos.highlighted) != 0 {
		t.Fatalf("expected the volatile run to stay unhighlighted, got %+v", pos)
	}

	if err := controller.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	status := controller.Status()
	if status.Recording != domain.RecordingStateRecording || status.Playback != domain.PlaybackStateNotPlaying {
		t.Fatalf("expected recording without playback after resume, got %+v", status)
	}
	select {
	case <-playback.Done():
	default:
		t.Fatalf("expected playback to be stopped")
	}

	if _, err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestActiveSessionElapsedExcludesPause(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0)
	s := &activeSession{startedAt: start}
	s.pauseClock(start.Add(2 * time.Second))
	if got := s.Elapsed(start.Add(10 * time.Second)); got != 2*time.Second {
		t.Fatalf("expected 2s while paused, got %s", got)
	}
	s.resumeClock(start.Add(10 * time.Second))
	if got := s.Elapsed(start.Add(13 * time.Second)); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}

func final(text string, start, end float64) domain.RecognitionResult {
	return domain.RecognitionResult{Text: text, Range: domain.TimeRange{Start: start, End: end}, IsFinal: true}
}

type fakeAudioSession struct {
	*io.PipeReader
	writer *io.PipeWriter
}

func newFakeAudioSession() *fakeAudioSession {
	pr, pw := io.Pipe()
	return &fakeAudioSession{PipeReader: pr, writer: pw}
}

func (s *fakeAudioSession) Format() domain.AudioFormat { return pcmFormat }

func (s *fakeAudioSession) Stop() error { return s.writer.Close() }

func (s *fakeAudioSession) writeSamples(t *testing.T, frames int) {
	t.Helper()
	pcm := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i)))
	}
	if _, err := s.writer.Write(pcm); err != nil {
		t.Fatalf("write samples: %v", err)
	}
}

type fakeDevice struct {
	mu       sync.Mutex
	sessions []*fakeAudioSession
}

func (d *fakeDevice) Open(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := newFakeAudioSession()
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeAudioSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

type denyingAuthorizer struct{}

func (denyingAuthorizer) Authorize(context.Context) (bool, error) { return false, nil }

type fakeRecognizerSession struct {
	mu      sync.Mutex
	pushes  int
	closed  bool
	results chan domain.RecognitionResult

	onFirstPush []domain.RecognitionResult
	flush       []domain.RecognitionResult
	pushErr     error
}

func newFakeRecognizerSession() *fakeRecognizerSession {
	return &fakeRecognizerSession{results: make(chan domain.RecognitionResult, 64)}
}

func (s *fakeRecognizerSession) Push(*domain.AudioBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushes++
	if s.pushes == 1 {
		for _, res := range s.onFirstPush {
			s.results <- res
		}
	}
	return nil
}

func (s *fakeRecognizerSession) Results() <-chan domain.RecognitionResult { return s.results }

func (s *fakeRecognizerSession) Finish(context.Context) error {
	for _, res := range s.flush {
		s.results <- res
	}
	close(s.results)
	return nil
}

func (s *fakeRecognizerSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeRecognizerSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeRecognizer struct {
	mu        sync.Mutex
	supported []string
	sessions  []*fakeRecognizerSession
	calls     int
}

func newFakeRecognizer(sessions ...*fakeRecognizerSession) *fakeRecognizer {
	return &fakeRecognizer{supported: []string{"en-US"}, sessions: sessions}
}

func (r *fakeRecognizer) SupportedLocales(context.Context) ([]string, error) {
	return r.supported, nil
}

func (r *fakeRecognizer) InstalledLocales(context.Context) ([]string, error) {
	return r.supported, nil
}

func (r *fakeRecognizer) Install(context.Context, string, func(float64)) error { return nil }

func (r *fakeRecognizer) AudioFormat(context.Context, string) (domain.AudioFormat, error) {
	return pcmFormat, nil
}

func (r *fakeRecognizer) Configure(context.Context, string, ports.RecognizerOptions) (ports.RecognizerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls >= len(r.sessions) {
		return nil, errors.New("no recognizer session configured")
	}
	s := r.sessions[r.calls]
	r.calls++
	return s, nil
}

type fakePlayback struct {
	position float64
	done     chan struct{}
	once     sync.Once
}

func newFakePlayback(position float64) *fakePlayback {
	return &fakePlayback{position: position, done: make(chan struct{})}
}

func (p *fakePlayback) Position() float64     { return p.position }
func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Stop() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type fakePlayer struct {
	mu       sync.Mutex
	playback *fakePlayback
	played   string
}

func (p *fakePlayer) Play(_ context.Context, path string) (ports.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = path
	return p.playback, nil
}

func (p *fakePlayer) path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

type fakeClipboard struct {
	mu       sync.Mutex
	lastText string
	err      error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = text
	return f.err
}

func (f *fakeClipboard) text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastText
}

type fakeEventSink struct {
	mu sync.Mutex

	states      []stateEvent
	transcripts []domain.Transcript
	finals      []string
	progress    []float64
	positions   []positionEvent
	errors      []errEvent
}

type stateEvent struct {
	status domain.Status
	reason domain.SessionStateReason
}

type positionEvent struct {
	position    float64
	highlighted []int
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(status domain.Status, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{status: status, reason: reason})
}

func (f *fakeEventSink) TranscriptUpdated(t domain.Transcript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, t)
}

func (f *fakeEventSink) FinalTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, text)
}

func (f *fakeEventSink) ModelDownloadProgress(_ string, fraction float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, fraction)
}

func (f *fakeEventSink) PlaybackPosition(position float64, highlighted []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, positionEvent{position: position, highlighted: highlighted})
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) reasons() []domain.SessionStateReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SessionStateReason, len(f.states))
	for i, s := range f.states {
		out[i] = s.reason
	}
	return out
}

func (f *fakeEventSink) snapshotTranscripts() []domain.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Transcript(nil), f.transcripts...)
}

func (f *fakeEventSink) snapshotFinals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finals...)
}

func (f *fakeEventSink) snapshotPositions() []positionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]positionEvent(nil), f.positions...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errEvent(nil), f.errors...)
}
