package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"lecturescribe/internal/audio"
	"lecturescribe/internal/domain"
	"lecturescribe/internal/observe"
	"lecturescribe/internal/ports"
)

var testFormat = domain.AudioFormat{SampleRate: 8000, Channels: 1, Encoding: domain.EncodingInt16}

type fakeSession struct {
	*io.PipeReader
	writer *io.PipeWriter

	mu      sync.Mutex
	stopped int
}

func newFakeSession() *fakeSession {
	pr, pw := io.Pipe()
	return &fakeSession{PipeReader: pr, writer: pw}
}

func (s *fakeSession) Format() domain.AudioFormat { return testFormat }

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
	return s.writer.Close()
}

func (s *fakeSession) writeSamples(t *testing.T, samples ...int16) {
	t.Helper()
	pcm := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	if _, err := s.writer.Write(pcm); err != nil {
		t.Fatalf("write samples: %v", err)
	}
}

type fakeDevice struct {
	session *fakeSession
	err     error
	opened  int
}

func (d *fakeDevice) Open(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	d.opened++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type denyingAuthorizer struct{}

func (denyingAuthorizer) Authorize(context.Context) (bool, error) { return false, nil }

type failingSink struct{ appends int }

func (s *failingSink) Append(*domain.AudioBuffer) error {
	s.appends++
	return errors.New("disk full")
}

func (s *failingSink) Close() error { return nil }

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func collect(rec *Recorder) <-chan []*domain.AudioBuffer {
	done := make(chan []*domain.AudioBuffer, 1)
	go func() {
		var got []*domain.AudioBuffer
		for buf := range rec.Buffers() {
			got = append(got, buf)
		}
		done <- got
	}()
	return done
}

func samplesOf(bufs []*domain.AudioBuffer) []int16 {
	var out []int16
	for _, b := range bufs {
		for _, s := range b.Samples[:b.Frames] {
			out = append(out, domain.FloatToInt16(s))
		}
	}
	return out
}

func TestRecorderPersistsBuffersInArrivalOrder(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	metrics, reader := newTestMetrics(t)
	rec := NewRecorder(Options{
		Device:          &fakeDevice{session: session},
		Dir:             t.TempDir(),
		FramesPerBuffer: 4,
		Metrics:         metrics,
	})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := collect(rec)

	session.writeSamples(t, 1, 2, 3, 4)
	session.writeSamples(t, 5, 6, 7, 8)
	session.writeSamples(t, 9, 10, 11, 12)

	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	delivered := <-done
	if len(delivered) != 3 {
		t.Fatalf("expected 3 buffers, got %d", len(delivered))
	}

	stream, err := audio.OpenWAV(rec.FilePath())
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer stream.Close()
	buf, err := stream.Read(100)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	got := samplesOf([]*domain.AudioBuffer{buf})
	want := []int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if filepath.Ext(rec.FilePath()) != ".wav" {
		t.Fatalf("unexpected recording path %q", rec.FilePath())
	}
	if n := counterValue(t, reader, "lecturescribe.capture.buffers"); n != 3 {
		t.Fatalf("expected 3 captured buffers, got %d", n)
	}
}

func TestRecorderPermissionDenied(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{session: newFakeSession()}
	rec := NewRecorder(Options{Device: device, Authorizer: denyingAuthorizer{}, Dir: t.TempDir()})

	if err := rec.Start(context.Background()); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if device.opened != 0 {
		t.Fatalf("device should not be opened without permission")
	}
}

func TestRecorderDeviceInitFailure(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(Options{Device: &fakeDevice{err: errors.New("busy")}, Dir: t.TempDir()})
	if err := rec.Start(context.Background()); !errors.Is(err, domain.ErrDeviceInitFailure) {
		t.Fatalf("expected device init failure, got %v", err)
	}
}

func TestRecorderBackingFileFailureAbortsStart(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	rec := NewRecorder(Options{
		Device: &fakeDevice{session: session},
		Dir:    filepath.Join(t.TempDir(), "missing"),
	})
	if err := rec.Start(context.Background()); !errors.Is(err, domain.ErrFileIOFailure) {
		t.Fatalf("expected file i/o failure, got %v", err)
	}
	if session.stopped != 1 {
		t.Fatalf("expected device to be released, stop called %d times", session.stopped)
	}
}

func TestRecorderWriteFailureKeepsCapturing(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	sink := &failingSink{}
	metrics, reader := newTestMetrics(t)
	rec := NewRecorder(Options{
		Device:          &fakeDevice{session: session},
		Dir:             t.TempDir(),
		FramesPerBuffer: 2,
		Metrics:         metrics,
		CreateSink: func(string, domain.AudioFormat) (Sink, error) {
			return sink, nil
		},
	})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := collect(rec)

	session.writeSamples(t, 1, 2)
	session.writeSamples(t, 3, 4)
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := samplesOf(<-done); len(got) != 4 {
		t.Fatalf("expected delivery to continue, got %v", got)
	}
	if sink.appends != 2 {
		t.Fatalf("expected every buffer to be attempted, got %d", sink.appends)
	}
	if n := counterValue(t, reader, "lecturescribe.capture.file_write_failures"); n != 2 {
		t.Fatalf("expected 2 write failures, got %d", n)
	}
}

func TestRecorderPauseDiscardsAudio(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	rec := NewRecorder(Options{
		Device:          &fakeDevice{session: session},
		Dir:             t.TempDir(),
		FramesPerBuffer: 2,
	})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := collect(rec)

	if err := rec.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := rec.Pause(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected double pause to fail, got %v", err)
	}
	session.writeSamples(t, 100, 100)
	// The reader handles one chunk at a time, so this write returning means
	// the first chunk was already seen while paused.
	session.writeSamples(t, 200, 200)
	if err := rec.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	session.writeSamples(t, 300, 300)
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := samplesOf(<-done)
	for _, s := range got {
		if s == 100 {
			t.Fatalf("paused audio was delivered: %v", got)
		}
	}
	if len(got) < 2 || got[len(got)-1] != 300 {
		t.Fatalf("expected audio after resume, got %v", got)
	}
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	rec := NewRecorder(Options{Device: &fakeDevice{session: session}, Dir: t.TempDir()})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := collect(rec)

	for i := 0; i < 3; i++ {
		if err := rec.Stop(context.Background()); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
	<-done
	if session.stopped != 1 {
		t.Fatalf("expected device stop once, got %d", session.stopped)
	}
	if err := rec.Start(context.Background()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected restart to be rejected, got %v", err)
	}
}

func TestRecorderStopBeforeStartIsNoop(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(Options{Device: &fakeDevice{session: newFakeSession()}})
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("expected no-op stop, got %v", err)
	}
}

func TestRecorderDropsWhenHandOffIsFull(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	metrics, reader := newTestMetrics(t)
	rec := NewRecorder(Options{
		Device:          &fakeDevice{session: session},
		Dir:             t.TempDir(),
		FramesPerBuffer: 1,
		QueueDepth:      1,
		Metrics:         metrics,
	})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 10; i++ {
		session.writeSamples(t, int16(i))
	}
	// Nothing drains Buffers until now.
	done := collect(rec)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	delivered := int64(len(<-done))
	dropped := counterValue(t, reader, "lecturescribe.capture.dropped")
	if delivered+dropped != 10 {
		t.Fatalf("expected delivered+dropped == 10, got %d+%d", delivered, dropped)
	}
	if dropped == 0 {
		t.Fatalf("expected overrun to drop buffers")
	}
}
