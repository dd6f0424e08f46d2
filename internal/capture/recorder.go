// Package capture owns the live input device for one recording session. The
// device reader only slices PCM into buffers and hands them off; the backing
// file and downstream delivery run on a separate worker.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lecturescribe/internal/audio"
	"lecturescribe/internal/domain"
	"lecturescribe/internal/observe"
	"lecturescribe/internal/ports"
)

const (
	DefaultFramesPerBuffer = 4096
	DefaultQueueDepth      = 64
)

// Sink persists captured buffers.
type Sink interface {
	Append(buf *domain.AudioBuffer) error
	Close() error
}

// SinkFactory creates the backing file for a session.
type SinkFactory func(path string, format domain.AudioFormat) (Sink, error)

func createWAVSink(path string, format domain.AudioFormat) (Sink, error) {
	return audio.CreateWAV(path, format)
}

// GrantedAuthorizer grants microphone access unconditionally.
type GrantedAuthorizer struct{}

func (GrantedAuthorizer) Authorize(context.Context) (bool, error) { return true, nil }

type Options struct {
	Device     ports.AudioDevice
	Authorizer ports.PermissionAuthorizer
	Audio      ports.AudioConfig

	// Dir receives the <uuid>.wav backing file. Empty means os.TempDir.
	Dir             string
	FramesPerBuffer int
	QueueDepth      int
	CreateSink      SinkFactory

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

type recorderState int

const (
	stateIdle recorderState = iota
	stateRunning
	statePaused
	stateStopped
)

// Recorder captures one session. It is started once and stopped once.
type Recorder struct {
	opts    Options
	logger  *slog.Logger
	metrics *observe.Metrics

	mu    sync.Mutex
	state recorderState

	session ports.AudioSession
	sink    Sink
	path    string
	format  domain.AudioFormat

	handoff chan *domain.AudioBuffer
	out     chan *domain.AudioBuffer
	paused  atomic.Bool

	group    *errgroup.Group
	cancel   context.CancelFunc
	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func NewRecorder(opts Options) *Recorder {
	if opts.Authorizer == nil {
		opts.Authorizer = GrantedAuthorizer{}
	}
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.CreateSink == nil {
		opts.CreateSink = createWAVSink
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		opts:    opts,
		logger:  logger.With("component", "capture"),
		metrics: observe.OrDefault(opts.Metrics),
	}
}

// Start authorises the microphone, opens the device at its native format and
// creates the backing file, then begins delivering buffers on Buffers.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateIdle {
		return fmt.Errorf("%w: recorder already started", domain.ErrInvalidTransition)
	}

	granted, err := r.opts.Authorizer.Authorize(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	if !granted {
		return domain.ErrPermissionDenied
	}
	if r.opts.Device == nil {
		return fmt.Errorf("%w: no input device configured", domain.ErrDeviceInitFailure)
	}

	session, err := r.opts.Device.Open(ctx, r.opts.Audio)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceInitFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrDeviceInitFailure, err)
	}
	format := session.Format()

	path := filepath.Join(r.opts.Dir, uuid.NewString()+".wav")
	sink, err := r.opts.CreateSink(path, format)
	if err != nil {
		_ = session.Stop()
		if errors.Is(err, domain.ErrFileIOFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrFileIOFailure, err)
	}

	r.session = session
	r.sink = sink
	r.path = path
	r.format = format
	r.handoff = make(chan *domain.AudioBuffer, r.opts.QueueDepth)
	r.out = make(chan *domain.AudioBuffer, r.opts.QueueDepth)

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error { return r.read(gctx) })
	group.Go(func() error { return r.persist(gctx) })
	r.group = group
	r.state = stateRunning

	r.logger.Info("capture started", "format", format.String(), "file", path)
	return nil
}

// Buffers yields captured buffers in arrival order and is closed after Stop.
func (r *Recorder) Buffers() <-chan *domain.AudioBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}

// FilePath is the backing recording path; empty before Start.
func (r *Recorder) FilePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Format is the device's native format.
func (r *Recorder) Format() domain.AudioFormat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format
}

// Pause stops delivery without releasing the device or file.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		return fmt.Errorf("%w: pause requires a running capture", domain.ErrInvalidTransition)
	}
	r.paused.Store(true)
	r.state = statePaused
	return nil
}

// Resume restarts delivery on the same timeline.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != statePaused {
		return fmt.Errorf("%w: resume requires a paused capture", domain.ErrInvalidTransition)
	}
	r.paused.Store(false)
	r.state = stateRunning
	return nil
}

// Stop stops the device, drains buffers already handed off, closes the
// backing file and closes Buffers. It is idempotent. If ctx ends before the
// drain completes, remaining buffers are still persisted but not delivered.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state == stateIdle {
		r.state = stateStopped
		r.mu.Unlock()
		return nil
	}
	r.state = stateStopped
	r.mu.Unlock()

	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		deviceErr := r.session.Stop()

		waitErr := make(chan error, 1)
		go func() { waitErr <- r.group.Wait() }()
		var runErr error
		select {
		case runErr = <-waitErr:
		case <-ctx.Done():
			r.cancel()
			runErr = <-waitErr
		}
		r.cancel()

		if err := r.sink.Close(); err != nil {
			r.metrics.FileWriteFailures.Add(context.Background(), 1)
			r.logger.Warn("closing recording file failed", "file", r.path, "error", err)
		}
		if deviceErr != nil {
			r.logger.Warn("stopping input device failed", "error", deviceErr)
		}
		r.stopErr = errors.Join(deviceErr, runErr)
		r.logger.Info("capture stopped", "file", r.path)
	})
	return r.stopErr
}

func (r *Recorder) read(ctx context.Context) error {
	defer close(r.handoff)

	format := r.format
	frameBytes := format.BytesPerFrame()
	chunk := make([]byte, r.opts.FramesPerBuffer*frameBytes)
	for {
		n, err := io.ReadFull(r.session, chunk)
		if whole := n - n%frameBytes; whole > 0 {
			r.deliver(ctx, domain.AudioBufferFromPCM16(format, chunk[:whole]))
		}
		if err != nil {
			if r.stopping.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read input device: %w", err)
		}
	}
}

// deliver never blocks: a full hand-off queue drops the buffer.
func (r *Recorder) deliver(ctx context.Context, buf *domain.AudioBuffer) {
	if r.paused.Load() {
		return
	}
	r.metrics.BuffersCaptured.Add(ctx, 1)
	select {
	case r.handoff <- buf:
	default:
		r.metrics.BuffersDropped.Add(ctx, 1)
		r.logger.Warn("capture hand-off queue full, dropping buffer", "frames", buf.Frames)
	}
}

func (r *Recorder) persist(ctx context.Context) error {
	defer close(r.out)

	deliverDownstream := true
	for buf := range r.handoff {
		if err := r.sink.Append(buf); err != nil {
			r.metrics.FileWriteFailures.Add(context.Background(), 1)
			r.logger.Warn("recording file write failed", "file", r.path, "error", err)
		}
		if !deliverDownstream {
			continue
		}
		select {
		case r.out <- buf:
		case <-ctx.Done():
			deliverDownstream = false
		}
	}
	return nil
}
