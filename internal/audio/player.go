package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
)

const defaultPlaybackChunk = 20 * time.Millisecond

// FFplayPlayer plays WAV recordings by pacing PCM into ffplay's stdin in real
// time. The playback position is the number of frames handed to the sink.
type FFplayPlayer struct {
	command string
	chunk   time.Duration
}

func NewFFplayPlayer(command string) *FFplayPlayer {
	if command == "" {
		command = "ffplay"
	}
	return &FFplayPlayer{command: command, chunk: defaultPlaybackChunk}
}

func (p *FFplayPlayer) Play(ctx context.Context, path string) (ports.Playback, error) {
	stream, err := OpenWAV(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlaybackUnavailable, err)
	}
	format := stream.Format()

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, p.command,
		"-nodisp",
		"-autoexit",
		"-loglevel", "quiet",
		"-f", "s16le",
		"-ar", strconv.Itoa(int(format.SampleRate)),
		"-ch_layout", channelLayout(format.Channels),
		"-i", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		_ = stream.Close()
		return nil, fmt.Errorf("%w: sink pipe: %v", domain.ErrPlaybackUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		_ = stream.Close()
		return nil, fmt.Errorf("%w: start sink: %v", domain.ErrPlaybackUnavailable, err)
	}

	pb := &pacedPlayback{
		rate:   format.SampleRate,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go pb.run(ctx, stream, stdin, cmd, p.chunk)
	return pb, nil
}

func channelLayout(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return strconv.Itoa(channels) + "c"
	}
}

type pacedPlayback struct {
	frames atomic.Int64
	rate   float64
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
}

func (pb *pacedPlayback) run(ctx context.Context, stream *WAVStream, sink io.WriteCloser, cmd *exec.Cmd, chunk time.Duration) {
	defer close(pb.done)
	defer pb.cancel()
	defer func() { _ = cmd.Wait() }()
	defer func() { _ = stream.Close() }()

	framesPerChunk := int(pb.rate * chunk.Seconds())
	if framesPerChunk <= 0 {
		framesPerChunk = 1
	}
	ticker := time.NewTicker(chunk)
	defer ticker.Stop()

	for {
		buf, err := stream.Read(framesPerChunk)
		if err != nil {
			// EOF or a decode failure both end playback.
			_ = sink.Close()
			return
		}
		if _, err := sink.Write(buf.PCM16()); err != nil {
			_ = sink.Close()
			return
		}
		pb.frames.Add(int64(buf.Frames))

		select {
		case <-ctx.Done():
			_ = sink.Close()
			return
		case <-ticker.C:
		}
	}
}

func (pb *pacedPlayback) Position() float64 {
	return float64(pb.frames.Load()) / pb.rate
}

func (pb *pacedPlayback) Done() <-chan struct{} { return pb.done }

func (pb *pacedPlayback) Stop() error {
	pb.stopOnce.Do(pb.cancel)
	select {
	case <-pb.done:
		return nil
	case <-time.After(stopGrace):
		return errors.New("playback did not stop in time")
	}
}
