package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
)

const (
	defaultCaptureRate = 48000
	startupGrace       = 250 * time.Millisecond
	stopGrace          = 1200 * time.Millisecond
)

// FFMPEGDevice captures microphone audio as s16le PCM through an ffmpeg
// subprocess.
type FFMPEGDevice struct {
	command string
}

func NewFFMPEGDevice(command string) *FFMPEGDevice {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGDevice{command: command}
}

// Open starts capture. The subprocess must survive a short grace period for
// the device to count as initialised.
func (d *FFMPEGDevice) Open(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, d.command, captureArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", domain.ErrDeviceInitFailure, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceInitFailure, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := trimmed(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: capture exited during startup: %v: %s", domain.ErrDeviceInitFailure, err, detail)
		}
		return nil, fmt.Errorf("%w: capture exited during startup: %s", domain.ErrDeviceInitFailure, detail)
	case <-time.After(startupGrace):
	}

	return &subprocessSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
		format: domain.AudioFormat{
			SampleRate: float64(cfg.SampleRate),
			Channels:   cfg.Channels,
			Encoding:   domain.EncodingInt16,
		},
	}, nil
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultCaptureRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// subprocessSession wraps a running ffmpeg or ffplay process. Stop is
// idempotent: interrupt, then kill after a grace period.
type subprocessSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error
	format  domain.AudioFormat

	stopOnce sync.Once
	stopErr  error
}

func (s *subprocessSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *subprocessSession) Format() domain.AudioFormat { return s.format }

func (s *subprocessSession) Close() error {
	return s.Stop()
}

func (s *subprocessSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = terminate(s.process, s.waitErr)

		if s.stdout != nil {
			if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
				s.stopErr = err
			}
		}
		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimmed(s.stderr.String()))
		}
	})
	return s.stopErr
}

// terminate interrupts process and waits for it, killing it when it ignores
// the interrupt.
func terminate(process *os.Process, waitErr <-chan error) error {
	if process != nil {
		_ = process.Signal(os.Interrupt)
	}
	select {
	case err, ok := <-waitErr:
		if ok {
			return ignoreExitStatus(err)
		}
		return nil
	case <-time.After(stopGrace):
	}
	if process != nil {
		_ = process.Kill()
	}
	if err, ok := <-waitErr; ok {
		return ignoreExitStatus(err)
	}
	return nil
}

// ignoreExitStatus treats a non-zero exit after an interrupt as a clean stop.
func ignoreExitStatus(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
