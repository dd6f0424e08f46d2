package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
)

// MediaFileReader opens recorded audio and video files. WAV files are read
// directly; anything else is decoded to s16le through ffmpeg.
type MediaFileReader struct {
	ffmpeg     string
	ffprobe    string
	sampleRate int
	channels   int
}

func NewMediaFileReader(ffmpeg, ffprobe string, sampleRate, channels int) *MediaFileReader {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &MediaFileReader{ffmpeg: ffmpeg, ffprobe: ffprobe, sampleRate: sampleRate, channels: channels}
}

func (r *MediaFileReader) Open(ctx context.Context, path string) (ports.MediaStream, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if s, err := OpenWAV(path); err == nil {
			return s, nil
		}
	}
	return r.decode(ctx, path)
}

func (r *MediaFileReader) decode(ctx context.Context, path string) (*decodedStream, error) {
	duration := r.probeDuration(ctx, path)

	ctx, cancel := context.WithCancel(ctx)
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-vn",
		"-ac", strconv.Itoa(r.channels),
		"-ar", strconv.Itoa(r.sampleRate),
		"-f", "s16le",
		"-",
	}
	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: decoder pipe: %v", domain.ErrFileIOFailure, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start decoder: %v", domain.ErrFileIOFailure, err)
	}

	return &decodedStream{
		cmd:    cmd,
		cancel: cancel,
		stdout: stdout,
		stderr: &stderr,
		format: domain.AudioFormat{
			SampleRate: float64(r.sampleRate),
			Channels:   r.channels,
			Encoding:   domain.EncodingInt16,
		},
		duration: duration,
	}, nil
}

// probeDuration asks ffprobe for the container duration. Zero means unknown.
func (r *MediaFileReader) probeDuration(ctx context.Context, path string) float64 {
	out, err := exec.CommandContext(ctx, r.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

type decodedStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr *bytes.Buffer

	format     domain.AudioFormat
	duration   float64
	readFrames int64
	done       bool
}

func (s *decodedStream) Format() domain.AudioFormat { return s.format }

func (s *decodedStream) Read(frames int) (*domain.AudioBuffer, error) {
	if s.done {
		return nil, io.EOF
	}
	if frames <= 0 {
		return nil, fmt.Errorf("invalid read size %d", frames)
	}
	pcm := make([]byte, frames*s.format.BytesPerFrame())
	n, err := io.ReadFull(s.stdout, pcm)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", domain.ErrFileIOFailure, err)
	}
	if err != nil {
		s.done = true
		if waitErr := s.cmd.Wait(); waitErr != nil {
			return nil, fmt.Errorf("%w: decoder failed: %v: %s", domain.ErrFileIOFailure, waitErr, trimmed(s.stderr.String()))
		}
	}
	buf := domain.AudioBufferFromPCM16(s.format, pcm[:n])
	if buf.Frames == 0 {
		return nil, io.EOF
	}
	s.readFrames += int64(buf.Frames)
	return buf, nil
}

func (s *decodedStream) Progress() float64 {
	if s.done {
		return 1
	}
	if s.duration <= 0 {
		return 0
	}
	p := float64(s.readFrames) / s.format.SampleRate / s.duration
	if p > 1 {
		return 1
	}
	return p
}

func (s *decodedStream) Close() error {
	s.cancel()
	_ = s.stdout.Close()
	if !s.done {
		s.done = true
		_ = s.cmd.Wait()
	}
	return nil
}
