package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"lecturescribe/internal/domain"
)

const wavFormatPCM = 1

// WAVWriter appends captured buffers to a 16-bit PCM WAV file. Sizes in the
// header are only valid after Close.
type WAVWriter struct {
	path   string
	file   *os.File
	enc    *wav.Encoder
	format domain.AudioFormat
	frames int64
}

// CreateWAV creates (or truncates) path for audio in format.
func CreateWAV(path string, format domain.AudioFormat) (*WAVWriter, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: invalid format %s", domain.ErrFileIOFailure, format)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFileIOFailure, err)
	}
	return &WAVWriter{
		path:   path,
		file:   f,
		enc:    wav.NewEncoder(f, int(format.SampleRate), 16, format.Channels, wavFormatPCM),
		format: format,
	}, nil
}

func (w *WAVWriter) Path() string { return w.path }

// Frames returns the number of frames appended so far.
func (w *WAVWriter) Frames() int64 { return w.frames }

// Append writes buf's frames. buf must match the file's sample rate and
// channel count.
func (w *WAVWriter) Append(buf *domain.AudioBuffer) error {
	if buf.Format.SampleRate != w.format.SampleRate || buf.Format.Channels != w.format.Channels {
		return fmt.Errorf("%w: buffer %s does not match file %s", domain.ErrFileIOFailure, buf.Format, w.format)
	}
	n := buf.Frames * buf.Format.Channels
	data := make([]int, n)
	for i := 0; i < n; i++ {
		data[i] = int(domain.FloatToInt16(buf.Samples[i]))
	}
	ib := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: w.format.Channels,
			SampleRate:  int(w.format.SampleRate),
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := w.enc.Write(ib); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFileIOFailure, err)
	}
	w.frames += int64(buf.Frames)
	return nil
}

// Close finalises the header and closes the file.
func (w *WAVWriter) Close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFileIOFailure, err)
	}
	return nil
}

// WAVStream reads integer PCM WAV files as normalised float buffers.
type WAVStream struct {
	file        *os.File
	dec         *wav.Decoder
	format      domain.AudioFormat
	scale       float32
	totalFrames int64
	readFrames  int64
}

// OpenWAV opens a WAV file for sequential reading.
func OpenWAV(path string) (*WAVStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFileIOFailure, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid wav file", domain.ErrFileIOFailure, path)
	}
	if err := dec.FwdToPCM(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrFileIOFailure, err)
	}
	switch dec.BitDepth {
	case 16, 24, 32:
	default:
		_ = f.Close()
		return nil, fmt.Errorf("%w: unsupported bit depth %d", domain.ErrFileIOFailure, dec.BitDepth)
	}

	channels := int(dec.NumChans)
	frameBytes := channels * int(dec.BitDepth) / 8
	var total int64
	if frameBytes > 0 {
		total = int64(dec.PCMSize) / int64(frameBytes)
	}
	return &WAVStream{
		file: f,
		dec:  dec,
		format: domain.AudioFormat{
			SampleRate: float64(dec.SampleRate),
			Channels:   channels,
			Encoding:   domain.EncodingInt16,
		},
		scale:       float32(int64(1) << (dec.BitDepth - 1)),
		totalFrames: total,
	}, nil
}

// Format reports the decoded layout. Samples of deeper files are still
// normalised to [-1, 1].
func (s *WAVStream) Format() domain.AudioFormat { return s.format }

// Read returns up to frames frames, or io.EOF once the data chunk is done.
func (s *WAVStream) Read(frames int) (*domain.AudioBuffer, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("invalid read size %d", frames)
	}
	ch := s.format.Channels
	ib := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: ch, SampleRate: int(s.format.SampleRate)},
		Data:   make([]int, frames*ch),
	}
	n, err := s.dec.PCMBuffer(ib)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", domain.ErrFileIOFailure, err)
	}
	got := n / ch
	if got == 0 {
		return nil, io.EOF
	}

	buf := domain.NewAudioBuffer(s.format, got)
	for i := 0; i < got*ch; i++ {
		buf.Samples = append(buf.Samples, float32(ib.Data[i])/s.scale)
	}
	buf.Frames = got
	s.readFrames += int64(got)
	return buf, nil
}

// Progress returns the fraction of frames read.
func (s *WAVStream) Progress() float64 {
	if s.totalFrames <= 0 {
		return 0
	}
	p := float64(s.readFrames) / float64(s.totalFrames)
	if p > 1 {
		return 1
	}
	return p
}

// Duration returns the file length in seconds.
func (s *WAVStream) Duration() float64 {
	return float64(s.totalFrames) / s.format.SampleRate
}

func (s *WAVStream) Close() error {
	return s.file.Close()
}
