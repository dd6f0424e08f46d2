package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/observe"
	"lecturescribe/internal/ports"
	"lecturescribe/internal/transcription"
)

const defaultChunkSeconds = 30

// FileProgress is reported after every submitted chunk.
type FileProgress struct {
	Volatile  string  `json:"volatile"`
	Finalized string  `json:"finalized"`
	Progress  float64 `json:"progress"`
}

// FileConfig controls file transcription.
type FileConfig struct {
	Locale            string
	RecognizerOptions ports.RecognizerOptions
	ChunkSeconds      int
	MaxConvertFrames  int
	FinalizeTimeout   time.Duration
	OnInstallProgress func(locale string, fraction float64)

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// FileTranscriber runs a recorded audio or video file through a fresh
// recognition session.
type FileTranscriber struct {
	reader     ports.MediaReader
	recognizer ports.Recognizer
	cfg        FileConfig
	logger     *slog.Logger
}

func NewFileTranscriber(reader ports.MediaReader, recognizer ports.Recognizer, cfg FileConfig) *FileTranscriber {
	if cfg.ChunkSeconds <= 0 {
		cfg.ChunkSeconds = defaultChunkSeconds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTranscriber{
		reader:     reader,
		recognizer: recognizer,
		cfg:        cfg,
		logger:     logger.With("component", "file_transcriber"),
	}
}

// TranscribeFile decodes path in chunks, submitting each one and reporting
// progress, then finalizes and reports progress 1. Decoding runs one chunk
// ahead of submission.
func (f *FileTranscriber) TranscribeFile(ctx context.Context, path string, onUpdate func(FileProgress)) (domain.Transcript, error) {
	if onUpdate == nil {
		onUpdate = func(FileProgress) {}
	}

	orchestrator := transcription.New(transcription.Options{
		Recognizer:        f.recognizer,
		Locale:            f.cfg.Locale,
		RecognizerOptions: f.cfg.RecognizerOptions,
		OnInstallProgress: f.cfg.OnInstallProgress,
		MaxConvertFrames:  f.cfg.MaxConvertFrames,
		FinalizeTimeout:   f.cfg.FinalizeTimeout,
		Logger:            f.cfg.Logger,
		Metrics:           f.cfg.Metrics,
	})
	if err := orchestrator.Setup(ctx); err != nil {
		return domain.Transcript{}, err
	}

	stream, err := f.reader.Open(ctx, path)
	if err != nil {
		orchestrator.Abort()
		return domain.Transcript{}, fmt.Errorf("%w: open %s: %v", domain.ErrFileIOFailure, path, err)
	}
	defer stream.Close()

	chunkFrames := f.cfg.ChunkSeconds * int(stream.Format().SampleRate)
	f.logger.Info("transcribing file", "path", path, "format", stream.Format().String(), "chunk_frames", chunkFrames)

	type chunk struct {
		buf      *domain.AudioBuffer
		progress float64
	}
	chunks := make(chan chunk, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		for {
			buf, err := stream.Read(chunkFrames)
			if buf != nil && buf.Frames > 0 {
				select {
				case chunks <- chunk{buf: buf, progress: stream.Progress()}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: decode %s: %v", domain.ErrFileIOFailure, path, err)
			}
		}
	})
	g.Go(func() error {
		for c := range chunks {
			if err := orchestrator.Submit(c.buf); err != nil {
				return err
			}
			t := orchestrator.Transcript()
			onUpdate(FileProgress{Volatile: t.VolatileText(), Finalized: t.FinalText(), Progress: c.progress})
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		orchestrator.Abort()
		return domain.Transcript{}, err
	}

	if err := orchestrator.Finalize(ctx); err != nil {
		return domain.Transcript{}, err
	}
	t, err := orchestrator.FrozenTranscript()
	if err != nil {
		return domain.Transcript{}, err
	}
	onUpdate(FileProgress{Volatile: t.VolatileText(), Finalized: t.FinalText(), Progress: 1})
	f.logger.Info("file transcribed", "path", path, "segments", len(t.Finals))
	return t, nil
}
