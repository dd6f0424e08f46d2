package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"lecturescribe/internal/audio"
	"lecturescribe/internal/capture"
	"lecturescribe/internal/config"
	"lecturescribe/internal/observe"
	"lecturescribe/internal/ports"
	"lecturescribe/internal/providers/deepgram"
	"lecturescribe/internal/providers/whisper"
	"lecturescribe/internal/usecase"
)

// recognizerSampleRate is the decode rate for file transcription. Both
// providers consume 16 kHz mono, so decoding there avoids a resample.
const recognizerSampleRate = 16000

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.RecordingController
	Files      *usecase.FileTranscriber
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *observe.Metrics

	closer io.Closer
}

// Close releases recognizer resources such as loaded whisper models.
func (s Services) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, clipboard ports.Clipboard) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, eventSink, clipboard)
}

// BuildWith wires the graph from an already resolved configuration.
func BuildWith(cfg config.Config, eventSink ports.EventSink, clipboard ports.Clipboard) (Services, error) {
	logger := observe.NewLogger(cfg.Log.Level)
	metrics := observe.DefaultMetrics()

	if err := os.MkdirAll(cfg.Audio.RecordingDir, 0o755); err != nil {
		return Services{}, fmt.Errorf("create recording dir: %w", err)
	}

	recognizer, closer, err := buildRecognizer(cfg)
	if err != nil {
		return Services{}, err
	}

	options := ports.RecognizerOptions{
		VolatileResults: cfg.Recognizer.VolatileResults,
		TimeRanges:      true,
		Confidence:      cfg.Recognizer.Confidence,
	}

	controller := usecase.NewRecordingController(
		recognizer,
		audio.NewFFplayPlayer(cfg.Playback.PlayerCommand),
		clipboard,
		eventSink,
		usecase.Config{
			Capture: capture.Options{
				Device:     audio.NewFFMPEGDevice(cfg.Audio.FFmpegCommand),
				Authorizer: capture.GrantedAuthorizer{},
				Audio: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				Dir:             cfg.Audio.RecordingDir,
				FramesPerBuffer: cfg.Audio.FramesPerBuffer,
				QueueDepth:      cfg.Audio.QueueDepth,
			},
			Locale:            cfg.Recognizer.Locale,
			RecognizerOptions: options,
			MaxConvertFrames:  cfg.Audio.MaxConvertFrames,
			FinalizeTimeout:   cfg.Session.FinalizeTimeout,
			ExportPath:        cfg.Session.ExportPath,
			CopyToClipboard:   cfg.Session.CopyToClipboard,
			PositionInterval:  cfg.Playback.PositionInterval,
			Logger:            logger,
			Metrics:           metrics,
		},
	)

	files := usecase.NewFileTranscriber(
		audio.NewMediaFileReader(cfg.Audio.FFmpegCommand, cfg.Audio.FFprobeCommand, recognizerSampleRate, 1),
		recognizer,
		usecase.FileConfig{
			Locale:            cfg.Recognizer.Locale,
			RecognizerOptions: options,
			ChunkSeconds:      cfg.Session.FileChunkSeconds,
			MaxConvertFrames:  cfg.Audio.MaxConvertFrames,
			FinalizeTimeout:   cfg.Session.FinalizeTimeout,
			OnInstallProgress: eventSink.ModelDownloadProgress,
			Logger:            logger,
			Metrics:           metrics,
		},
	)

	logger.Info("services ready",
		"provider", cfg.Recognizer.Provider,
		"locale", cfg.Recognizer.Locale,
		"recording_dir", cfg.Audio.RecordingDir,
	)

	return Services{
		Controller: controller,
		Files:      files,
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		closer:     closer,
	}, nil
}

func buildRecognizer(cfg config.Config) (ports.Recognizer, io.Closer, error) {
	switch cfg.Recognizer.Provider {
	case config.ProviderDeepgram:
		return deepgram.NewRecognizer(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}), nil, nil
	case config.ProviderWhisper:
		store := whisper.NewModelStore(cfg.Whisper.ModelDir, cfg.Whisper.ModelBaseURL, cfg.Whisper.ModelSize)
		r := whisper.NewRecognizer(store, whisper.LoadNativeEngine, whisper.Config{
			VolatileInterval: cfg.Whisper.VolatileInterval,
			MaxUtterance:     cfg.Whisper.MaxUtterance,
		})
		return r, r, nil
	default:
		return nil, nil, fmt.Errorf("unknown recognizer provider %q", cfg.Recognizer.Provider)
	}
}
