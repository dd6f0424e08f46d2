package usecase

import (
	"errors"
	"fmt"
	"log/slog"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
)

type bufferSubmitter interface {
	Submit(buf *domain.AudioBuffer) error
}

// pumpAudioBuffers submits captured buffers in order. After the first
// failure it keeps draining so the recorder can still persist audio, but
// stops submitting.
func pumpAudioBuffers(
	buffers <-chan *domain.AudioBuffer,
	orchestrator bufferSubmitter,
	events ports.EventSink,
	logger *slog.Logger,
	done chan struct{},
) {
	defer close(done)

	failed := false
	for buf := range buffers {
		if failed {
			continue
		}
		err := orchestrator.Submit(buf)
		if err == nil {
			continue
		}
		failed = true
		if errors.Is(err, domain.ErrSessionFinalized) {
			logger.Info("recognition session closed, dropping further audio")
			continue
		}
		logger.Error("submitting audio failed", "error", err)
		events.SessionError(errorCodeFor(err, domain.ErrorCodeAudioStream), fmt.Sprintf("failed to transcribe audio: %v", err))
	}
}

// errorCodeFor maps pipeline failures onto boundary error codes.
func errorCodeFor(err error, fallback domain.ErrorCode) domain.ErrorCode {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return domain.ErrorCodePermission
	case errors.Is(err, domain.ErrDeviceInitFailure):
		return domain.ErrorCodeStartup
	case errors.Is(err, domain.ErrFileIOFailure):
		return domain.ErrorCodeRecordingFile
	case errors.Is(err, domain.ErrLocaleUnsupported),
		errors.Is(err, domain.ErrModelDownloadFailure):
		return domain.ErrorCodeModel
	case errors.Is(err, domain.ErrRecognitionSetupFailure),
		errors.Is(err, domain.ErrConverterCreationFailure),
		errors.Is(err, domain.ErrConverterBufferAllocFailure),
		errors.Is(err, domain.ErrConversionEngineFailure),
		errors.Is(err, domain.ErrInvalidAudioType):
		return domain.ErrorCodeTranscription
	case errors.Is(err, domain.ErrPlaybackUnavailable):
		return domain.ErrorCodePlayback
	default:
		return fallback
	}
}
