package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied            = errors.New("microphone permission denied")
	ErrDeviceInitFailure           = errors.New("audio device initialization failed")
	ErrFileIOFailure               = errors.New("recording file i/o failed")
	ErrConverterCreationFailure    = errors.New("failed to create audio converter")
	ErrConverterBufferAllocFailure = errors.New("failed to allocate converter buffer")
	ErrConversionEngineFailure     = errors.New("audio conversion failed")
	ErrLocaleUnsupported           = errors.New("locale not supported")
	ErrModelDownloadFailure        = errors.New("can't download the model")
	ErrRecognitionSetupFailure     = errors.New("failed to setup recognition stream")
	ErrInvalidAudioType            = errors.New("invalid audio data type")

	ErrSessionFinalized    = errors.New("recognition session already finalized")
	ErrNotFinalized        = errors.New("recognition session not finalized")
	ErrNoActiveSession     = errors.New("no active recording session")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrPlaybackUnavailable = errors.New("no recording available for playback")
)

// ConversionError carries the resampling engine's diagnostic. It matches
// ErrConversionEngineFailure with errors.Is.
type ConversionError struct {
	Detail string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrConversionEngineFailure, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrConversionEngineFailure, e.Detail)
}

func (e *ConversionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConversionEngineFailure}
	}
	return []error{ErrConversionEngineFailure, e.Err}
}
