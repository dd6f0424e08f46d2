package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"lecturescribe/internal/bootstrap"
	"lecturescribe/internal/config"
	"lecturescribe/internal/domain"
	"lecturescribe/internal/transcript"
	"lecturescribe/internal/usecase"
)

const (
	eventSession  = "lecturescribe:session"
	eventUpdate   = "lecturescribe:transcript"
	eventFinal    = "lecturescribe:final"
	eventModel    = "lecturescribe:model"
	eventPosition = "lecturescribe:position"
	eventFile     = "lecturescribe:file"
	eventError    = "lecturescribe:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.RecordingController
	files      *usecase.FileTranscriber
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		slog.Error("startup failed", "error", err)
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	slog.SetDefault(services.Logger)
	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	a.files = services.Files
	a.SessionStateChanged(a.controller.Status(), domain.SessionReasonIdle)
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller == nil {
		return
	}
	if err := a.controller.Discard(ctx); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		slog.Warn("discarding recording on shutdown failed", "error", err)
	}
	if err := a.services.Close(); err != nil {
		slog.Warn("closing services failed", "error", err)
	}
}

// StartRecording begins a new lecture recording, discarding the previous one.
func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// PauseRecording suspends capture without ending the session.
func (a *App) PauseRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Pause(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// ResumeRecording continues a paused recording.
func (a *App) ResumeRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Resume(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopRecording finalizes the transcript and exports it.
func (a *App) StopRecording() (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	return a.controller.Stop(a.ctx)
}

// StartPlayback plays the last recording with transcript highlighting.
func (a *App) StartPlayback() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartPlayback(a.ctx); err != nil {
		a.SessionError(domain.ErrorCodePlayback, err.Error())
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopPlayback stops a running playback.
func (a *App) StopPlayback() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StopPlayback(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// TranscribeFile transcribes a recorded audio or video file. An empty path
// opens a file picker.
func (a *App) TranscribeFile(path string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		picked, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
			Title: "Transcribe recording",
			Filters: []runtime.FileFilter{
				{DisplayName: "Audio and video", Pattern: "*.wav;*.mp3;*.m4a;*.flac;*.ogg;*.mp4;*.mov;*.mkv;*.webm"},
			},
		})
		if err != nil {
			return "", err
		}
		if picked == "" {
			return "", nil
		}
		path = picked
	}

	a.SessionStateChanged(a.controller.Status(), domain.SessionReasonFileTranscribing)
	t, err := a.files.TranscribeFile(a.ctx, path, a.fileProgress)
	if err != nil {
		a.SessionError(errorCodeFor(err), err.Error())
		return "", err
	}
	a.SessionStateChanged(a.controller.Status(), domain.SessionReasonFileTranscribed)
	return t.FinalText(), nil
}

// GetStatus returns the current recording and playback status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{
			Recording: domain.RecordingStateStopped,
			Playback:  domain.PlaybackStateNotPlaying,
			Session:   domain.OrchestratorUninitialized,
		}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.controller.Status()
}

// GetLines returns the current transcript split into sentence lines.
func (a *App) GetLines() []transcript.Line {
	if a.controller == nil {
		return nil
	}
	return a.controller.Lines()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"provider":         a.cfg.Recognizer.Provider,
		"locale":           a.cfg.Recognizer.Locale,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"exportPath":       a.cfg.Session.ExportPath,
	}
	switch a.cfg.Recognizer.Provider {
	case config.ProviderDeepgram:
		info["model"] = a.cfg.Deepgram.Model
	case config.ProviderWhisper:
		info["model"] = a.cfg.Whisper.ModelSize
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) fileProgress(p usecase.FileProgress) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFile, p)
}

// SessionStateChanged emits recording and playback lifecycle updates.
func (a *App) SessionStateChanged(status domain.Status, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]any{
		"status":  status,
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TranscriptUpdated emits the transcript snapshot and its display lines.
func (a *App) TranscriptUpdated(t domain.Transcript) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventUpdate, map[string]any{
		"finalized": t.FinalText(),
		"volatile":  t.VolatileText(),
		"lines":     transcript.SplitIntoLines(t.Segments()),
	})
}

// FinalTranscript emits the exported transcript text.
func (a *App) FinalTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFinal, map[string]string{"text": text})
}

// ModelDownloadProgress emits locale model install progress.
func (a *App) ModelDownloadProgress(locale string, fraction float64) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventModel, map[string]any{
		"locale":   locale,
		"fraction": fraction,
	})
}

// PlaybackPosition emits the playback cursor and highlighted segment indices.
func (a *App) PlaybackPosition(position float64, highlighted []int) {
	if a.ctx == nil {
		return
	}
	if highlighted == nil {
		highlighted = []int{}
	}
	runtime.EventsEmit(a.ctx, eventPosition, map[string]any{
		"position":    position,
		"highlighted": highlighted,
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func errorCodeFor(err error) domain.ErrorCode {
	switch {
	case errors.Is(err, domain.ErrFileIOFailure):
		return domain.ErrorCodeRecordingFile
	case errors.Is(err, domain.ErrLocaleUnsupported), errors.Is(err, domain.ErrModelDownloadFailure):
		return domain.ErrorCodeModel
	default:
		return domain.ErrorCodeTranscription
	}
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonIdle:
		return "Ready"
	case domain.SessionReasonPreparingModel:
		return "Preparing speech model..."
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonRecordingRestarted:
		return "Recording restarted; previous lecture discarded"
	case domain.SessionReasonRecordingPaused:
		return "Recording paused"
	case domain.SessionReasonRecordingResumed:
		return "Recording resumed"
	case domain.SessionReasonFinalizing:
		return "Recording stopped. Finalizing transcript..."
	case domain.SessionReasonTranscriptSaved:
		return "Transcript saved"
	case domain.SessionReasonTranscriptCopied:
		return "Transcript saved and copied to clipboard"
	case domain.SessionReasonExportFailed:
		return "Transcript export failed"
	case domain.SessionReasonTranscriptionFailed:
		return "Transcription failed"
	case domain.SessionReasonPlaybackStarted:
		return "Playback started"
	case domain.SessionReasonPlaybackStopped:
		return "Playback stopped"
	case domain.SessionReasonFileTranscribing:
		return "Transcribing file..."
	case domain.SessionReasonFileTranscribed:
		return "File transcribed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone access denied"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeRecordingFile:
		return "Recording file error"
	case domain.ErrorCodeModel:
		return "Speech model unavailable"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeExport:
		return "Transcript export failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodePlayback:
		return "Playback unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
