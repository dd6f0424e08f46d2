package usecase

import (
	"context"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
	"lecturescribe/internal/transcription"
)

type frozenTranscript interface {
	FrozenTranscript() (domain.Transcript, error)
	Export(path string) error
}

type transcriptFinalizer struct {
	exportPath string
	copy       bool
	clipboard  ports.Clipboard
	events     ports.EventSink
}

func newTranscriptFinalizer(exportPath string, copyText bool, clipboard ports.Clipboard, events ports.EventSink) transcriptFinalizer {
	if exportPath == "" {
		exportPath = transcription.DefaultExportFile
	}
	return transcriptFinalizer{exportPath: exportPath, copy: copyText, clipboard: clipboard, events: events}
}

// Finalize exports the frozen transcript and copies it to the clipboard when
// enabled. A clipboard failure is reported but not returned.
func (f transcriptFinalizer) Finalize(ctx context.Context, src frozenTranscript) (domain.StopResult, domain.SessionStateReason, error) {
	t, err := src.FrozenTranscript()
	if err != nil {
		f.events.SessionError(domain.ErrorCodeTranscription, err.Error())
		return domain.StopResult{}, domain.SessionReasonTranscriptionFailed, err
	}

	text := transcription.ExportText(t)
	result := domain.StopResult{Transcript: text, ExportPath: f.exportPath}
	reason := domain.SessionReasonTranscriptSaved

	exportErr := src.Export(f.exportPath)
	if exportErr != nil {
		f.events.SessionError(domain.ErrorCodeExport, exportErr.Error())
		reason = domain.SessionReasonExportFailed
	} else {
		result.Exported = true
	}

	if f.copy && f.clipboard != nil && text != "" {
		if err := f.clipboard.SetText(ctx, text); err != nil {
			f.events.SessionError(domain.ErrorCodeClipboard, "transcript ready but clipboard write failed")
		} else {
			result.Copied = true
			if exportErr == nil {
				reason = domain.SessionReasonTranscriptCopied
			}
		}
	}

	return result, reason, exportErr
}
