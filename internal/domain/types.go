package domain

// RecordingState models the capture lifecycle as seen by the boundary layer.
type RecordingState string

const (
	RecordingStateStopped   RecordingState = "stopped"
	RecordingStateRecording RecordingState = "recording"
	RecordingStatePaused    RecordingState = "paused"
)

// PlaybackState is tracked independently of RecordingState.
type PlaybackState string

const (
	PlaybackStateNotPlaying PlaybackState = "not_playing"
	PlaybackStatePlaying    PlaybackState = "playing"
)

// OrchestratorState is the lifecycle of one recognition session.
type OrchestratorState string

const (
	OrchestratorUninitialized OrchestratorState = "uninitialized"
	OrchestratorReady         OrchestratorState = "ready"
	OrchestratorStreaming     OrchestratorState = "streaming"
	OrchestratorFinalizing    OrchestratorState = "finalizing"
	OrchestratorFinalized     OrchestratorState = "finalized"
	OrchestratorAborted       OrchestratorState = "aborted"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonIdle                SessionStateReason = "idle"
	SessionReasonPreparingModel      SessionStateReason = "preparing_model"
	SessionReasonRecordingStarted    SessionStateReason = "recording_started"
	SessionReasonRecordingRestarted  SessionStateReason = "recording_restarted"
	SessionReasonRecordingPaused     SessionStateReason = "recording_paused"
	SessionReasonRecordingResumed    SessionStateReason = "recording_resumed"
	SessionReasonFinalizing          SessionStateReason = "finalizing"
	SessionReasonTranscriptSaved     SessionStateReason = "transcript_saved"
	SessionReasonTranscriptCopied    SessionStateReason = "transcript_copied"
	SessionReasonExportFailed        SessionStateReason = "export_failed"
	SessionReasonTranscriptionFailed SessionStateReason = "transcription_failed"
	SessionReasonPlaybackStarted     SessionStateReason = "playback_started"
	SessionReasonPlaybackStopped     SessionStateReason = "playback_stopped"
	SessionReasonFileTranscribing    SessionStateReason = "file_transcribing"
	SessionReasonFileTranscribed     SessionStateReason = "file_transcribed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodePermission    ErrorCode = "permission"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeRecordingFile ErrorCode = "recording_file"
	ErrorCodeModel         ErrorCode = "model"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeExport        ErrorCode = "export"
	ErrorCodeClipboard     ErrorCode = "clipboard"
	ErrorCodePlayback      ErrorCode = "playback"
)

// Status summarizes the current runtime status.
type Status struct {
	SessionID string            `json:"sessionId,omitempty"`
	Recording RecordingState    `json:"recording"`
	Playback  PlaybackState     `json:"playback"`
	Session   OrchestratorState `json:"session"`
	Elapsed   float64           `json:"elapsed"`
	Message   string            `json:"message,omitempty"`
}

// StopResult is returned once recording is stopped and the transcript is finalized.
type StopResult struct {
	Transcript string `json:"transcript"`
	ExportPath string `json:"exportPath,omitempty"`
	Exported   bool   `json:"exported"`
	Copied     bool   `json:"copied"`
}

// Lecture is the explicit session context owned by the controller.
type Lecture struct {
	ID         string     `json:"id"`
	FilePath   string     `json:"filePath,omitempty"`
	Transcript Transcript `json:"transcript"`
	Done       bool       `json:"done"`
}
