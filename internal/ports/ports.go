package ports

import (
	"context"
	"io"

	"lecturescribe/internal/domain"
)

// AudioConfig describes how the microphone should be opened.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is an open input device delivering s16le PCM at Format.
type AudioSession interface {
	io.ReadCloser
	Format() domain.AudioFormat
	Stop() error
}

// AudioDevice opens microphone sessions.
type AudioDevice interface {
	Open(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// PermissionAuthorizer grants or refuses microphone access.
type PermissionAuthorizer interface {
	Authorize(ctx context.Context) (bool, error)
}

// RecognizerOptions tunes result delivery.
type RecognizerOptions struct {
	VolatileResults bool
	TimeRanges      bool
	Confidence      bool
}

// RecognizerSession is one configured recognition stream. Results is not
// restartable and yields items in emission order until Finish or Close.
type RecognizerSession interface {
	Push(buf *domain.AudioBuffer) error
	Results() <-chan domain.RecognitionResult

	// Finish signals end of input and blocks until every result derived from
	// pushed audio has been sent on Results, which is then closed.
	Finish(ctx context.Context) error
	Close() error
}

// Recognizer is the external speech engine including locale model management.
type Recognizer interface {
	SupportedLocales(ctx context.Context) ([]string, error)
	InstalledLocales(ctx context.Context) ([]string, error)

	// Install downloads the locale model. progress receives fractions in [0, 1].
	Install(ctx context.Context, locale string, progress func(fraction float64)) error
	AudioFormat(ctx context.Context, locale string) (domain.AudioFormat, error)
	Configure(ctx context.Context, locale string, opts RecognizerOptions) (RecognizerSession, error)
}

// Playback is a running playback of the backing recording.
type Playback interface {
	// Position is the sample-clock position in seconds.
	Position() float64
	Done() <-chan struct{}
	Stop() error
}

// Player starts playback of recorded audio files.
type Player interface {
	Play(ctx context.Context, path string) (Playback, error)
}

// MediaStream reads decoded audio from a media file.
type MediaStream interface {
	Format() domain.AudioFormat
	// Read returns up to frames frames; io.EOF once exhausted.
	Read(frames int) (*domain.AudioBuffer, error)
	Progress() float64
	Close() error
}

// MediaReader opens recorded audio or video files.
type MediaReader interface {
	Open(ctx context.Context, path string) (MediaStream, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(status domain.Status, reason domain.SessionStateReason)
	TranscriptUpdated(transcript domain.Transcript)
	FinalTranscript(text string)
	ModelDownloadProgress(locale string, fraction float64)
	PlaybackPosition(position float64, highlighted []int)
	SessionError(code domain.ErrorCode, detail string)
}
