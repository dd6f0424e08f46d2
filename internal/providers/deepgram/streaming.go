package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

// Languages accepted by the streaming endpoint for the nova-2 family.
var supportedLocales = []string{
	"en-US", "en-GB", "en-AU", "en-IN", "en-NZ",
	"de-DE", "fr-FR", "fr-CA", "es-ES", "es-419",
	"it-IT", "pt-BR", "pt-PT", "nl-NL", "sv-SE",
	"da-DK", "nb-NO", "fi-FI", "pl-PL", "ru-RU",
	"uk-UA", "tr-TR", "hi-IN", "ja-JP", "ko-KR",
	"zh-CN", "zh-TW",
}

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

// Recognizer streams audio to Deepgram's live transcription endpoint. Models
// are hosted remotely, so every supported locale counts as installed.
type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewRecognizer(cfg Config) *Recognizer {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Recognizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (r *Recognizer) SupportedLocales(context.Context) ([]string, error) {
	return append([]string(nil), supportedLocales...), nil
}

func (r *Recognizer) InstalledLocales(ctx context.Context) ([]string, error) {
	return r.SupportedLocales(ctx)
}

func (r *Recognizer) Install(_ context.Context, _ string, progress func(float64)) error {
	if progress != nil {
		progress(1)
	}
	return nil
}

// AudioFormat is 16 kHz mono linear16, which the endpoint accepts for every
// language.
func (r *Recognizer) AudioFormat(context.Context, string) (domain.AudioFormat, error) {
	return domain.AudioFormat{SampleRate: 16000, Channels: 1, Encoding: domain.EncodingInt16}, nil
}

func (r *Recognizer) Configure(ctx context.Context, locale string, opts ports.RecognizerOptions) (ports.RecognizerSession, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}
	format, _ := r.AudioFormat(ctx, locale)

	wsURL, err := buildListenURL(r.cfg, listenParams{
		Locale:         locale,
		SampleRate:     int(format.SampleRate),
		Channels:       format.Channels,
		InterimResults: opts.VolatileResults,
	})
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := r.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	session := newStreamingSession(conn, opts)
	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.results)
		close(session.done)
		_ = conn.Close()
	}()
	return session, nil
}

type streamingSession struct {
	conn *websocket.Conn
	opts ports.RecognizerOptions

	results  chan domain.RecognitionResult
	audio    chan []byte
	endAudio chan struct{}
	readDone chan struct{}
	done     chan struct{}
	closing  chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func newStreamingSession(conn *websocket.Conn, opts ports.RecognizerOptions) *streamingSession {
	return &streamingSession{
		conn:    conn,
		opts:    opts,
		results:  make(chan domain.RecognitionResult, 64),
		audio:    make(chan []byte, 32),
		endAudio: make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

var (
	errStreamClosed  = errors.New("audio stream is already closed")
	errSessionClosed = errors.New("session closed")
)

// Push sends buf as linear16 PCM. It must not race with Finish.
func (s *streamingSession) Push(buf *domain.AudioBuffer) error {
	if buf == nil || buf.Frames == 0 {
		return nil
	}

	select {
	case <-s.endAudio:
		return errStreamClosed
	case <-s.closing:
		return errSessionClosed
	default:
	}

	select {
	case s.audio <- buf.PCM16():
		return nil
	case <-s.endAudio:
		return errStreamClosed
	case <-s.closing:
		return errSessionClosed
	case <-s.done:
		select {
		case <-s.closing:
			return errSessionClosed
		default:
		}
		if err := s.waitErr(); err != nil {
			return err
		}
		return errSessionClosed
	}
}

func (s *streamingSession) Results() <-chan domain.RecognitionResult {
	return s.results
}

// Finish sends CloseStream and waits for the server to deliver the remaining
// results and close the socket.
func (s *streamingSession) Finish(ctx context.Context) error {
	s.closeSend()
	select {
	case <-s.done:
		return s.waitErr()
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) closeSend() {
	s.closeSendOnce.Do(func() { close(s.endAudio) })
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	if isNormalClose(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// isNormalClose reports whether err, possibly wrapped, is an orderly
// websocket close.
func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case chunk := <-s.audio:
			if !s.sendAudio(chunk) {
				return
			}
		case <-s.endAudio:
			for len(s.audio) > 0 {
				if !s.sendAudio(<-s.audio) {
					return
				}
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
				s.setErr(fmt.Errorf("failed to close stream: %w", err))
			}
			return
		case <-s.closing:
			return
		case <-s.readDone:
			return
		}
	}
}

func (s *streamingSession) sendAudio(chunk []byte) bool {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		s.setErr(fmt.Errorf("failed to send audio: %w", err))
		return false
	}
	return true
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)

	sawFinal := false
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			}
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}
		if response.Type != "" && !strings.EqualFold(response.Type, "Results") {
			continue
		}

		result, ok := s.toResult(response, sawFinal)
		if !ok {
			continue
		}
		if result.IsFinal && result.Text != "" {
			sawFinal = true
		}
		if !s.emit(result) {
			return
		}
	}
}

func (s *streamingSession) toResult(response deepgramResponse, sawFinal bool) (domain.RecognitionResult, bool) {
	alt, ok := firstAlternative(response)
	text := strings.TrimSpace(alt.Transcript)
	isFinal := response.IsFinal || response.SpeechFinal
	if !ok || (text == "" && !isFinal) {
		return domain.RecognitionResult{}, false
	}
	if text != "" && sawFinal {
		text = " " + text
	}

	result := domain.RecognitionResult{
		Text:    text,
		IsFinal: isFinal,
		Range: domain.TimeRange{
			Start: response.Start,
			End:   response.Start + response.Duration,
		},
	}
	if s.opts.Confidence && alt.Confidence != nil {
		c := *alt.Confidence
		result.Confidence = &c
	}
	return result, true
}

// emit delivers in order and never drops; it gives up only on Close.
func (s *streamingSession) emit(result domain.RecognitionResult) bool {
	select {
	case s.results <- result:
		return true
	case <-s.closing:
		return false
	}
}

type alternative struct {
	Transcript string   `json:"transcript"`
	Confidence *float64 `json:"confidence"`
}

type deepgramResponse struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

func firstAlternative(response deepgramResponse) (alternative, bool) {
	if len(response.Channel.Alternatives) == 0 {
		return alternative{}, false
	}
	return response.Channel.Alternatives[0], true
}

type listenParams struct {
	Locale         string
	SampleRate     int
	Channels       int
	InterimResults bool
}

func buildListenURL(cfg Config, params listenParams) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if params.SampleRate <= 0 {
		params.SampleRate = 16000
	}
	if params.Channels <= 0 {
		params.Channels = 1
	}
	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", params.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", params.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", params.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if params.Locale != "" {
		query.Set("language", params.Locale)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
