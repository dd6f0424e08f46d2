package whisper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lecturescribe/internal/domain"
	"lecturescribe/internal/ports"
)

const sampleRate = 16000

// Locales with a whisper language; the model itself is language-agnostic.
var supportedLocales = []string{
	"en-US", "en-GB", "en-AU", "en-IN",
	"de-DE", "fr-FR", "fr-CA", "es-ES", "es-MX",
	"it-IT", "pt-BR", "pt-PT", "nl-NL", "sv-SE",
	"da-DK", "nb-NO", "fi-FI", "pl-PL", "cs-CZ",
	"ru-RU", "uk-UA", "tr-TR", "el-GR", "hi-IN",
	"ja-JP", "ko-KR", "zh-CN", "zh-TW",
}

// Config tunes how audio is windowed before inference.
type Config struct {
	// VolatileInterval is how much new audio triggers a tentative pass.
	VolatileInterval time.Duration
	// MaxUtterance is the window length after which text is finalized.
	MaxUtterance time.Duration
}

func (c Config) withDefaults() Config {
	if c.VolatileInterval <= 0 {
		c.VolatileInterval = 3 * time.Second
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 15 * time.Second
	}
	if c.VolatileInterval > c.MaxUtterance {
		c.VolatileInterval = c.MaxUtterance
	}
	return c
}

// Recognizer transcribes locally. A locale counts as installed once its
// model file is on disk.
type Recognizer struct {
	store *ModelStore
	load  EngineLoader
	cfg   Config

	mu      sync.Mutex
	engines map[string]Engine
}

func NewRecognizer(store *ModelStore, load EngineLoader, cfg Config) *Recognizer {
	if load == nil {
		load = LoadNativeEngine
	}
	return &Recognizer{
		store:   store,
		load:    load,
		cfg:     cfg.withDefaults(),
		engines: make(map[string]Engine),
	}
}

func (r *Recognizer) SupportedLocales(context.Context) ([]string, error) {
	return append([]string(nil), supportedLocales...), nil
}

func (r *Recognizer) InstalledLocales(context.Context) ([]string, error) {
	var out []string
	for _, locale := range supportedLocales {
		if r.store.Installed(locale) {
			out = append(out, locale)
		}
	}
	return out, nil
}

func (r *Recognizer) Install(ctx context.Context, locale string, progress func(float64)) error {
	return r.store.Download(ctx, locale, progress)
}

func (r *Recognizer) AudioFormat(context.Context, string) (domain.AudioFormat, error) {
	return domain.AudioFormat{SampleRate: sampleRate, Channels: 1, Encoding: domain.EncodingFloat32}, nil
}

func (r *Recognizer) Configure(_ context.Context, locale string, opts ports.RecognizerOptions) (ports.RecognizerSession, error) {
	if !r.store.Installed(locale) {
		return nil, fmt.Errorf("whisper model for %s is not installed", locale)
	}
	engine, err := r.engine(r.store.Path(locale))
	if err != nil {
		return nil, err
	}
	return newSession(engine, languageCode(locale), r.cfg, opts), nil
}

// Close releases every loaded model.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for path, engine := range r.engines {
		errs = append(errs, engine.Close())
		delete(r.engines, path)
	}
	return errors.Join(errs...)
}

func (r *Recognizer) engine(path string) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if engine, ok := r.engines[path]; ok {
		return engine, nil
	}
	engine, err := r.load(path)
	if err != nil {
		return nil, err
	}
	r.engines[path] = engine
	return engine, nil
}

type session struct {
	engine   Engine
	language string
	cfg      Config
	opts     ports.RecognizerOptions

	ctx    context.Context
	cancel context.CancelFunc

	audio    chan []float32
	endAudio chan struct{}
	results  chan domain.RecognitionResult
	done     chan struct{}
	closing  chan struct{}

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func newSession(engine Engine, lang string, cfg Config, opts ports.RecognizerOptions) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		engine:   engine,
		language: lang,
		cfg:      cfg,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		audio:    make(chan []float32, 64),
		endAudio: make(chan struct{}),
		results:  make(chan domain.RecognitionResult, 64),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go s.processLoop()
	return s
}

var (
	errStreamClosed  = errors.New("audio stream is already closed")
	errSessionClosed = errors.New("session closed")
)

// Push queues a copy of buf's mono samples. It must not race with Finish.
func (s *session) Push(buf *domain.AudioBuffer) error {
	if buf == nil || buf.Frames == 0 {
		return nil
	}
	n := buf.Frames * buf.Format.Channels
	if buf.Format.Channels != 1 || len(buf.Samples) < n {
		return fmt.Errorf("whisper expects mono audio, got %s", buf.Format)
	}
	samples := append([]float32(nil), buf.Samples[:n]...)

	select {
	case <-s.endAudio:
		return errStreamClosed
	case <-s.closing:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- samples:
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

func (s *session) Results() <-chan domain.RecognitionResult {
	return s.results
}

// Finish transcribes the buffered tail and waits for its results.
func (s *session) Finish(ctx context.Context) error {
	s.closeSend()
	select {
	case <-s.done:
		return s.waitErr()
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.cancel()
	})
	<-s.done
	return s.waitErr()
}

func (s *session) closeSend() {
	s.closeSendOnce.Do(func() { close(s.endAudio) })
}

func (s *session) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	if err == nil || s.ctx.Err() != nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) processLoop() {
	defer close(s.done)
	defer close(s.results)

	w := window{
		maxSamples:      int(s.cfg.MaxUtterance.Seconds() * sampleRate),
		volatileSamples: int(s.cfg.VolatileInterval.Seconds() * sampleRate),
	}
	for {
		select {
		case samples := <-s.audio:
			if !s.process(&w, samples) {
				return
			}
		case <-s.endAudio:
			for len(s.audio) > 0 {
				if !s.process(&w, <-s.audio) {
					return
				}
			}
			if w.len() > 0 || w.volatileShown {
				s.finalize(&w)
			}
			return
		case <-s.closing:
			return
		}
	}
}

func (s *session) process(w *window, samples []float32) bool {
	w.add(samples)
	switch {
	case w.full():
		return s.finalize(w)
	case s.opts.VolatileResults && w.volatileDue():
		return s.tentative(w)
	default:
		return true
	}
}

func (s *session) tentative(w *window) bool {
	segments, err := s.engine.Transcribe(s.ctx, w.samples, s.language)
	if err != nil {
		s.setErr(fmt.Errorf("whisper transcribe: %w", err))
		return false
	}
	w.sinceVolatile = 0
	text := joinSegments(segments)
	if text == "" && !w.volatileShown {
		return true
	}
	w.volatileShown = text != ""
	if text != "" && w.sawFinal {
		text = " " + text
	}
	return s.emit(domain.RecognitionResult{
		Text:  text,
		Range: domain.TimeRange{Start: w.start, End: w.end()},
	})
}

func (s *session) finalize(w *window) bool {
	var segments []Segment
	if w.len() > 0 {
		var err error
		segments, err = s.engine.Transcribe(s.ctx, w.samples, s.language)
		if err != nil {
			s.setErr(fmt.Errorf("whisper transcribe: %w", err))
			return false
		}
	}

	end := w.end()
	emitted := false
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if w.sawFinal {
			text = " " + text
		}
		start := min(w.start+seg.Start.Seconds(), end)
		stop := min(max(w.start+seg.End.Seconds(), start), end)
		if !s.emit(domain.RecognitionResult{
			Text:    text,
			IsFinal: true,
			Range:   domain.TimeRange{Start: start, End: stop},
		}) {
			return false
		}
		w.sawFinal = true
		emitted = true
	}
	if !emitted && w.volatileShown {
		// An empty final clears the tentative text.
		if !s.emit(domain.RecognitionResult{IsFinal: true, Range: domain.TimeRange{Start: w.start, End: end}}) {
			return false
		}
	}
	w.advance()
	return true
}

func (s *session) emit(result domain.RecognitionResult) bool {
	select {
	case s.results <- result:
		return true
	case <-s.closing:
		return false
	}
}

func joinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// window is the audio not yet finalized, positioned on the session clock.
type window struct {
	samples         []float32
	start           float64
	sinceVolatile   int
	maxSamples      int
	volatileSamples int
	volatileShown   bool
	sawFinal        bool
}

func (w *window) add(samples []float32) {
	w.samples = append(w.samples, samples...)
	w.sinceVolatile += len(samples)
}

func (w *window) len() int          { return len(w.samples) }
func (w *window) full() bool        { return len(w.samples) >= w.maxSamples }
func (w *window) volatileDue() bool { return w.sinceVolatile >= w.volatileSamples }
func (w *window) end() float64      { return w.start + float64(len(w.samples))/sampleRate }

func (w *window) advance() {
	w.start = w.end()
	w.samples = nil
	w.sinceVolatile = 0
	w.volatileShown = false
}
