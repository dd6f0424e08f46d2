// Package transcription owns one recognition session: locale and model
// availability, the submission queue feeding the recognizer, result
// consumption and the merged transcript.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"

	"lecturescribe/internal/audio"
	"lecturescribe/internal/domain"
	"lecturescribe/internal/observe"
	"lecturescribe/internal/ports"
	"lecturescribe/internal/queue"
)

const defaultFinalizeTimeout = 30 * time.Second

type Options struct {
	Recognizer        ports.Recognizer
	Locale            string
	RecognizerOptions ports.RecognizerOptions

	// OnInstallProgress receives model download progress for Locale.
	OnInstallProgress func(locale string, fraction float64)
	// OnUpdate is called from the consumer goroutine after every merge.
	OnUpdate func(domain.Transcript)

	// MaxConvertFrames caps a single conversion's output; zero means default.
	MaxConvertFrames int
	FinalizeTimeout  time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Orchestrator drives one session through
// uninitialized -> ready -> streaming -> finalizing -> finalized.
// Submit must be called from a single producer goroutine.
type Orchestrator struct {
	opts    Options
	logger  *slog.Logger
	metrics *observe.Metrics

	mu        sync.Mutex
	state     domain.OrchestratorState
	settingUp bool
	locale    string
	format    domain.AudioFormat

	converter *audio.FormatConverter
	queue     *queue.Unbounded[*domain.AudioBuffer]
	session   ports.RecognizerSession
	store     *transcriptStore

	cancel       context.CancelFunc
	feederDone   chan struct{}
	consumerDone chan struct{}
	feedErr      atomic.Pointer[error]

	finalizeOnce sync.Once
	finalizeErr  error
	abortOnce    sync.Once
}

func New(opts Options) *Orchestrator {
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = defaultFinalizeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		opts:      opts,
		logger:    logger.With("component", "transcription", "locale", opts.Locale),
		metrics:   observe.OrDefault(opts.Metrics),
		state:     domain.OrchestratorUninitialized,
		converter: audio.NewFormatConverter(opts.MaxConvertFrames),
		queue:     queue.New[*domain.AudioBuffer](),
		store:     newTranscriptStore(),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() domain.OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Format is the recognizer's required audio format, valid after Setup.
func (o *Orchestrator) Format() domain.AudioFormat {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.format
}

// Transcript returns the latest published snapshot without locking.
func (o *Orchestrator) Transcript() domain.Transcript {
	return o.store.snapshot()
}

// Setup validates the locale, installs its model when missing, configures
// the recognizer and starts the feeder and consumer goroutines. Any failure
// aborts the session.
func (o *Orchestrator) Setup(ctx context.Context) error {
	o.mu.Lock()
	if o.state != domain.OrchestratorUninitialized || o.settingUp {
		o.mu.Unlock()
		return fmt.Errorf("%w: setup from %s", domain.ErrInvalidTransition, o.state)
	}
	o.settingUp = true
	o.mu.Unlock()

	if err := o.setup(ctx); err != nil {
		o.Abort()
		return err
	}
	return nil
}

func (o *Orchestrator) setup(ctx context.Context) error {
	rec := o.opts.Recognizer
	if rec == nil {
		return fmt.Errorf("%w: no recognizer configured", domain.ErrRecognitionSetupFailure)
	}

	supported, err := rec.SupportedLocales(ctx)
	if err != nil {
		return fmt.Errorf("%w: list supported locales: %v", domain.ErrRecognitionSetupFailure, err)
	}
	locale, ok := MatchLocale(o.opts.Locale, supported)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrLocaleUnsupported, o.opts.Locale)
	}

	installed, err := rec.InstalledLocales(ctx)
	if err != nil {
		return fmt.Errorf("%w: list installed locales: %v", domain.ErrRecognitionSetupFailure, err)
	}
	if _, ok := MatchLocale(locale, installed); !ok {
		if err := o.install(ctx, locale); err != nil {
			return err
		}
	}

	format, err := rec.AudioFormat(ctx, locale)
	if err != nil {
		return fmt.Errorf("%w: audio format: %v", domain.ErrRecognitionSetupFailure, err)
	}
	if !format.Valid() {
		return fmt.Errorf("%w: recognizer reported invalid format %s", domain.ErrRecognitionSetupFailure, format)
	}
	session, err := rec.Configure(ctx, locale, o.opts.RecognizerOptions)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRecognitionSetupFailure, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	if o.state != domain.OrchestratorUninitialized {
		// Aborted while suspended in setup.
		o.mu.Unlock()
		cancel()
		_ = session.Close()
		return fmt.Errorf("%w: session aborted during setup", domain.ErrRecognitionSetupFailure)
	}
	o.locale = locale
	o.format = format
	o.session = session
	o.cancel = cancel
	o.feederDone = make(chan struct{})
	o.consumerDone = make(chan struct{})
	o.state = domain.OrchestratorReady
	o.mu.Unlock()

	go o.feed(runCtx)
	go o.consume(runCtx)

	o.metrics.ActiveSessions.Add(ctx, 1)
	o.logger.Info("recognition session ready", "format", format.String())
	return nil
}

func (o *Orchestrator) install(ctx context.Context, locale string) error {
	o.logger.Info("installing locale model")
	start := time.Now()
	err := o.opts.Recognizer.Install(ctx, locale, func(fraction float64) {
		if o.opts.OnInstallProgress != nil {
			o.opts.OnInstallProgress(locale, fraction)
		}
	})
	o.metrics.ModelInstallDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrModelDownloadFailure, err)
	}
	return nil
}

// Submit converts buf to the recognizer format and enqueues it without
// blocking. Buffers submitted after Finalize has been called are dropped.
// A conversion failure aborts the whole session.
func (o *Orchestrator) Submit(buf *domain.AudioBuffer) error {
	o.mu.Lock()
	state := o.state
	target := o.format
	o.mu.Unlock()

	switch state {
	case domain.OrchestratorUninitialized:
		return domain.ErrInvalidAudioType
	case domain.OrchestratorReady, domain.OrchestratorStreaming:
	default:
		o.metrics.BuffersRejected.Add(context.Background(), 1)
		return fmt.Errorf("%w: submit in state %s", domain.ErrSessionFinalized, state)
	}

	converted, err := o.converter.Convert(buf, target)
	if err != nil {
		o.metrics.RecordConversionFailure(context.Background(), conversionKind(err))
		o.logger.Error("audio conversion failed, aborting session", "error", err)
		o.Abort()
		return err
	}

	if !o.queue.Push(converted) {
		o.metrics.BuffersRejected.Add(context.Background(), 1)
		return domain.ErrSessionFinalized
	}
	o.metrics.BuffersSubmitted.Add(context.Background(), 1)

	o.mu.Lock()
	if o.state == domain.OrchestratorReady {
		o.state = domain.OrchestratorStreaming
	}
	o.mu.Unlock()
	return nil
}

func conversionKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrConverterCreationFailure):
		return "creation"
	case errors.Is(err, domain.ErrConverterBufferAllocFailure):
		return "alloc"
	default:
		return "engine"
	}
}

func (o *Orchestrator) feed(ctx context.Context) {
	defer close(o.feederDone)
	for {
		buf, ok, err := o.queue.Pop(ctx)
		if err != nil || !ok {
			return
		}
		if err := o.session.Push(buf); err != nil {
			o.logger.Error("recognizer rejected audio", "error", err)
			pushErr := fmt.Errorf("push audio: %w", err)
			o.feedErr.Store(&pushErr)
			return
		}
	}
}

func (o *Orchestrator) consume(ctx context.Context) {
	defer close(o.consumerDone)
	results := o.session.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			snapshot, merged := o.store.merge(res, o.logger)
			if !merged {
				return
			}
			o.metrics.RecordResult(ctx, res.IsFinal)
			if o.opts.OnUpdate != nil {
				o.opts.OnUpdate(snapshot)
			}
		}
	}
}

// Finalize signals end of input, waits for the recognizer to flush every
// result derived from already submitted audio, then stops consumption and
// freezes the transcript. Concurrent callers wait for the single in-flight
// finalize; later calls return its result.
func (o *Orchestrator) Finalize(ctx context.Context) error {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()
	switch state {
	case domain.OrchestratorUninitialized:
		return domain.ErrNoActiveSession
	case domain.OrchestratorAborted:
		return fmt.Errorf("%w: session aborted", domain.ErrSessionFinalized)
	}

	o.finalizeOnce.Do(func() {
		o.finalizeErr = o.finalize(ctx)
	})
	return o.finalizeErr
}

func (o *Orchestrator) finalize(ctx context.Context) error {
	start := time.Now()
	o.mu.Lock()
	if o.state == domain.OrchestratorAborted {
		o.mu.Unlock()
		return fmt.Errorf("%w: session aborted", domain.ErrSessionFinalized)
	}
	o.state = domain.OrchestratorFinalizing
	o.mu.Unlock()
	o.queue.Close()
	o.logger.Debug("finalizing recognition session", "pending_buffers", o.queue.Len())

	flushCtx, cancelFlush := context.WithTimeout(ctx, o.opts.FinalizeTimeout)
	defer cancelFlush()

	var finishErr error
	select {
	case <-o.feederDone:
		finishErr = o.session.Finish(flushCtx)
		if finishErr == nil {
			select {
			case <-o.consumerDone:
			case <-flushCtx.Done():
			}
		}
	case <-flushCtx.Done():
		// The feeder may be stuck inside Push; closing the session releases it.
		finishErr = flushCtx.Err()
		o.cancel()
		if err := o.session.Close(); err != nil {
			o.logger.Warn("closing recognizer session failed", "error", err)
		}
		<-o.feederDone
	}
	o.cancel()
	<-o.consumerDone

	frozen := o.store.freeze()
	if err := o.session.Close(); err != nil {
		o.logger.Warn("closing recognizer session failed", "error", err)
	}
	o.setState(domain.OrchestratorFinalized)

	o.metrics.FinalizeDuration.Record(context.Background(), time.Since(start).Seconds())
	o.metrics.ActiveSessions.Add(context.Background(), -1)
	o.logger.Info("recognition session finalized", "finals", len(frozen.Finals))

	var errs []error
	if p := o.feedErr.Load(); p != nil {
		errs = append(errs, *p)
	}
	if finishErr != nil {
		errs = append(errs, fmt.Errorf("flush recognizer: %w", finishErr))
	}
	return errors.Join(errs...)
}

// Abort ends the session without waiting for the recognizer. The
// transcript keeps whatever was merged last. Abort is idempotent and does
// nothing once finalize has started.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	switch o.state {
	case domain.OrchestratorFinalizing, domain.OrchestratorFinalized, domain.OrchestratorAborted:
		o.mu.Unlock()
		return
	}
	wasActive := o.session != nil
	o.state = domain.OrchestratorAborted
	o.mu.Unlock()

	o.abortOnce.Do(func() {
		o.queue.Close()
		o.store.freeze()
		if !wasActive {
			return
		}
		o.cancel()
		if err := o.session.Close(); err != nil {
			o.logger.Warn("closing recognizer session failed", "error", err)
		}
		<-o.feederDone
		<-o.consumerDone
		o.metrics.ActiveSessions.Add(context.Background(), -1)
		o.logger.Warn("recognition session aborted")
	})
}

// FrozenTranscript returns the transcript once no further result can be
// merged, i.e. after Finalize completed or the session was aborted.
func (o *Orchestrator) FrozenTranscript() (domain.Transcript, error) {
	switch o.State() {
	case domain.OrchestratorFinalized, domain.OrchestratorAborted:
		return o.store.snapshot(), nil
	default:
		return domain.Transcript{}, domain.ErrNotFinalized
	}
}

func (o *Orchestrator) setState(state domain.OrchestratorState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
}

// MatchLocale finds requested in available after BCP-47 canonicalisation
// ("en_US" matches "en-US"). It returns the available spelling.
func MatchLocale(requested string, available []string) (string, bool) {
	want, err := canonicalLocale(requested)
	if err != nil {
		return "", false
	}
	for _, candidate := range available {
		got, err := canonicalLocale(candidate)
		if err != nil {
			continue
		}
		if got == want {
			return candidate, true
		}
	}
	return "", false
}

func canonicalLocale(locale string) (string, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return "", err
	}
	return tag.String(), nil
}
