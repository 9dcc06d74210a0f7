// Package app wires all Sarvis subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture and worker tasks, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithSessionStore,
// WithFeedbackGate, WithFS, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sarvis/internal/collector"
	"github.com/MrWong99/sarvis/internal/command"
	"github.com/MrWong99/sarvis/internal/config"
	"github.com/MrWong99/sarvis/internal/dispatch"
	"github.com/MrWong99/sarvis/internal/eventhub"
	"github.com/MrWong99/sarvis/internal/fault"
	"github.com/MrWong99/sarvis/internal/feedback"
	"github.com/MrWong99/sarvis/internal/health"
	"github.com/MrWong99/sarvis/internal/observe"
	"github.com/MrWong99/sarvis/internal/pipeline"
	"github.com/MrWong99/sarvis/internal/resilience"
	"github.com/MrWong99/sarvis/internal/segment"
	"github.com/MrWong99/sarvis/internal/session"
	"github.com/MrWong99/sarvis/internal/speaker"
	"github.com/MrWong99/sarvis/internal/wake"
	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/profile"
	"github.com/MrWong99/sarvis/pkg/provider/kws"
	"github.com/MrWong99/sarvis/pkg/provider/llm"
	"github.com/MrWong99/sarvis/pkg/provider/stt"
	"github.com/MrWong99/sarvis/pkg/provider/vad"
	"github.com/MrWong99/sarvis/pkg/provider/voiceprint"
)

const (
	// workerTick is the pipeline tick cadence and the longest the worker
	// waits for a segment.
	workerTick = 100 * time.Millisecond

	// levelPeriod throttles "level" events.
	levelPeriod = 500 * time.Millisecond
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	Source audio.Source
	VAD    vad.Engine
	KWS    kws.Classifier
	STT    stt.Provider

	// Voiceprint and Profiles may be nil when speaker verification is
	// bypassed.
	Voiceprint voiceprint.Embedder
	Profiles   profile.Store

	// LLM is only needed for the "llm" command fallback.
	LLM llm.Provider
}

// App owns all subsystem lifetimes and runs the voice command pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	fs         afero.Fs
	httpClient *http.Client
	metrics    *observe.Metrics
	hub        *eventhub.Hub
	sessions   session.Store
	feedback   pipeline.FeedbackGate

	// Subsystems, initialised in New and torn down in Shutdown.
	segmenter  *segment.Segmenter
	detector   *wake.Detector
	validator  *wake.Validator
	verifier   *speaker.Verifier
	pipe       *pipeline.Pipeline
	dispatcher *dispatch.Dispatcher
	gate       *session.Gate
	health     *health.Handler

	queue     chan audio.Segment
	reloads   chan *config.Config
	capturing atomic.Bool
	mode      atomic.Int32 // pipeline.Mode, mirrored for the ops server
	lastLevel time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFS replaces the OS filesystem used for session markers and the command
// archive.
func WithFS(fsys afero.Fs) Option {
	return func(a *App) { a.fs = fsys }
}

// WithHTTPClient replaces the HTTP client shared by every remote call.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithMetrics replaces the default metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSessionStore injects a login state store instead of the marker files.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithFeedbackGate injects a feedback gate instead of creating one from
// config.
func WithFeedbackGate(g pipeline.FeedbackGate) Option {
	return func(a *App) { a.feedback = g }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := checkProviders(cfg, providers); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{
		cfg:        cfg,
		providers:  providers,
		fs:         afero.NewOsFs(),
		httpClient: &http.Client{},
		queue:      make(chan audio.Segment, cfg.Audio.QueueSize),
		reloads:    make(chan *config.Config, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.hub = eventhub.New(eventhub.WithMetrics(a.metrics), eventhub.WithOriginPatterns(cfg.Server.EventOrigins...))
	a.closers = append(a.closers, providers.Source.Close)

	// ── 1. Segmenter ─────────────────────────────────────────────────────
	if err := a.initSegmenter(); err != nil {
		return nil, fmt.Errorf("app: init segmenter: %w", err)
	}

	// ── 2. Pipeline stages ───────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 3. Dispatcher ────────────────────────────────────────────────────
	d, err := dispatch.New(cfg.Endpoints.BackendURL, cfg.Endpoints.ActuatorURL,
		dispatch.WithHTTPClient(a.httpClient),
		dispatch.WithMoveRepeat(cfg.Dispatch.MoveRepeat, cfg.Dispatch.MoveInterval),
		dispatch.WithTimeouts(cfg.Dispatch.AppTimeout, cfg.Dispatch.ActuatorTimeout),
		dispatch.WithPublisher(a.hub),
		dispatch.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init dispatcher: %w", err)
	}
	a.dispatcher = d

	// ── 4. Session gate ──────────────────────────────────────────────────
	a.initSession()

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New([]health.Checker{
		{Name: "capture", Check: func(context.Context) error {
			if !a.capturing.Load() {
				return errors.New("capture is not running")
			}
			return nil
		}},
		{Name: "session", Check: func(context.Context) error {
			if _, ok := a.gate.Enabled(); !ok {
				return fmt.Errorf("pipeline disabled: %s", a.gate.Session().Reason())
			}
			return nil
		}},
	}, health.WithStatus(a.status))

	slog.Info("app initialised",
		"format", providers.Source.Format(),
		"wake_policy", cfg.Wake.Validation.Policy,
		"validation", cfg.Wake.Validation.Enabled,
		"speaker_bypass", cfg.Speaker.Bypass,
		"command_fallback", cfg.Command.Fallback,
	)
	return a, nil
}

func checkProviders(cfg *config.Config, p *Providers) error {
	if p == nil {
		return errors.New("providers are required")
	}
	var errs []error
	if p.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if p.KWS == nil {
		errs = append(errs, errors.New("kws classifier is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if !cfg.Speaker.Bypass && (p.Voiceprint == nil || p.Profiles == nil) {
		errs = append(errs, errors.New("voiceprint embedder and profile store are required unless speaker.bypass is set"))
	}
	if cfg.Command.Fallback == "llm" && p.LLM == nil {
		errs = append(errs, errors.New("llm provider is required for command.fallback llm"))
	}
	return errors.Join(errs...)
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// vadConfig returns the VAD session config for the source format.
func (a *App) vadConfig() vad.Config {
	f := a.providers.Source.Format()
	return vad.Config{
		SampleRate:       f.SampleRate,
		FrameSizeMs:      int(f.FrameDuration / time.Millisecond),
		SpeechThreshold:  a.cfg.Segment.SpeechThreshold,
		SilenceThreshold: a.cfg.Segment.SilenceThreshold,
	}
}

// initSegmenter opens the capture VAD session and the segmenter around it.
func (a *App) initSegmenter() error {
	sess, err := a.providers.VAD.NewSession(a.vadConfig())
	if err != nil {
		return fmt.Errorf("open vad session: %w", err)
	}
	a.closers = append(a.closers, sess.Close)

	sc := a.cfg.Segment
	seg, err := segment.New(segment.Config{
		Format:         a.providers.Source.Format(),
		PreRoll:        sc.PreRoll,
		TriggerRatio:   sc.TriggerRatio,
		SilenceTimeout: sc.SilenceTimeout,
		MaxLength:      sc.MaxLength,
		MinDuration:    sc.MinDuration,
		RMSGate:        sc.RMSGate,
		RMSEMAAlpha:    sc.RMSEMAAlpha,
	}, sess,
		segment.WithLevelMeter(a.publishLevel),
		segment.WithDiscardFunc(func(d time.Duration) {
			a.metrics.RecordSegmentDropped(context.Background(), "too_short")
			slog.Debug("capture: short segment discarded", "duration", d)
		}),
	)
	if err != nil {
		return err
	}
	a.segmenter = seg
	return nil
}

// publishLevel streams the input level to event clients at most every
// levelPeriod. Runs on the capture goroutine.
func (a *App) publishLevel(rms, dbfs float64) {
	now := time.Now()
	if now.Sub(a.lastLevel) < levelPeriod || a.hub.Subscribers() == 0 {
		return
	}
	a.lastLevel = now
	a.hub.Publish("level", levelEvent{RMS: rms, DBFS: dbfs, Gate: a.cfg.Segment.RMSGate})
}

// initPipeline builds the wake, speaker, feedback and parser stages and the
// pipeline that owns them.
func (a *App) initPipeline() error {
	cfg := a.cfg

	det, err := wake.NewDetector(a.providers.KWS,
		wake.WithThreshold(cfg.Wake.Threshold),
		wake.WithClip(cfg.Wake.Clip),
	)
	if err != nil {
		return err
	}
	a.detector = det

	policy := &wake.Policy{Detector: det}
	if vc := cfg.Wake.Validation; vc.Enabled {
		mode, err := wake.ParseMode(string(vc.Policy))
		if err != nil {
			return err
		}
		matcher, err := a.newMatcher(vc.Matcher)
		if err != nil {
			return err
		}
		vopts := []wake.ValidatorOption{
			wake.WithLanguage(cfg.Command.Language),
			wake.WithTimeouts(vc.STTTimeout, vc.VerifyTimeout),
			wake.WithMinConfidence(vc.MinConfidence),
		}
		if len(vc.Targets) > 0 {
			vopts = append(vopts, wake.WithTargets(vc.Targets...))
		}
		val, err := wake.NewValidator(a.providers.STT, matcher, vopts...)
		if err != nil {
			return err
		}
		a.validator = val
		policy.Validator, policy.Mode = val, mode
	}

	ver, err := speaker.New(speaker.Config{
		Threshold:      cfg.Speaker.Threshold,
		MinSegment:     cfg.Speaker.MinSegment,
		Bypass:         cfg.Speaker.Bypass,
		BypassUID:      cfg.Speaker.BypassUID,
		NoiseReduction: config.Bool(cfg.Speaker.NoiseReduction),
	}, a.providers.Voiceprint, a.providers.Profiles, speaker.WithSessionUID(a.sessionUID))
	if err != nil {
		return err
	}
	a.verifier = ver

	if a.feedback == nil {
		fb, err := a.newFeedback()
		if err != nil {
			return err
		}
		a.feedback = fb
	}

	parser, err := a.newParser()
	if err != nil {
		return err
	}

	measureSess, err := a.providers.VAD.NewSession(a.vadConfig())
	if err != nil {
		return fmt.Errorf("open measurement vad session: %w", err)
	}
	a.closers = append(a.closers, measureSess.Close)
	frameSamples := a.providers.Source.Format().SamplesPerFrame()

	popts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithTransitionFunc(func(t pipeline.Transition) {
			a.mode.Store(int32(t.To))
			a.hub.Publish("state", stateEvent{From: t.From.String(), To: t.To.String(), Reason: t.Reason})
		}),
		pipeline.WithGateDone(func() {
			if n := audio.Discard(a.queue); n > 0 {
				slog.Debug("worker: discarded segments captured during feedback", "count", n)
			}
		}),
	}
	if dir := cfg.Command.ArchiveDir; dir != "" {
		popts = append(popts, pipeline.WithArchive(a.fs, dir))
	}

	p, err := pipeline.New(pipeline.Config{
		MinWakeSegment: cfg.Wake.MinSegment,
		Language:       cfg.Command.Language,
		STTTimeout:     cfg.Command.STTTimeout,
		State: pipeline.StateConfig{
			ActiveTimeout: cfg.Command.ActiveTimeout,
			Cooldown:      cfg.Command.Cooldown,
			SpeakerCache:  cfg.Command.SpeakerCache,
		},
		Collector: collectorConfig(cfg.Command),
	}, pipeline.Stages{
		Wake:     policy,
		Speaker:  ver,
		Feedback: a.feedback,
		STT:      a.providers.STT,
		Parser:   parser,
		Measure: func(seg audio.Segment) segment.Stats {
			return segment.Measure(seg, measureSess, frameSamples)
		},
	}, popts...)
	if err != nil {
		return err
	}
	a.pipe = p
	return nil
}

func (a *App) newMatcher(name string) (wake.Matcher, error) {
	switch name {
	case "local":
		return &wake.LocalMatcher{}, nil
	default:
		return wake.NewRemoteMatcher(a.cfg.Endpoints.ProxyURL,
			wake.WithRemoteToken(a.cfg.Endpoints.ProxyToken),
			wake.WithRemoteHTTPClient(a.httpClient),
		)
	}
}

// newFeedback returns the backend feedback gate, or [feedback.Skip] when
// feedback is disabled.
func (a *App) newFeedback() (pipeline.FeedbackGate, error) {
	fc := a.cfg.Feedback
	if fc.Disabled {
		slog.Info("feedback gate skipped")
		return feedback.Skip{}, nil
	}
	return feedback.New(a.cfg.Endpoints.BackendURL,
		feedback.WithPath(fc.Path),
		feedback.WithTimeout(fc.Timeout),
		feedback.WithHTTPClient(a.httpClient),
		feedback.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  fc.BreakerFailures,
			ResetTimeout: fc.BreakerReset,
			OnStateChange: func(name string, from, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		}),
	)
}

func (a *App) newParser() (*command.Parser, error) {
	cc := a.cfg.Command
	var fb command.Fallback
	switch cc.Fallback {
	case "remote":
		rf, err := command.NewRemoteFallback(a.cfg.Endpoints.ProxyURL,
			command.WithToken(a.cfg.Endpoints.ProxyToken),
			command.WithHTTPClient(a.httpClient),
		)
		if err != nil {
			return nil, err
		}
		fb = rf
	case "llm":
		lf, err := command.NewLLMFallback(a.providers.LLM)
		if err != nil {
			return nil, err
		}
		fb = lf
	}
	return command.NewParser(fb, command.WithFallbackTimeout(cc.FallbackTimeout)), nil
}

// initSession creates the login gate over the marker files or the injected
// store.
func (a *App) initSession() {
	if a.sessions == nil {
		a.sessions = session.NewFileStore(a.fs, a.cfg.Session.Dir, session.WithMaxAge(a.cfg.Session.MaxAge))
	}
	a.gate = session.NewGate(session.GateConfig{
		Store:    a.sessions,
		Interval: a.cfg.Session.PollInterval,
		OnChange: func(s session.Session) {
			a.hub.Publish("session", sessionEvent{UID: s.UID, Enabled: s.Enabled(), Reason: s.Reason()})
		},
	})
}

func (a *App) sessionUID() string {
	uid, _ := a.gate.Enabled()
	return uid
}

// status is the /healthz pipeline snapshot.
func (a *App) status() map[string]string {
	st := map[string]string{
		"mode":      pipeline.Mode(a.mode.Load()).String(),
		"capturing": strconv.FormatBool(a.capturing.Load()),
		"queued":    strconv.Itoa(len(a.queue)),
	}
	sess := a.gate.Session()
	if sess.Enabled() {
		st["uid"] = sess.UID
	} else {
		st["disabled"] = sess.Reason()
	}
	return st
}

// collectorConfig maps the command section onto the collector thresholds.
func collectorConfig(c config.CommandConfig) collector.Config {
	return collector.Config{
		WakeWait:        c.WakeWait,
		FallbackAfter:   c.FallbackAfter,
		StartMin:        c.StartMin,
		SilenceFinalize: c.SilenceFinalize,
		MaxDuration:     c.MaxDuration,
		IgnoreRMS:       c.IgnoreRMS,
		StartRMS:        c.StartRMS,
		FallbackRMS:     c.FallbackRMS,
		FallbackEnabled: config.Bool(c.FallbackEnabled),
		MinSpeechRatio:  c.MinSpeechRatio,
		PreBuffer:       config.Bool(c.PreBuffer),
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Events returns the hub that streams pipeline events.
func (a *App) Events() *eventhub.Hub { return a.hub }

// Handler returns the ops HTTP handler: /metrics, /healthz, /readyz and
// /events.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /events", a.hub)
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig hands a reloaded config to the worker. Only the fields listed
// in diff take effect; restart-only sections are logged. Safe to call from
// any goroutine.
func (a *App) ApplyConfig(diff config.ConfigDiff, cfg *config.Config) {
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config reload: some changes need a restart", "sections", diff.RestartRequired)
	}
	if !diff.WakeThresholdChanged && !diff.ValidationConfidenceChanged &&
		!diff.SpeakerThresholdChanged && !diff.CollectorChanged {
		return
	}
	// Keep only the newest pending config.
	select {
	case <-a.reloads:
	default:
	}
	a.reloads <- cfg
}

// applyReload runs on the worker goroutine, which owns every target.
func (a *App) applyReload(cfg *config.Config) {
	a.detector.SetThreshold(cfg.Wake.Threshold)
	if a.validator != nil {
		a.validator.SetMinConfidence(cfg.Wake.Validation.MinConfidence)
	}
	a.verifier.SetThreshold(cfg.Speaker.Threshold)
	if err := a.pipe.SetCollectorConfig(collectorConfig(cfg.Command)); err != nil {
		slog.Warn("config reload: collector settings rejected", "error", err)
	}
	slog.Info("config reload: thresholds applied",
		"wake_threshold", cfg.Wake.Threshold,
		"validation_confidence", cfg.Wake.Validation.MinConfidence,
		"speaker_threshold", cfg.Speaker.Threshold,
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the capture, session, worker and ops HTTP tasks and blocks until
// ctx is cancelled or a task fails. A device failure ends Run with a
// fault.Device error; cancellation returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_ = a.gate.Run(gctx)
		return nil
	})
	g.Go(func() error { return a.capture(gctx) })
	g.Go(func() error { return a.work(gctx) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	slog.Info("app running", "queue", cap(a.queue))
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// capture reads frames, segments them and enqueues finished segments. It
// owns the segmenter. Frames are dropped while the session gate is closed.
func (a *App) capture(ctx context.Context) error {
	a.capturing.Store(true)
	defer a.capturing.Store(false)

	src := a.providers.Source
	enabled := false
	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				slog.Info("capture: audio source exhausted")
				return nil
			}
			err = fault.DeviceError(err)
			slog.Error("capture: audio source failed", "error", err)
			return err
		}

		if _, ok := a.gate.Enabled(); !ok {
			if enabled {
				a.segmenter.Reset()
			}
			enabled = false
			continue
		}
		enabled = true

		seg, done, err := a.segmenter.Push(frame)
		if err != nil {
			a.logFault(fault.InferenceError("vad", err))
			continue
		}
		if done {
			a.enqueue(ctx, seg)
		}
	}
}

// enqueue hands seg to the worker without blocking. A full queue drops the
// newest segment.
func (a *App) enqueue(ctx context.Context, seg audio.Segment) {
	select {
	case a.queue <- seg:
		slog.Debug("capture: segment queued", "segment", seg.Index, "duration", seg.Duration())
	default:
		a.metrics.RecordSegmentDropped(ctx, "queue_full")
		slog.Warn("capture: segment queue full, segment dropped", "segment", seg.Index)
	}
}

// work is the single consumer of the queue and the only goroutine touching
// the pipeline.
func (a *App) work(ctx context.Context) error {
	ticker := time.NewTicker(workerTick)
	defer ticker.Stop()

	enabled := false
	for {
		uid, ok := a.gate.Enabled()
		if !ok {
			if enabled {
				a.pipe.Reset(ctx, "session_disabled")
			}
			enabled = false
			if n := audio.Discard(a.queue); n > 0 {
				slog.Debug("worker: pipeline disabled, segments discarded", "count", n)
			}
		} else {
			enabled = true
		}

		var (
			res *command.Result
			err error
		)
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-a.reloads:
			a.applyReload(cfg)
			continue
		case seg := <-a.queue:
			if !enabled {
				continue
			}
			res, err = a.pipe.HandleSegment(ctx, seg)
			a.handle(ctx, uid, res, err)
		case <-ticker.C:
		}

		if enabled {
			res, err = a.pipe.Tick(ctx)
			a.handle(ctx, uid, res, err)
		}
	}
}

// handle logs a fault and dispatches a result.
func (a *App) handle(ctx context.Context, uid string, res *command.Result, err error) {
	if err != nil {
		a.logFault(err)
	}
	if res == nil {
		return
	}
	// Delivery failures are logged and published by the dispatcher.
	_ = a.dispatcher.Dispatch(ctx, uid, *res)
}

// logFault logs err at a level matching its kind. Rejections are expected
// under normal false-trigger noise.
func (a *App) logFault(err error) {
	kind := fault.KindOf(err)
	if kind == fault.ValidationRejected {
		slog.Debug("pipeline: rejected", "error", err)
		return
	}
	slog.Warn("pipeline: fault", "kind", kind, "error", err)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// AddCloser registers fn to run during Shutdown after the app's own
// closers. main uses it for providers that hold resources.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ─── Events ──────────────────────────────────────────────────────────────────

type stateEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type sessionEvent struct {
	UID     string `json:"uid,omitempty"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

type levelEvent struct {
	RMS  float64 `json:"rms"`
	DBFS float64 `json:"dbfs"`
	Gate float64 `json:"gate"`
}
