// Package pipeline owns the voice command state: it runs wake detection and
// speaker verification on idle segments, opens the feedback gate, feeds the
// command collector while active and turns a finalized command into a
// [command.Result].
//
// A [Pipeline] is driven by a single worker goroutine through
// [Pipeline.HandleSegment] for every queued segment and [Pipeline.Tick] on a
// steady cadence, even when no audio arrives, so that deadlines fire during
// silence. It is not safe for concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/MrWong99/sarvis/internal/collector"
	"github.com/MrWong99/sarvis/internal/command"
	"github.com/MrWong99/sarvis/internal/fault"
	"github.com/MrWong99/sarvis/internal/feedback"
	"github.com/MrWong99/sarvis/internal/observe"
	"github.com/MrWong99/sarvis/internal/segment"
	"github.com/MrWong99/sarvis/internal/speaker"
	"github.com/MrWong99/sarvis/internal/wake"
	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/provider/stt"
)

// UnknownSpeaker attributes commands whose speaker cache has expired.
const UnknownSpeaker = "unknown"

// WakeEvaluator decides whether a segment is the wake phrase.
// *wake.Policy implements it.
type WakeEvaluator interface {
	Evaluate(ctx context.Context, seg audio.Segment) (wake.Decision, error)
}

// SpeakerVerifier identifies the enrolled speaker of a segment.
// *speaker.Verifier implements it.
type SpeakerVerifier interface {
	Verify(ctx context.Context, seg audio.Segment) (speaker.Verification, error)
}

// FeedbackGate asks the paired app for an acknowledgement.
// *feedback.Gate implements it.
type FeedbackGate interface {
	Trigger(ctx context.Context, uid string) (feedback.Outcome, error)
}

// CommandParser turns a transcript into a result. *command.Parser
// implements it.
type CommandParser interface {
	Parse(ctx context.Context, text string, mode command.Mode, speakerID, requestID string) command.Result
}

// Measurer computes the level and speech ratio of a segment.
type Measurer func(audio.Segment) segment.Stats

// Config holds the pipeline tuning.
type Config struct {
	// MinWakeSegment is the shortest segment considered for wake detection.
	MinWakeSegment time.Duration

	// Language is the STT language hint for commands.
	Language string

	// STTTimeout bounds command transcription. Default 6 s.
	STTTimeout time.Duration

	State     StateConfig
	Collector collector.Config
}

// Stages bundles the collaborators of a Pipeline. All fields are required.
type Stages struct {
	Wake     WakeEvaluator
	Speaker  SpeakerVerifier
	Feedback FeedbackGate
	STT      stt.Provider
	Parser   CommandParser
	Measure  Measurer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics replaces the default metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTransitionFunc registers fn to observe every mode change.
func WithTransitionFunc(fn func(Transition)) Option {
	return func(p *Pipeline) { p.onTransition = fn }
}

// WithGateDone registers fn to run after every feedback trigger returns,
// whatever the outcome. The worker uses it to discard audio captured while
// the gate was outstanding.
func WithGateDone(fn func()) Option {
	return func(p *Pipeline) { p.onGateDone = fn }
}

// WithArchive writes every finalized command as cmd_<request id>.wav into dir
// on fs.
func WithArchive(fs afero.Fs, dir string) Option {
	return func(p *Pipeline) { p.archiveFS, p.archiveDir = fs, dir }
}

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(fn func() string) Option {
	return func(p *Pipeline) { p.newRequestID = fn }
}

// Pipeline is the worker-owned state of the voice command flow.
type Pipeline struct {
	cfg    Config
	stages Stages

	sm      *StateMachine
	col     *collector.Collector
	runtime *command.RuntimeState
	metrics *observe.Metrics

	now          func() time.Time
	onTransition func(Transition)
	onGateDone   func()
	newRequestID func() string

	archiveFS  afero.Fs
	archiveDir string
}

// New validates cfg and returns an idle Pipeline.
func New(cfg Config, stages Stages, opts ...Option) (*Pipeline, error) {
	var errs []error
	if stages.Wake == nil {
		errs = append(errs, errors.New("pipeline: wake evaluator is required"))
	}
	if stages.Speaker == nil {
		errs = append(errs, errors.New("pipeline: speaker verifier is required"))
	}
	if stages.Feedback == nil {
		errs = append(errs, errors.New("pipeline: feedback gate is required"))
	}
	if stages.STT == nil {
		errs = append(errs, errors.New("pipeline: stt provider is required"))
	}
	if stages.Parser == nil {
		errs = append(errs, errors.New("pipeline: command parser is required"))
	}
	if stages.Measure == nil {
		errs = append(errs, errors.New("pipeline: measurer is required"))
	}
	if err := cfg.Collector.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.STTTimeout <= 0 {
		cfg.STTTimeout = 6 * time.Second
	}

	p := &Pipeline{
		cfg:          cfg,
		stages:       stages,
		sm:           NewStateMachine(cfg.State),
		runtime:      command.NewRuntimeState(),
		metrics:      observe.DefaultMetrics(),
		now:          time.Now,
		newRequestID: NewRequestID,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewRequestID returns a 12 hex character id for one command attempt.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Mode returns the current mode.
func (p *Pipeline) Mode() Mode { return p.sm.Mode() }

// CommandMode returns the command runtime mode.
func (p *Pipeline) CommandMode() command.Mode { return p.runtime.Mode() }

// CollectorPhase returns the phase of the active command attempt and false
// when there is none.
func (p *Pipeline) CollectorPhase() (collector.Phase, bool) {
	if p.col == nil {
		return 0, false
	}
	return p.col.Phase(), true
}

// SetCollectorConfig replaces the collector thresholds for future attempts.
func (p *Pipeline) SetCollectorConfig(cfg collector.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfg.Collector = cfg
	return nil
}

// HandleSegment processes one segment. It returns a result when the segment
// completed a command. A non-nil error is a classified fault for the
// segment; the pipeline has already recovered from it.
func (p *Pipeline) HandleSegment(ctx context.Context, seg audio.Segment) (*command.Result, error) {
	now := p.now()
	p.tickState(ctx, now)

	switch p.sm.Mode() {
	case Cooldown:
		p.metrics.RecordSegmentDropped(ctx, "cooldown")
		slog.Debug("pipeline: segment during cooldown dropped", "segment", seg.Index)
		return nil, nil
	case Active:
		return p.handleCommand(ctx, seg, now)
	default:
		return nil, p.handleWake(ctx, seg)
	}
}

// Tick enforces timeouts. Call it on every worker iteration.
func (p *Pipeline) Tick(ctx context.Context) (*command.Result, error) {
	now := p.now()
	if p.sm.Mode() == Active && p.col != nil {
		if p.col.Phase() == collector.AwaitingStart {
			// The wake-wait window governs until the command starts.
			p.sm.Refresh(now)
		}
		switch p.col.Tick(now) {
		case collector.Finalize:
			return p.finalize(ctx)
		case collector.Expired:
			p.reset(ctx, "wake_wait")
			return nil, nil
		}
	}
	p.tickState(ctx, now)
	return nil, nil
}

// Reset abandons any attempt and returns to Idle. The command mode is kept.
func (p *Pipeline) Reset(ctx context.Context, reason string) {
	p.reset(ctx, reason)
}

func (p *Pipeline) tickState(ctx context.Context, now time.Time) {
	if t, ok := p.sm.Tick(now); ok {
		if t.From == Active && p.col != nil {
			slog.Info("pipeline: active deadline passed, command dropped", "phase", p.col.Phase())
			p.col = nil
		}
		p.transition(ctx, t)
	}
}

func (p *Pipeline) handleWake(ctx context.Context, seg audio.Segment) error {
	if seg.Duration() < p.cfg.MinWakeSegment {
		p.metrics.RecordSegmentDropped(ctx, "too_short")
		return fault.Rejected("wake", fmt.Sprintf("segment %s < %s", seg.Duration(), p.cfg.MinWakeSegment))
	}

	start := time.Now()
	dec, err := p.stages.Wake.Evaluate(ctx, seg)
	p.metrics.KWSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fault.InferenceError("wake", err)
	}
	if dec.Detection.Accepted {
		p.metrics.WakeDetected.Add(ctx, 1)
	}
	if dec.Validated {
		if dec.Validation.Valid {
			p.metrics.WakeValidated.Add(ctx, 1)
		} else {
			p.metrics.WakeValidationFailed.Add(ctx, 1)
		}
	}
	if !dec.Accepted {
		return fault.Rejected("wake", fmt.Sprintf("label=%s kws_conf=%.3f validated=%t valid=%t (%s)",
			dec.Detection.RawLabel, dec.Detection.Confidence, dec.Validated, dec.Validation.Valid, dec.Validation.Reason))
	}
	slog.Info("pipeline: wake accepted", "segment", seg.Index, "by", dec.By,
		"kws_conf", dec.Detection.Confidence, "stt_conf", dec.Validation.Confidence)

	start = time.Now()
	v, err := p.stages.Speaker.Verify(ctx, seg)
	p.metrics.SpeakerDuration.Record(ctx, time.Since(start).Seconds())
	switch {
	case err != nil && fault.KindOf(err) == fault.ValidationRejected:
		p.metrics.RecordSpeaker(ctx, "rejected")
		return err
	case err != nil:
		p.metrics.RecordSpeaker(ctx, "error")
		return err
	case !v.Accepted:
		p.metrics.RecordSpeaker(ctx, "rejected")
		return fault.Rejected("speaker", fmt.Sprintf("similarity %.3f", v.Similarity))
	case v.Bypassed:
		p.metrics.RecordSpeaker(ctx, "bypassed")
	default:
		p.metrics.RecordSpeaker(ctx, "accepted")
	}
	slog.Info("pipeline: speaker verified", "speaker_id", v.SpeakerID, "similarity", v.Similarity, "bypassed", v.Bypassed)

	start = time.Now()
	outcome, err := p.stages.Feedback.Trigger(ctx, v.SpeakerID)
	p.metrics.RecordFeedback(ctx, outcome.String(), time.Since(start))
	if p.onGateDone != nil {
		p.onGateDone()
	}
	if outcome != feedback.Success {
		if err == nil {
			err = fault.Rejected("feedback", outcome.String())
		}
		return err
	}

	now := p.now()
	p.sm.SetSpeaker(v.SpeakerID, now)
	p.transition(ctx, p.sm.EnterActive(now))
	col, err := collector.New(p.cfg.Collector, now)
	if err != nil {
		p.reset(ctx, "collector_config")
		return fmt.Errorf("pipeline: %w", err)
	}
	p.col = col
	slog.Info("pipeline: feedback confirmed, awaiting command", "speaker_id", v.SpeakerID)
	return nil
}

func (p *Pipeline) handleCommand(ctx context.Context, seg audio.Segment, now time.Time) (*command.Result, error) {
	if p.col == nil {
		p.reset(ctx, "no_collector")
		return nil, nil
	}
	if p.col.Phase() == collector.AwaitingStart && !p.sm.CanStartCommand(now) {
		p.metrics.RecordSegmentDropped(ctx, "cooldown")
		return nil, nil
	}

	st := p.stages.Measure(seg)
	before := p.col.Phase()
	d := p.col.Offer(seg, st, now)
	slog.Debug("pipeline: command segment", "segment", seg.Index, "rms", st.RMS,
		"speech_ratio", st.SpeechRatio, "decision", d, "phase", p.col.Phase())

	switch d {
	case collector.Accepted:
		p.sm.Refresh(now)
	case collector.Started:
		p.sm.Refresh(now)
		p.metrics.RecordCommandStarted(ctx, string(p.col.Path()))
	case collector.Finalize:
		if before == collector.AwaitingStart {
			p.metrics.RecordCommandStarted(ctx, string(p.col.Path()))
		}
		return p.finalize(ctx)
	case collector.FormatChanged:
		p.metrics.RecordSegmentDropped(ctx, "format_changed")
		p.reset(ctx, "format_changed")
	case collector.Ignored:
		p.metrics.RecordSegmentDropped(ctx, "below_threshold")
	}
	return nil, nil
}

// finalize consumes the collector. A non-empty command always yields exactly
// one result.
func (p *Pipeline) finalize(ctx context.Context) (*command.Result, error) {
	col := p.col
	p.col = nil
	if col.Path() == collector.PathForced {
		p.metrics.RecordCommandStarted(ctx, string(collector.PathForced))
	}
	seg, reason, ok := col.Take()
	if !ok {
		p.reset(ctx, "empty_command")
		return nil, nil
	}
	p.metrics.RecordCommandFinalized(ctx, string(reason))

	requestID := p.newRequestID()
	speakerID := p.sm.Speaker(p.now())
	if speakerID == "" {
		speakerID = UnknownSpeaker
	}
	ctx, span := observe.StartCommandSpan(ctx, requestID, speakerID)
	defer span.End()
	log := observe.Logger(ctx).With("request_id", requestID, "speaker_id", speakerID)
	log.Info("pipeline: command finalized", "reason", reason, "duration", seg.Duration())

	if p.archiveFS != nil {
		if err := p.archive(seg, requestID); err != nil {
			log.Warn("pipeline: archive command audio", "error", err)
		}
	}

	res := p.transcribeAndParse(ctx, log, seg, speakerID, requestID)
	if p.runtime.Apply(res) {
		log.Info("pipeline: command mode changed", "mode", p.runtime.Mode())
	}
	p.metrics.RecordCommandResult(ctx, res.Kind.String())
	span.SetAttributes(observe.OutcomeKey.String(res.Kind.String()))
	log.Info("pipeline: command result", "result", res.String(), "asr", res.Transcript)

	p.transition(ctx, p.sm.MarkExecuted(p.now()))
	return &res, nil
}

func (p *Pipeline) transcribeAndParse(ctx context.Context, log *slog.Logger, seg audio.Segment, speakerID, requestID string) command.Result {
	sttCtx, cancel := context.WithTimeout(ctx, p.cfg.STTTimeout)
	defer cancel()

	start := time.Now()
	tr, err := p.stages.STT.Transcribe(sttCtx, stt.RequestFor(seg, p.cfg.Language))
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		ferr := fault.FromHTTP("stt", err)
		reason := "stt_error"
		if errors.Is(ferr, fault.ErrNetworkTimeout) {
			reason = "stt_timeout"
		}
		log.Warn("pipeline: transcription failed", "reason", reason, "error", ferr)
		return command.Reject(reason).Attributed("", speakerID, requestID)
	}
	return p.stages.Parser.Parse(ctx, tr.Text, p.runtime.Mode(), speakerID, requestID)
}

func (p *Pipeline) archive(seg audio.Segment, requestID string) error {
	data, err := audio.EncodeWAV(seg.Samples, seg.SampleRate)
	if err != nil {
		return err
	}
	if err := p.archiveFS.MkdirAll(p.archiveDir, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(p.archiveFS, path.Join(p.archiveDir, "cmd_"+requestID+".wav"), data, 0o644)
}

func (p *Pipeline) reset(ctx context.Context, reason string) {
	p.col = nil
	if t, ok := p.sm.Reset(reason); ok {
		p.transition(ctx, t)
	}
}

func (p *Pipeline) transition(ctx context.Context, t Transition) {
	p.metrics.RecordTransition(ctx, t.From.String(), t.To.String())
	slog.Debug("pipeline: state", "from", t.From, "to", t.To, "reason", t.Reason)
	if p.onTransition != nil {
		p.onTransition(t)
	}
}
