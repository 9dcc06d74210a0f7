// Package collector gathers the follow-up command after a verified wake.
//
// A [Collector] lives for one command attempt. It starts in
// [AwaitingStart], where segments must clear a start threshold (or, late in
// the wake-wait window, a lower fallback threshold) before accumulation
// counts. Once enough audio is accumulated it moves to [Collecting] and
// appends every speech-like segment until silence or the length cap ends the
// command. The buffered audio is then handed out exactly once by
// [Collector.Take].
//
// A Collector is not safe for concurrent use; the pipeline worker owns it.
package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/sarvis/internal/segment"
	"github.com/MrWong99/sarvis/pkg/audio"
)

// Config holds the collection thresholds. RMS values are in 16-bit PCM units.
type Config struct {
	// WakeWait is how long to wait for the command to start.
	WakeWait time.Duration

	// FallbackAfter is the time after entry from which the fallback start
	// threshold applies. Zero means half of WakeWait.
	FallbackAfter time.Duration

	// StartMin is the accumulated audio needed before the command counts as
	// started.
	StartMin time.Duration

	// SilenceFinalize ends a started command after this long without a new
	// accepted segment.
	SilenceFinalize time.Duration

	// MaxDuration caps the collected audio. Reaching it forces finalization.
	MaxDuration time.Duration

	// IgnoreRMS is the floor below which segments are never buffered.
	IgnoreRMS float64

	// StartRMS is the primary start threshold.
	StartRMS float64

	// FallbackRMS is the lower start threshold used after FallbackAfter.
	FallbackRMS float64

	// FallbackEnabled turns the fallback threshold and the forced start at
	// the end of WakeWait on.
	FallbackEnabled bool

	// MinSpeechRatio is the VAD speech fraction a segment needs to count as
	// speech.
	MinSpeechRatio float64

	// PreBuffer keeps segments above IgnoreRMS seen before the start and
	// moves them into the command once it starts. At most MaxDuration of the
	// newest such audio is kept.
	PreBuffer bool
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.WakeWait <= 0 {
		errs = append(errs, errors.New("collector: wake_wait must be positive"))
	}
	if c.SilenceFinalize <= 0 {
		errs = append(errs, errors.New("collector: silence_finalize must be positive"))
	}
	if c.MaxDuration <= c.StartMin {
		errs = append(errs, fmt.Errorf("collector: max_duration %s must exceed start_min %s", c.MaxDuration, c.StartMin))
	}
	if c.FallbackAfter < 0 || c.FallbackAfter > c.WakeWait {
		errs = append(errs, fmt.Errorf("collector: fallback_after %s out of range [0, wake_wait]", c.FallbackAfter))
	}
	if c.StartRMS < c.IgnoreRMS {
		errs = append(errs, fmt.Errorf("collector: start_rms %.1f below ignore_rms %.1f", c.StartRMS, c.IgnoreRMS))
	}
	if c.FallbackEnabled && c.FallbackRMS > c.StartRMS {
		errs = append(errs, fmt.Errorf("collector: fallback_rms %.1f above start_rms %.1f", c.FallbackRMS, c.StartRMS))
	}
	if c.MinSpeechRatio < 0 || c.MinSpeechRatio > 1 {
		errs = append(errs, fmt.Errorf("collector: min_speech_ratio %.2f out of range [0, 1]", c.MinSpeechRatio))
	}
	return errors.Join(errs...)
}

func (c Config) fallbackAfter() time.Duration {
	if c.FallbackAfter > 0 {
		return c.FallbackAfter
	}
	return c.WakeWait / 2
}

// Phase is the collector's position in one command attempt.
type Phase int

const (
	AwaitingStart Phase = iota
	Collecting
	Finalizing
	// Done means the attempt is over: the buffer was taken or the wait
	// expired.
	Done
)

func (p Phase) String() string {
	switch p {
	case AwaitingStart:
		return "awaiting_start"
	case Collecting:
		return "collecting"
	case Finalizing:
		return "finalizing"
	default:
		return "done"
	}
}

// Decision tells the pipeline what an Offer or Tick did.
type Decision int

const (
	// None means nothing happened.
	None Decision = iota
	// Ignored means the segment was dropped.
	Ignored
	// Accepted means the segment was buffered.
	Accepted
	// Started means the segment was buffered and the command started.
	Started
	// Finalize means the command is complete; call Take.
	Finalize
	// Expired means the wake-wait window passed without a command.
	Expired
	// FormatChanged means the segment's sample rate differs from the buffered
	// audio. The attempt must be abandoned.
	FormatChanged
)

func (d Decision) String() string {
	switch d {
	case Ignored:
		return "ignored"
	case Accepted:
		return "accepted"
	case Started:
		return "started"
	case Finalize:
		return "finalize"
	case Expired:
		return "expired"
	case FormatChanged:
		return "format_changed"
	default:
		return "none"
	}
}

// Reason is why a command was finalized.
type Reason string

const (
	ReasonSilence   Reason = "silence"
	ReasonMaxLength Reason = "max_length"
	ReasonWakeWait  Reason = "wake_wait"
)

// StartPath records which threshold started the command.
type StartPath string

const (
	PathPrimary  StartPath = "primary"
	PathFallback StartPath = "fallback"
	// PathForced is a start at the end of WakeWait with audio already
	// accumulated.
	PathForced StartPath = "forced"
)

// Collector buffers one command attempt.
type Collector struct {
	cfg     Config
	entered time.Time

	phase  Phase
	path   StartPath
	reason Reason

	sampleRate int
	buf        []audio.Segment
	pre        []audio.Segment
	samples    int
	accum      time.Duration
	lastSeg    time.Time
}

// New starts a collection attempt at now.
func New(cfg Config, now time.Time) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{cfg: cfg, entered: now}, nil
}

// Phase returns the current phase.
func (c *Collector) Phase() Phase { return c.phase }

// Path returns how the command started, or "" before the start.
func (c *Collector) Path() StartPath { return c.path }

// Duration returns the buffered audio length.
func (c *Collector) Duration() time.Duration {
	if c.sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(c.samples) * int64(time.Second) / int64(c.sampleRate))
}

// Offer presents a segment with its measured stats.
func (c *Collector) Offer(seg audio.Segment, st segment.Stats, now time.Time) Decision {
	if c.phase != AwaitingStart && c.phase != Collecting {
		return Ignored
	}
	if seg.Empty() {
		return Ignored
	}
	if c.sampleRate != 0 && seg.SampleRate != c.sampleRate {
		slog.Warn("collector: sample rate changed, abandoning command",
			"buffered_rate", c.sampleRate, "segment_rate", seg.SampleRate)
		c.discard()
		return FormatChanged
	}

	speechLike := st.SpeechRatio >= c.cfg.MinSpeechRatio
	if c.phase == Collecting {
		if st.RMS < c.cfg.IgnoreRMS || !speechLike {
			slog.Debug("collector: segment ignored", "index", seg.Index, "rms", st.RMS,
				"ignore_rms", c.cfg.IgnoreRMS, "speech_ratio", st.SpeechRatio, "min_speech_ratio", c.cfg.MinSpeechRatio)
			return Ignored
		}
		c.appendSeg(seg)
		c.lastSeg = now
		if c.samples >= c.maxSamples() {
			slog.Info("collector: max duration reached", "duration", c.Duration(), "max", c.cfg.MaxDuration)
			c.finalize(ReasonMaxLength)
			return Finalize
		}
		return Accepted
	}
	return c.offerAwaiting(seg, st, speechLike, now)
}

func (c *Collector) offerAwaiting(seg audio.Segment, st segment.Stats, speechLike bool, now time.Time) Decision {
	preBuffered := false
	if c.cfg.PreBuffer && st.RMS >= c.cfg.IgnoreRMS {
		if c.sampleRate == 0 {
			c.sampleRate = seg.SampleRate
		}
		c.pre = append(c.pre, seg)
		c.trimPre()
		preBuffered = true
	}

	var path StartPath
	switch {
	case st.RMS >= c.cfg.StartRMS && speechLike:
		path = PathPrimary
	case c.cfg.FallbackEnabled && now.Sub(c.entered) >= c.cfg.fallbackAfter() &&
		st.RMS >= c.cfg.FallbackRMS && speechLike:
		path = PathFallback
	default:
		slog.Debug("collector: below start threshold", "index", seg.Index, "rms", st.RMS,
			"start_rms", c.cfg.StartRMS, "speech_ratio", st.SpeechRatio, "pre_buffered", preBuffered)
		if preBuffered {
			return Accepted
		}
		return Ignored
	}

	if c.sampleRate == 0 {
		c.sampleRate = seg.SampleRate
	}
	if len(c.pre) > 0 {
		for _, p := range c.pre {
			c.appendSeg(p)
		}
		c.pre = nil
	}
	if !preBuffered {
		c.appendSeg(seg)
	}
	c.accum += seg.Duration()
	c.lastSeg = now

	if c.accum < c.cfg.StartMin {
		return Accepted
	}
	c.phase = Collecting
	c.path = path
	slog.Info("collector: command started", "path", path, "accum", c.accum, "rms", st.RMS,
		"speech_ratio", st.SpeechRatio, "buffered", c.Duration())
	if c.samples >= c.maxSamples() {
		c.finalize(ReasonMaxLength)
		return Finalize
	}
	return Started
}

// Tick enforces the time-based transitions.
func (c *Collector) Tick(now time.Time) Decision {
	switch c.phase {
	case Collecting:
		if len(c.buf) > 0 && now.Sub(c.lastSeg) >= c.cfg.SilenceFinalize {
			c.finalize(ReasonSilence)
			return Finalize
		}
	case AwaitingStart:
		if now.Sub(c.entered) < c.cfg.WakeWait {
			return None
		}
		if c.cfg.FallbackEnabled && len(c.buf) > 0 {
			c.path = PathForced
			slog.Info("collector: wake wait over, forcing start", "buffered", c.Duration())
			c.finalize(ReasonWakeWait)
			return Finalize
		}
		slog.Info("collector: wake wait over, no command", "wake_wait", c.cfg.WakeWait)
		c.discard()
		return Expired
	}
	return None
}

// Take returns the finalized command audio clipped to MaxDuration and ends
// the attempt. It reports false when there is nothing to hand out; a
// Collector never hands out an empty command.
func (c *Collector) Take() (audio.Segment, Reason, bool) {
	if c.phase != Finalizing || c.samples == 0 {
		c.discard()
		return audio.Segment{}, "", false
	}
	out := make([]int16, 0, min(c.samples, c.maxSamples()))
	for _, s := range c.buf {
		out = append(out, s.Samples...)
		if len(out) >= c.maxSamples() {
			break
		}
	}
	if len(out) > c.maxSamples() {
		out = out[:c.maxSamples()]
	}
	seg := audio.Segment{Index: c.buf[0].Index, Samples: out, SampleRate: c.sampleRate}
	reason := c.reason
	c.discard()
	return seg, reason, true
}

func (c *Collector) appendSeg(seg audio.Segment) {
	c.buf = append(c.buf, seg)
	c.samples += len(seg.Samples)
}

// trimPre drops the oldest pre-buffered segments beyond MaxDuration. The
// newest segment is always kept.
func (c *Collector) trimPre() {
	n := 0
	for i := len(c.pre) - 1; i > 0; i-- {
		n += len(c.pre[i].Samples)
		if n >= c.maxSamples() {
			c.pre = slices.Delete(c.pre, 0, i)
			return
		}
	}
}

func (c *Collector) maxSamples() int {
	return audio.SamplesFor(c.cfg.MaxDuration, c.sampleRate)
}

func (c *Collector) finalize(r Reason) {
	c.phase = Finalizing
	c.reason = r
}

func (c *Collector) discard() {
	c.phase = Done
	c.buf = nil
	c.pre = nil
	c.samples = 0
}
