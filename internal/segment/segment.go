// Package segment turns the continuous frame stream from the microphone into
// discrete speech segments.
//
// A [Segmenter] keeps a short pre-roll ring of recent frames. Once most of
// the ring is voiced it triggers, flushes the ring into the new segment and
// then appends every frame until enough consecutive silence (or the hard
// length cap) ends the segment. Frame decisions come from a [vad.SessionHandle]
// with an additional RMS gate on a smoothed level, so stationary noise that
// fools the VAD never opens a segment.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/provider/vad"
)

// Config controls segmentation. Zero durations are invalid; see
// [Config.Validate].
type Config struct {
	// Format of the incoming frames.
	Format audio.Format

	// PreRoll is the length of the ring kept before a trigger.
	PreRoll time.Duration

	// TriggerRatio is the fraction of voiced frames in a full ring needed to
	// trigger. Default 0.8.
	TriggerRatio float64

	// SilenceTimeout ends a segment after this much consecutive unvoiced
	// audio.
	SilenceTimeout time.Duration

	// MaxLength force-ends a segment at this length.
	MaxLength time.Duration

	// MinDuration discards segments that are not longer than this.
	MinDuration time.Duration

	// RMSGate forces frames whose smoothed RMS (PCM units) is below it to
	// count as unvoiced. Zero disables the gate.
	RMSGate float64

	// RMSEMAAlpha is the smoothing factor of the RMS moving average. Default
	// 0.25.
	RMSEMAAlpha float64
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if err := c.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.PreRoll <= 0 {
		errs = append(errs, fmt.Errorf("segment: pre_roll must be positive"))
	}
	if c.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("segment: silence_timeout must be positive"))
	}
	if c.MaxLength <= c.MinDuration {
		errs = append(errs, fmt.Errorf("segment: max_length %s must exceed min_duration %s", c.MaxLength, c.MinDuration))
	}
	if c.TriggerRatio <= 0 || c.TriggerRatio > 1 {
		errs = append(errs, fmt.Errorf("segment: trigger_ratio %.2f out of range (0, 1]", c.TriggerRatio))
	}
	if c.RMSEMAAlpha <= 0 || c.RMSEMAAlpha > 1 {
		errs = append(errs, fmt.Errorf("segment: rms_ema_alpha %.2f out of range (0, 1]", c.RMSEMAAlpha))
	}
	if c.RMSGate < 0 {
		errs = append(errs, fmt.Errorf("segment: rms_gate must not be negative"))
	}
	return errors.Join(errs...)
}

// LevelFunc receives the smoothed RMS level after every frame.
type LevelFunc func(rmsEMA, dbfs float64)

// Option is a functional option for configuring a Segmenter.
type Option func(*Segmenter)

// WithLevelMeter registers fn to observe the input level.
func WithLevelMeter(fn LevelFunc) Option {
	return func(s *Segmenter) { s.level = fn }
}

// WithDiscardFunc registers fn to be called with the length of every
// segment dropped for being too short.
func WithDiscardFunc(fn func(time.Duration)) Option {
	return func(s *Segmenter) { s.discard = fn }
}

type ringEntry struct {
	samples []int16
	voiced  bool
}

// Segmenter is a single-stream speech segmenter. It is not safe for
// concurrent use; the capture goroutine owns it.
type Segmenter struct {
	cfg  Config
	sess vad.SessionHandle

	level   LevelFunc
	discard func(time.Duration)

	frameSamples int
	silenceLimit int
	maxFrames    int
	minSamples   int

	ring    []ringEntry
	rmsEMA  float64
	trigger bool
	buf     []int16
	frames  int
	silence int
	nextIdx uint64
}

// New returns a Segmenter that classifies frames with sess.
func New(cfg Config, sess vad.SessionHandle, opts ...Option) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.New("segment: vad session must not be nil")
	}
	fd := cfg.Format.FrameDuration
	s := &Segmenter{
		cfg:          cfg,
		sess:         sess,
		frameSamples: cfg.Format.SamplesPerFrame(),
		silenceLimit: int(math.Ceil(float64(cfg.SilenceTimeout) / float64(fd))),
		maxFrames:    int(cfg.MaxLength / fd),
		minSamples:   audio.SamplesFor(cfg.MinDuration, cfg.Format.SampleRate),
		ring:         make([]ringEntry, 0, ringCapacity(cfg)),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func ringCapacity(cfg Config) int {
	n := int(math.Ceil(float64(cfg.PreRoll) / float64(cfg.Format.FrameDuration)))
	return max(n, 1)
}

// Triggered reports whether a segment is currently being recorded.
func (s *Segmenter) Triggered() bool { return s.trigger }

// Push feeds one frame. It returns a finished segment and true when this
// frame completed one. An error means the frame could not be classified;
// the segmenter state is unchanged in that case.
func (s *Segmenter) Push(frame audio.Frame) (audio.Segment, bool, error) {
	if frame.SampleRate != s.cfg.Format.SampleRate || len(frame.Samples) != s.frameSamples {
		return audio.Segment{}, false, fmt.Errorf("segment: %w: got %d samples at %d Hz, want %d at %d Hz",
			vad.ErrFrameSize, len(frame.Samples), frame.SampleRate, s.frameSamples, s.cfg.Format.SampleRate)
	}

	ev, err := s.sess.ProcessFrame(frame.Samples)
	if err != nil {
		return audio.Segment{}, false, fmt.Errorf("segment: vad: %w", err)
	}

	a := s.cfg.RMSEMAAlpha
	s.rmsEMA = (1-a)*s.rmsEMA + a*audio.RMS(frame.Samples)
	if s.level != nil {
		s.level(s.rmsEMA, audio.DBFS(s.rmsEMA))
	}

	voiced := ev.Speech
	if s.cfg.RMSGate > 0 && s.rmsEMA < s.cfg.RMSGate {
		voiced = false
	}

	if !s.trigger {
		s.pushRing(frame.Samples, voiced)
		if float64(s.voicedInRing()) > s.cfg.TriggerRatio*float64(cap(s.ring)) {
			s.trigger = true
			for _, e := range s.ring {
				s.buf = append(s.buf, e.samples...)
			}
			s.frames = len(s.ring)
			s.ring = s.ring[:0]
			slog.Debug("segment: speech triggered", "rms_ema", s.rmsEMA)
		}
		return audio.Segment{}, false, nil
	}

	s.buf = append(s.buf, frame.Samples...)
	s.frames++
	if voiced {
		s.silence = 0
	} else {
		s.silence++
	}

	switch {
	case s.frames >= s.maxFrames:
		slog.Debug("segment: max length reached, forcing end", "max", s.cfg.MaxLength)
	case s.silence >= s.silenceLimit:
	default:
		return audio.Segment{}, false, nil
	}
	return s.finish()
}

func (s *Segmenter) finish() (audio.Segment, bool, error) {
	samples := s.buf
	s.reset()

	if len(samples) <= s.minSamples {
		d := audio.Segment{Samples: samples, SampleRate: s.cfg.Format.SampleRate}.Duration()
		slog.Debug("segment: too short, ignored", "duration", d, "min", s.cfg.MinDuration)
		if s.discard != nil {
			s.discard(d)
		}
		return audio.Segment{}, false, nil
	}
	s.nextIdx++
	seg := audio.Segment{Index: s.nextIdx, Samples: samples, SampleRate: s.cfg.Format.SampleRate}
	slog.Debug("segment: recorded", "index", seg.Index, "duration", seg.Duration())
	return seg, true, nil
}

// Reset drops the in-flight segment, the pre-roll ring and the VAD state.
// The RMS average and segment numbering are kept.
func (s *Segmenter) Reset() { s.reset() }

func (s *Segmenter) reset() {
	s.trigger = false
	s.buf = nil
	s.frames = 0
	s.silence = 0
	s.ring = s.ring[:0]
	s.sess.Reset()
}

func (s *Segmenter) pushRing(samples []int16, voiced bool) {
	if len(s.ring) == cap(s.ring) {
		copy(s.ring, s.ring[1:])
		s.ring = s.ring[:len(s.ring)-1]
	}
	s.ring = append(s.ring, ringEntry{samples: samples, voiced: voiced})
}

func (s *Segmenter) voicedInRing() int {
	n := 0
	for _, e := range s.ring {
		if e.voiced {
			n++
		}
	}
	return n
}
