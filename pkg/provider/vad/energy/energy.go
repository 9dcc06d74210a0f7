// Package energy provides a pure-Go [vad.Engine] that classifies frames by
// RMS level with a speech/silence hysteresis.
//
// The frame level in dBFS is mapped linearly onto a probability between the
// engine's floor and ceiling, so the session's SpeechThreshold and
// SilenceThreshold keep their usual [0, 1] meaning. It needs no model files
// and is cheap enough for the always-on listening loop.
package energy

import (
	"fmt"

	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

const (
	defaultFloorDBFS   = -55.0
	defaultCeilingDBFS = -25.0
)

// Engine creates energy VAD sessions.
type Engine struct {
	floor   float64
	ceiling float64
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithFloorDBFS sets the level that maps to probability 0.
func WithFloorDBFS(db float64) Option {
	return func(e *Engine) { e.floor = db }
}

// WithCeilingDBFS sets the level that maps to probability 1.
func WithCeilingDBFS(db float64) Option {
	return func(e *Engine) { e.ceiling = db }
}

// New returns an energy VAD engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{floor: defaultFloorDBFS, ceiling: defaultCeilingDBFS}
	for _, o := range opts {
		o(e)
	}
	if e.ceiling <= e.floor {
		return nil, fmt.Errorf("energy: ceiling %.1f dBFS must be above floor %.1f dBFS", e.ceiling, e.floor)
	}
	return e, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, floor: e.floor, span: e.ceiling - e.floor}, nil
}

// Session is a single-stream energy detector.
type Session struct {
	cfg      vad.Config
	floor    float64
	span     float64
	inSpeech bool
	closed   bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(samples []int16) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, fmt.Errorf("energy: session closed")
	}
	if want := s.cfg.SamplesPerFrame(); len(samples) != want {
		return vad.Event{}, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(samples), want)
	}

	p := (audio.DBFS(audio.RMS(samples)) - s.floor) / s.span
	p = min(max(p, 0), 1)

	if s.inSpeech {
		s.inSpeech = p >= s.cfg.SilenceThreshold
	} else {
		s.inSpeech = p >= s.cfg.SpeechThreshold
	}
	return vad.Event{Speech: s.inSpeech, Probability: p}, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() { s.inSpeech = false }

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.closed = true
	return nil
}
