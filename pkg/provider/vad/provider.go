// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (an energy detector, a
// WebRTC-style GMM or a small neural model) and surfaces it as a stateful,
// per-stream session. The segmenter drives one session per audio stream and
// applies its own pre-roll and hysteresis on top of the per-frame decisions.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, so it can run inline on the capture goroutine.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is not shared across goroutines.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by ProcessFrame when the frame length does not
// match the session's configured frame size.
var ErrFrameSize = errors.New("vad: frame size mismatch")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds (10, 20
	// or 30).
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame starts
	// being classified as speech. Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an ongoing run of
	// speech frames ends. Must be ≤ SpeechThreshold.
	SilenceThreshold float64
}

// SamplesPerFrame returns the expected frame length in samples.
func (c Config) SamplesPerFrame() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// Validate checks c for values no engine can work with.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate))
	}
	switch c.FrameSizeMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("vad: frame size must be 10, 20 or 30 ms, got %d", c.FrameSizeMs))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: speech threshold %.2f out of range [0, 1]", c.SpeechThreshold))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad: silence threshold %.2f must be in [0, speech threshold]", c.SilenceThreshold))
	}
	return errors.Join(errs...)
}

// Event is the detection result for a single audio frame.
type Event struct {
	// Speech reports whether the frame is classified as speech.
	Speech bool

	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// Each session keeps its own detection state; Reset clears this state without
// closing the session.
type SessionHandle interface {
	// ProcessFrame classifies one frame of mono 16-bit samples at the session's
	// sample rate. It returns [ErrFrameSize] if the frame length is wrong. It
	// must not block.
	ProcessFrame(samples []int16) (Event, error)

	// Reset clears all accumulated detection state. The segmenter calls it
	// after every finalized segment.
	Reset()

	// Close releases the session's resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid for this engine.
	NewSession(cfg Config) (SessionHandle, error)
}
