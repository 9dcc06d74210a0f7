// Package audio defines the microphone-facing types of the voice pipeline:
// fixed-size PCM frames, the speech segments cut from them, and the [Source]
// interface that capture backends implement.
//
// Backends live in sub-packages (audio/portaudio for a live device,
// audio/replay for WAV files). Everything here is mono 16-bit PCM; backends
// down-mix and resample before handing frames out.
package audio

import (
	"context"
	"fmt"
	"time"
)

// Format describes the stream a [Source] produces.
type Format struct {
	// SampleRate in Hz (e.g., 48000 for the USB microphone, 16000 for models).
	SampleRate int

	// FrameDuration is the length of one frame. VAD engines accept 10, 20 or
	// 30 ms frames.
	FrameDuration time.Duration
}

// SamplesPerFrame returns how many mono samples one frame carries.
func (f Format) SamplesPerFrame() int {
	return int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
}

// Validate reports whether f can drive the segmenter.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	switch f.FrameDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
	default:
		return fmt.Errorf("audio: frame duration must be 10, 20 or 30ms, got %s", f.FrameDuration)
	}
	return nil
}

// String returns e.g. "48000Hz/30ms".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%s", f.SampleRate, f.FrameDuration)
}

// Source wraps a capture device and yields fixed-size frames.
//
// ReadFrame blocks until a full frame is available. It returns [io.EOF] when
// a finite source is exhausted and any other error when the device becomes
// unusable. Implementations need not be safe for concurrent ReadFrame calls;
// the capture task is the only reader. Close may be called from any goroutine
// and unblocks a pending ReadFrame.
type Source interface {
	Format() Format
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}
