// Package replay provides a file-backed [audio.Source] that plays a 16-bit
// PCM WAV recording through the pipeline. It is used to reproduce field
// recordings when tuning thresholds and in integration tests.
package replay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/sarvis/pkg/audio"
)

// Compile-time assertion that Source satisfies audio.Source.
var _ audio.Source = (*Source)(nil)

// Source yields fixed-size frames cut from a decoded WAV file.
type Source struct {
	format   audio.Format
	realtime bool
	loop     bool

	mu      sync.Mutex
	samples []int16
	pos     int
	frames  int64
	started time.Time
	closed  bool
}

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithRealtime paces ReadFrame to the wall clock so the source behaves like a
// live microphone.
func WithRealtime() Option {
	return func(s *Source) { s.realtime = true }
}

// WithLoop restarts playback from the beginning instead of returning
// [io.EOF].
func WithLoop() Option {
	return func(s *Source) { s.loop = true }
}

// Open reads path from fs, decodes it and resamples it to format.SampleRate.
// A trailing partial frame is dropped.
func Open(fs afero.Fs, path string, format audio.Format, opts ...Option) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %q: %w", path, err)
	}
	defer f.Close()

	samples, rate, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("replay: %q: %w", path, err)
	}
	return New(audio.ResampleMono16(samples, rate, format.SampleRate), format, opts...), nil
}

// New returns a Source over samples already at format.SampleRate.
func New(samples []int16, format audio.Format, opts ...Option) *Source {
	s := &Source{format: format, samples: samples}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format implements audio.Source.
func (s *Source) Format() audio.Format { return s.format }

// ReadFrame implements audio.Source.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.Frame{}, io.EOF
	}
	n := s.format.SamplesPerFrame()
	if s.pos+n > len(s.samples) {
		if !s.loop || len(s.samples) < n {
			s.mu.Unlock()
			return audio.Frame{}, io.EOF
		}
		s.pos = 0
	}
	frame := audio.Frame{
		Samples:    append([]int16(nil), s.samples[s.pos:s.pos+n]...),
		SampleRate: s.format.SampleRate,
		Timestamp:  time.Duration(s.frames) * s.format.FrameDuration,
	}
	s.pos += n
	s.frames++
	if s.started.IsZero() {
		s.started = time.Now()
	}
	due := s.started.Add(frame.Timestamp + s.format.FrameDuration)
	realtime := s.realtime
	s.mu.Unlock()

	if realtime {
		if wait := time.Until(due); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return audio.Frame{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	return frame, nil
}

// Close implements audio.Source. Subsequent reads return io.EOF.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
