// Package portaudio provides a live microphone [audio.Source] backed by the
// PortAudio C library via github.com/gordonklaus/portaudio.
//
// The PortAudio shared library must be installed on the host (libportaudio2
// on Debian/Jetson images). A single stream is opened in blocking-read mode;
// each ReadFrame call fills exactly one frame.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/sarvis/pkg/audio"
)

// Compile-time assertion that Source satisfies audio.Source.
var _ audio.Source = (*Source)(nil)

// Source captures mono 16-bit frames from an input device.
type Source struct {
	format audio.Format
	device string

	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	read   int64
	closed bool
}

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithDevice selects the first input device whose name contains name
// (case-insensitive). An empty name selects the system default input.
func WithDevice(name string) Option {
	return func(s *Source) { s.device = name }
}

// New initialises PortAudio, opens the input stream and starts it. The
// caller must call Close to release the device.
func New(format audio.Format, opts ...Option) (*Source, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	s := &Source{format: format}
	for _, o := range opts {
		o(s)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := s.pickDevice()
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}

	s.buf = make([]int16, format.SamplesPerFrame())
	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = len(s.buf)

	stream, err := pa.OpenStream(params, s.buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	s.stream = stream

	slog.Info("portaudio: capture started",
		"device", dev.Name,
		"format", format.String(),
		"samples_per_frame", len(s.buf),
	)
	return s, nil
}

// pickDevice resolves the configured device name to a DeviceInfo.
func (s *Source) pickDevice() (*pa.DeviceInfo, error) {
	if s.device == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(s.device)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", s.device)
}

// Format implements audio.Source.
func (s *Source) Format() audio.Format { return s.format }

// ReadFrame implements audio.Source. An input overflow is logged and the
// (partially stale) frame is still returned; capture keeps going.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Frame{}, errors.New("portaudio: source is closed")
	}

	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, pa.InputOverflowed) {
			return audio.Frame{}, fmt.Errorf("portaudio: read: %w", err)
		}
		slog.Warn("portaudio: input overflowed")
	}

	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)
	ts := time.Duration(s.read) * s.format.FrameDuration
	s.read++
	return audio.Frame{Samples: samples, SampleRate: s.format.SampleRate, Timestamp: ts}, nil
}

// Close stops the stream and terminates PortAudio. It is safe to call more
// than once.
func (s *Source) Close() error {
	if s.stream != nil {
		// Abort unblocks a Read in progress on another goroutine.
		_ = s.stream.Abort()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}
