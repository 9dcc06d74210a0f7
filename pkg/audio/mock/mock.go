// Package mock provides an in-memory mock implementation of [audio.Source]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and it exposes exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{
//	    FormatResult: audio.Format{SampleRate: 16000, FrameDuration: 30 * time.Millisecond},
//	    Frames:       frames,
//	}
//	f, err := src.ReadFrame(ctx)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/sarvis/pkg/audio"
)

// Compile-time assertion that Source satisfies audio.Source.
var _ audio.Source = (*Source)(nil)

// Source is a mock implementation of [audio.Source]. It yields Frames in
// order, then returns EndError (defaulting to [io.EOF]). When Block is set,
// ReadFrame waits for ctx cancellation or Close after the frames run out
// instead of returning.
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by [Source.Format].
	FormatResult audio.Format

	// Frames are handed out one per ReadFrame call.
	Frames []audio.Frame

	// EndError is returned once Frames is exhausted. Nil means io.EOF.
	EndError error

	// Block makes ReadFrame wait instead of returning EndError.
	Block bool

	// CloseError is returned by [Source.Close].
	CloseError error

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next   int
	closed chan struct{}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountReadFrame++
	if s.next < len(s.Frames) {
		f := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	block := s.Block
	endErr := s.EndError
	closed := s.closedChan()
	s.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		case <-closed:
			return audio.Frame{}, io.EOF
		}
	}
	if endErr != nil {
		return audio.Frame{}, endErr
	}
	return audio.Frame{}, io.EOF
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	ch := s.closedChan()
	select {
	case <-ch:
	default:
		close(ch)
	}
	return s.CloseError
}

// closedChan lazily creates the close signal. Callers must hold s.mu.
func (s *Source) closedChan() chan struct{} {
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return s.closed
}
