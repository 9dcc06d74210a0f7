// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one finished utterance into text. The pipeline transcribes
// short, already-segmented clips (a wake phrase for validation, a collected
// command), so the interface is batch-oriented: one request, one transcript.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/sarvis/pkg/audio"
)

// ErrEmptyAudio is returned by Transcribe when the request carries no
// samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is a single transcription job.
type Request struct {
	// Samples holds mono 16-bit PCM.
	Samples []int16

	// SampleRate of Samples in Hz.
	SampleRate int

	// Language is a language hint such as "ko" or "en". Empty means the
	// provider's default.
	Language string
}

// Duration returns the playback length of the request audio.
func (r Request) Duration() time.Duration {
	return audio.Segment{Samples: r.Samples, SampleRate: r.SampleRate}.Duration()
}

// RequestFor builds a Request from a segment.
func RequestFor(seg audio.Segment, language string) Request {
	return Request{Samples: seg.Samples, SampleRate: seg.SampleRate, Language: language}
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the recognised text with surrounding whitespace removed. It is
	// empty when nothing intelligible was heard.
	Text string

	// Language is the language the provider reports, when it does.
	Language string

	// Latency is the wall time the provider took.
	Latency time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts req into text. It honours ctx cancellation and
	// deadlines. An empty transcript is not an error.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
