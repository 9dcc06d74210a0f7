// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Texts: []string{"싸비스"}}
//	tr, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sarvis/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Texts are returned one per call, in order. Once exhausted, Text is
	// returned.
	Texts []string

	// Text is the default transcript text.
	Text string

	// Err, if non-nil, is returned by every call.
	Err error

	// Block makes Transcribe wait for ctx to be done and return its error.
	Block bool

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Req: req})
	block, err := p.Block, p.Err
	text := p.Text
	if p.next < len(p.Texts) {
		text = p.Texts[p.next]
		p.next++
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: req.Language}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
