package command

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/sarvis/internal/fault"
)

// DefaultFallbackTimeout bounds one fallback parse call.
const DefaultFallbackTimeout = 3 * time.Second

// Request is the input of a fallback parse.
type Request struct {
	Text      string
	Mode      Mode
	SpeakerID string
	RequestID string
}

// Fallback parses transcripts the keyword grammar did not match.
type Fallback interface {
	ParseCommand(ctx context.Context, req Request) (Result, error)
}

// Parser runs the keyword grammar and, when it does not match, the fallback.
type Parser struct {
	fallback Fallback
	timeout  time.Duration
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithFallbackTimeout overrides DefaultFallbackTimeout.
func WithFallbackTimeout(d time.Duration) ParserOption {
	return func(p *Parser) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewParser returns a Parser. fb may be nil, in which case unmatched text
// yields Unknown.
func NewParser(fb Fallback, opts ...ParserOption) *Parser {
	p := &Parser{fallback: fb, timeout: DefaultFallbackTimeout}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse turns text into a Result attributed with text, speakerID and
// requestID. It never fails: fallback errors become Reject results.
func (p *Parser) Parse(ctx context.Context, text string, mode Mode, speakerID, requestID string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reject(ReasonEmptyASR).Attributed(text, speakerID, requestID)
	}
	if r, ok := ParseRule(text, mode); ok {
		return r.Attributed(text, speakerID, requestID)
	}
	if p.fallback == nil {
		return Unknown().Attributed(text, speakerID, requestID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	r, err := p.fallback.ParseCommand(ctx, Request{
		Text:      text,
		Mode:      mode,
		SpeakerID: speakerID,
		RequestID: requestID,
	})
	if err != nil {
		reason := ReasonLLMError
		if errors.Is(err, ErrMalformedAction) {
			reason = ReasonBadServerResponse
		}
		slog.Warn("command: fallback parse failed",
			"request_id", requestID,
			"reason", reason,
			"err", fault.New(fault.ParseFailure, "parse", reason, err),
		)
		return Reject(reason).Attributed(text, speakerID, requestID)
	}
	return r.Attributed(text, speakerID, requestID)
}
