package wake

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/sarvis/internal/fault"
	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/provider/stt"
)

const (
	defaultSTTTimeout    = 6 * time.Second
	defaultVerifyTimeout = 3 * time.Second

	// DefaultMinConfidence is the lowest matcher confidence that counts as
	// valid.
	DefaultMinConfidence = 0.5
)

// Validation is the validator's verdict on one segment.
type Validation struct {
	Valid      bool
	Confidence float64
	Reason     string
	Matched    string
	Transcript string
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithTargets replaces the accepted wake spellings.
func WithTargets(targets ...string) ValidatorOption {
	return func(v *Validator) { v.targets = targets }
}

// WithLanguage sets the STT language hint. Defaults to "ko".
func WithLanguage(lang string) ValidatorOption {
	return func(v *Validator) { v.language = lang }
}

// WithTimeouts sets the STT and matcher deadlines.
func WithTimeouts(stt, verify time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.sttTimeout = stt
		v.verifyTimeout = verify
	}
}

// WithMinConfidence sets the lowest matcher confidence accepted.
func WithMinConfidence(c float64) ValidatorOption {
	return func(v *Validator) { v.minConfidence = c }
}

// Validator transcribes a candidate wake segment and matches the text.
type Validator struct {
	stt           stt.Provider
	matcher       Matcher
	targets       []string
	language      string
	sttTimeout    time.Duration
	verifyTimeout time.Duration
	minConfidence float64
}

// NewValidator creates a Validator. Both p and m are required.
func NewValidator(p stt.Provider, m Matcher, opts ...ValidatorOption) (*Validator, error) {
	if p == nil || m == nil {
		return nil, errors.New("wake: validator needs an stt provider and a matcher")
	}
	v := &Validator{
		stt:           p,
		matcher:       m,
		targets:       DefaultTargets,
		language:      "ko",
		sttTimeout:    defaultSTTTimeout,
		verifyTimeout: defaultVerifyTimeout,
		minConfidence: DefaultMinConfidence,
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// SetMinConfidence replaces the confidence floor.
func (v *Validator) SetMinConfidence(c float64) { v.minConfidence = c }

// Validate transcribes seg and matches the transcript. Every failure yields
// a Validation with Valid false; the error says why.
func (v *Validator) Validate(ctx context.Context, seg audio.Segment) (Validation, error) {
	sttCtx, cancel := context.WithTimeout(ctx, v.sttTimeout)
	tr, err := v.stt.Transcribe(sttCtx, stt.RequestFor(seg, v.language))
	cancel()
	if err != nil {
		return Validation{Reason: "stt_error"}, fault.FromHTTP("wake_stt", err)
	}
	if tr.Text == "" {
		return Validation{Reason: "empty_stt"}, nil
	}

	mCtx, cancel := context.WithTimeout(ctx, v.verifyTimeout)
	m, err := v.matcher.Match(mCtx, tr.Text, v.targets)
	cancel()
	if err != nil {
		return Validation{Reason: "verify_error", Transcript: tr.Text}, fault.FromHTTP("wake_verify", err)
	}
	return Validation{
		Valid:      m.Valid && m.Confidence >= v.minConfidence,
		Confidence: m.Confidence,
		Reason:     m.Reason,
		Matched:    m.MatchedWord,
		Transcript: tr.Text,
	}, nil
}
