package wake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/sarvis/pkg/audio"
)

// Mode names how detector and validator verdicts combine.
type Mode string

const (
	// ModeOr accepts when either stage accepts.
	ModeOr Mode = "or"
	// ModeAnd accepts only when both stages accept.
	ModeAnd Mode = "and"
)

// ParseMode parses "or"/"and" case-insensitively. Empty means ModeOr.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeOr:
		return ModeOr, nil
	case ModeAnd:
		return ModeAnd, nil
	}
	return "", fmt.Errorf("wake: unknown policy mode %q", s)
}

// Decision is the combined wake verdict.
type Decision struct {
	Accepted   bool
	Detection  Detection
	Validation Validation

	// Validated reports whether the validator ran.
	Validated bool

	// By names the stage(s) that carried the decision: "kws", "stt",
	// "both" or "" when rejected.
	By string
}

// Policy combines a Detector and an optional Validator.
//
// With the validator disabled the detector decides alone. This also covers
// configurations that disable both second-stage checks. Under ModeOr the
// validator runs only when the detector did not already accept.
type Policy struct {
	Detector  *Detector
	Validator *Validator
	Mode      Mode
}

// Evaluate runs the stages for seg. A detector error is returned; validator
// errors are logged and count as not valid.
func (p *Policy) Evaluate(ctx context.Context, seg audio.Segment) (Decision, error) {
	det, err := p.Detector.Detect(ctx, seg)
	if err != nil {
		return Decision{}, err
	}
	dec := Decision{Detection: det}

	if p.Validator == nil {
		dec.Accepted = det.Accepted
		if dec.Accepted {
			dec.By = "kws"
		}
		return dec, nil
	}

	mode := p.Mode
	if mode == "" {
		mode = ModeOr
	}
	if mode == ModeAnd && !det.Accepted {
		return dec, nil
	}
	if mode == ModeOr && det.Accepted {
		dec.Accepted, dec.By = true, "kws"
		return dec, nil
	}

	val, err := p.Validator.Validate(ctx, seg)
	dec.Validation, dec.Validated = val, true
	if err != nil {
		slog.Warn("wake: validation failed", "segment", seg.Index, "reason", val.Reason, "error", err)
	}

	switch {
	case mode == ModeAnd && val.Valid:
		dec.Accepted, dec.By = true, "both"
	case mode == ModeOr && val.Valid:
		dec.Accepted, dec.By = true, "stt"
	}
	return dec, nil
}
