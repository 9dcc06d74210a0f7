// Package wake decides whether a speech segment is the wake phrase.
//
// Two independent stages contribute: a [Detector] that runs the on-device
// keyword classifier and a [Validator] that transcribes the segment and
// matches the text against the accepted spellings. A [Policy] combines them.
package wake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/audio/dsp"
	"github.com/MrWong99/sarvis/pkg/provider/kws"
)

const (
	// DefaultClip is the window the keyword model was trained on.
	DefaultClip = time.Second

	// DefaultThreshold is the minimum softmax confidence for a wake label.
	DefaultThreshold = 0.70
)

// Detection is the detector's verdict on one segment.
type Detection struct {
	// Label is the winning label, or kws.LabelUnknown when the winner is not
	// an allowed label or falls below the threshold.
	Label string

	// RawLabel is the argmax label before filtering.
	RawLabel string

	// Confidence is the softmax probability of RawLabel.
	Confidence float64

	// Accepted reports Label == WAKE.
	Accepted bool
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithThreshold sets the confidence threshold. Defaults to 0.70.
func WithThreshold(th float64) DetectorOption {
	return func(d *Detector) { d.threshold = th }
}

// WithClip sets the analysis window. Defaults to 1 s.
func WithClip(clip time.Duration) DetectorOption {
	return func(d *Detector) { d.clip = clip }
}

// WithAllowed restricts the labels the detector reports. Defaults to WAKE
// only; every other winning label is reported as UNKNOWN.
func WithAllowed(labels ...string) DetectorOption {
	return func(d *Detector) {
		d.allowed = make(map[string]bool, len(labels))
		for _, l := range labels {
			d.allowed[l] = true
		}
	}
}

// Detector runs the keyword classifier on a segment. It is owned by the
// pipeline worker and is not safe for concurrent use.
type Detector struct {
	cls       kws.Classifier
	mel       *dsp.LogMel
	threshold float64
	clip      time.Duration
	allowed   map[string]bool
}

// NewDetector creates a Detector around cls.
func NewDetector(cls kws.Classifier, opts ...DetectorOption) (*Detector, error) {
	if cls == nil {
		return nil, errors.New("wake: classifier must not be nil")
	}
	mel, err := dsp.NewLogMel(dsp.KWSMel)
	if err != nil {
		return nil, fmt.Errorf("wake: %w", err)
	}
	d := &Detector{
		cls:       cls,
		mel:       mel,
		threshold: DefaultThreshold,
		clip:      DefaultClip,
		allowed:   map[string]bool{kws.LabelWake: true},
	}
	for _, o := range opts {
		o(d)
	}
	if d.clip <= 0 {
		return nil, errors.New("wake: clip must be positive")
	}
	return d, nil
}

// Threshold returns the current confidence threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// SetThreshold replaces the confidence threshold.
func (d *Detector) SetThreshold(th float64) { d.threshold = th }

// Detect classifies seg. Errors are classifier failures; a low-confidence
// result is not an error.
func (d *Detector) Detect(ctx context.Context, seg audio.Segment) (Detection, error) {
	if seg.Empty() {
		return Detection{Label: kws.LabelUnknown}, nil
	}
	rate := d.mel.Config().SampleRate

	x := audio.ToFloat32(seg.Samples)
	dsp.PeakNormalize(x)
	x = audio.ResampleFloat32(x, seg.SampleRate, rate)
	x = dsp.FitLength(x, audio.SamplesFor(d.clip, rate))

	feats := d.mel.Compute(x)
	dsp.CMVN(feats)

	logits, err := d.cls.Classify(ctx, feats)
	if err != nil {
		return Detection{}, err
	}
	probs := dsp.Softmax(logits)
	labels := d.cls.Labels()

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	det := Detection{RawLabel: kws.LabelUnknown}
	if len(probs) > 0 {
		det.Confidence = float64(probs[best])
		if best < len(labels) {
			det.RawLabel = labels[best]
		}
	}
	det.Label = det.RawLabel
	if !d.allowed[det.Label] || det.Confidence < d.threshold {
		det.Label = kws.LabelUnknown
	}
	det.Accepted = det.Label == kws.LabelWake
	return det, nil
}
