// Package kws defines the Classifier interface for keyword-spotting models.
//
// A classifier scores one fixed-length window of log-mel features against a
// closed label set. Feature extraction lives with the caller so that the same
// classifier can be driven from live segments and from recorded fixtures.
package kws

import "context"

// Label names, in model output order.
const (
	LabelWake      = "WAKE"
	LabelLeft      = "LEFT"
	LabelRight     = "RIGHT"
	LabelForward   = "FORWARD"
	LabelBackward  = "BACKWARD"
	LabelStop      = "STOP"
	LabelFollowOn  = "FOLLOW_ON"
	LabelFollowOff = "FOLLOW_OFF"
	LabelUnknown   = "UNKNOWN"
)

// DefaultLabels is the label set of the bundled keyword model.
var DefaultLabels = []string{
	LabelWake, LabelLeft, LabelRight, LabelForward, LabelBackward,
	LabelStop, LabelFollowOn, LabelFollowOff, LabelUnknown,
}

// Classifier is the abstraction over a keyword-spotting model.
type Classifier interface {
	// Frames returns the number of feature frames the model expects, or 0
	// when the time axis is dynamic.
	Frames() int

	// Classify scores feats, laid out as [mel bin][frame], and returns one
	// raw logit per label.
	Classify(ctx context.Context, feats [][]float32) ([]float32, error)

	// Labels returns the label names in logit order.
	Labels() []string
}
