// Package mock provides a test double for kws.Classifier.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sarvis/pkg/provider/kws"
)

var _ kws.Classifier = (*Classifier)(nil)

// ClassifyCall records the arguments of a single Classify invocation.
type ClassifyCall struct {
	Feats [][]float32
}

// Classifier is a mock implementation of kws.Classifier.
type Classifier struct {
	mu sync.Mutex

	// FrameCount is returned by Frames.
	FrameCount int

	// LabelSet is returned by Labels. Nil means kws.DefaultLabels.
	LabelSet []string

	// Logits is returned by Classify.
	Logits []float32

	// ClassifyErr, if non-nil, is returned by Classify.
	ClassifyErr error

	// Calls records every Classify invocation.
	Calls []ClassifyCall
}

// Scores returns a Classifier whose logits are zero except for label, which
// gets logit. A logit of 5 yields a softmax confidence of about 0.95 over the
// default label set.
func Scores(label string, logit float32) *Classifier {
	c := &Classifier{Logits: make([]float32, len(kws.DefaultLabels))}
	for i, l := range kws.DefaultLabels {
		if l == label {
			c.Logits[i] = logit
		}
	}
	return c
}

// Frames implements kws.Classifier.
func (c *Classifier) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.FrameCount
}

// Labels implements kws.Classifier.
func (c *Classifier) Labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LabelSet == nil {
		return kws.DefaultLabels
	}
	return c.LabelSet
}

// Classify implements kws.Classifier.
func (c *Classifier) Classify(_ context.Context, feats [][]float32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, ClassifyCall{Feats: feats})
	if c.ClassifyErr != nil {
		return nil, c.ClassifyErr
	}
	return append([]float32(nil), c.Logits...), nil
}

// CallCount returns the number of Classify calls.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
