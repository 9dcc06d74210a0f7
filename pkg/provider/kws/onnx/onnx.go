// Package onnx provides a kws.Classifier backed by an onnxruntime model with
// input layout (1, 1, mels, frames).
package onnx

import (
	"context"
	"fmt"

	"github.com/MrWong99/sarvis/pkg/audio/dsp"
	ortmodel "github.com/MrWong99/sarvis/pkg/onnx"
	"github.com/MrWong99/sarvis/pkg/provider/kws"
)

// defaultFrames is the frame count of a 1 s clip at hop 160 with n_fft 400.
const defaultFrames = 98

var _ kws.Classifier = (*Classifier)(nil)

// Option configures a Classifier.
type Option func(*Classifier)

// WithLabels overrides the label set. Defaults to kws.DefaultLabels.
func WithLabels(labels []string) Option {
	return func(c *Classifier) { c.labels = labels }
}

// Classifier runs a keyword model through onnxruntime.
type Classifier struct {
	model  *ortmodel.Model
	frames int
	labels []string
}

// New loads the keyword model at path.
func New(path string, modelOpts []ortmodel.Option, opts ...Option) (*Classifier, error) {
	m, err := ortmodel.Load(path, modelOpts...)
	if err != nil {
		return nil, fmt.Errorf("kws: %w", err)
	}
	c := &Classifier{model: m, frames: defaultFrames, labels: kws.DefaultLabels}
	if dims := m.InputShape(); len(dims) == 4 && dims[3] > 0 {
		c.frames = int(dims[3])
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Frames returns the time-axis length the model was exported with.
func (c *Classifier) Frames() int { return c.frames }

// Labels returns the label names in logit order.
func (c *Classifier) Labels() []string { return c.labels }

// Classify runs the model on feats ([mel][frame]).
func (c *Classifier) Classify(ctx context.Context, feats [][]float32) ([]float32, error) {
	if len(feats) == 0 {
		return nil, fmt.Errorf("kws: empty features")
	}
	feats = dsp.FitFrames(feats, c.frames)
	logits, _, err := c.model.Run(ctx, dsp.Flatten(feats), 1, 1, int64(len(feats)), int64(c.frames))
	if err != nil {
		return nil, fmt.Errorf("kws: %w", err)
	}
	if len(logits) != len(c.labels) {
		return nil, fmt.Errorf("kws: model returned %d logits for %d labels", len(logits), len(c.labels))
	}
	return logits, nil
}

// Close releases the model.
func (c *Classifier) Close() error { return c.model.Close() }
