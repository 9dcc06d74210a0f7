// Package onnx provides a voiceprint.Embedder backed by an onnxruntime model
// with input layout (1, frames, mels).
package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/sarvis/pkg/audio/dsp"
	ortmodel "github.com/MrWong99/sarvis/pkg/onnx"
	"github.com/MrWong99/sarvis/pkg/provider/voiceprint"
)

var _ voiceprint.Embedder = (*Embedder)(nil)

// Embedder runs a speaker-embedding model through onnxruntime.
type Embedder struct {
	model *ortmodel.Model
}

// New loads the embedding model at path.
func New(path string, opts ...ortmodel.Option) (*Embedder, error) {
	m, err := ortmodel.Load(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: %w", err)
	}
	return &Embedder{model: m}, nil
}

// Embed runs the model on feats ([frame][mel]) and returns the first output
// flattened.
func (e *Embedder) Embed(ctx context.Context, feats [][]float32) ([]float32, error) {
	if len(feats) == 0 || len(feats[0]) == 0 {
		return nil, errors.New("voiceprint: empty features")
	}
	emb, _, err := e.model.Run(ctx, dsp.Flatten(feats), 1, int64(len(feats)), int64(len(feats[0])))
	if err != nil {
		return nil, fmt.Errorf("voiceprint: %w", err)
	}
	if len(emb) == 0 {
		return nil, errors.New("voiceprint: model returned an empty embedding")
	}
	return emb, nil
}

// Close releases the model.
func (e *Embedder) Close() error { return e.model.Close() }
