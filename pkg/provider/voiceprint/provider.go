// Package voiceprint defines the Embedder interface for speaker-embedding
// models.
package voiceprint

import "context"

// Embedder maps a sequence of log-mel frames to a fixed-size speaker
// embedding. Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns the raw (not yet normalised) embedding of feats, laid out
	// as [frame][mel bin].
	Embed(ctx context.Context, feats [][]float32) ([]float32, error)
}
