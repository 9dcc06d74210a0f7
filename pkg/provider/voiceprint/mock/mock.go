// Package mock provides a test double for voiceprint.Embedder.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sarvis/pkg/provider/voiceprint"
)

var _ voiceprint.Embedder = (*Embedder)(nil)

// Embedder is a mock implementation of voiceprint.Embedder.
type Embedder struct {
	mu sync.Mutex

	// Embedding is returned by Embed.
	Embedding []float32

	// EmbedErr, if non-nil, is returned by Embed.
	EmbedErr error

	// FrameCounts records the number of frames passed to each Embed call.
	FrameCounts []int
}

// Embed implements voiceprint.Embedder.
func (e *Embedder) Embed(_ context.Context, feats [][]float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.FrameCounts = append(e.FrameCounts, len(feats))
	if e.EmbedErr != nil {
		return nil, e.EmbedErr
	}
	return append([]float32(nil), e.Embedding...), nil
}

// CallCount returns the number of Embed calls.
func (e *Embedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.FrameCounts)
}
