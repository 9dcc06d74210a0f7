// Package speaker verifies that a wake segment was spoken by an enrolled
// user.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/sarvis/internal/fault"
	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/audio/dsp"
	"github.com/MrWong99/sarvis/pkg/profile"
	"github.com/MrWong99/sarvis/pkg/provider/voiceprint"
)

const stage = "speaker"

// Config holds verifier tuning.
type Config struct {
	// Threshold is the minimum cosine similarity to accept. Default 0.35.
	Threshold float64

	// MinSegment is the shortest segment worth embedding. Default 0.8 s.
	MinSegment time.Duration

	// Bypass skips the model and accepts every segment as the session user.
	Bypass bool

	// BypassUID is used in bypass mode when no session uid is known.
	// Default "default_user".
	BypassUID string

	// NoiseReduction enables spectral gating before feature extraction.
	NoiseReduction bool
}

// Defaults returns the production defaults.
func Defaults() Config {
	return Config{
		Threshold:      0.35,
		MinSegment:     800 * time.Millisecond,
		BypassUID:      "default_user",
		NoiseReduction: true,
	}
}

// Verification is the verifier's verdict.
type Verification struct {
	Accepted   bool
	SpeakerID  string
	Similarity float64
	Bypassed   bool
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithSessionUID supplies the logged-in user's uid for bypass mode.
func WithSessionUID(fn func() string) Option {
	return func(v *Verifier) { v.sessionUID = fn }
}

// Verifier compares segment embeddings against enrolled profiles. It is owned
// by the pipeline worker.
type Verifier struct {
	cfg        Config
	embedder   voiceprint.Embedder
	store      profile.Store
	mel        *dsp.LogMel
	sessionUID func() string
}

// New creates a Verifier. embedder and store may be nil only in bypass mode.
func New(cfg Config, embedder voiceprint.Embedder, store profile.Store, opts ...Option) (*Verifier, error) {
	if !cfg.Bypass && (embedder == nil || store == nil) {
		return nil, errors.New("speaker: embedder and profile store are required unless bypass is enabled")
	}
	if cfg.BypassUID == "" {
		cfg.BypassUID = "default_user"
	}
	mel, err := dsp.NewLogMel(dsp.SpeakerMel)
	if err != nil {
		return nil, fmt.Errorf("speaker: %w", err)
	}
	v := &Verifier{cfg: cfg, embedder: embedder, store: store, mel: mel}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Config returns the active configuration.
func (v *Verifier) Config() Config { return v.cfg }

// SetThreshold replaces the similarity threshold.
func (v *Verifier) SetThreshold(th float64) { v.cfg.Threshold = th }

// Verify checks seg. Rejections are returned as a Verification with
// Accepted false and a fault.ValidationRejected error naming the reason.
// Model and store failures are fault.Inference errors.
func (v *Verifier) Verify(ctx context.Context, seg audio.Segment) (Verification, error) {
	if v.cfg.Bypass {
		uid := ""
		if v.sessionUID != nil {
			uid = v.sessionUID()
		}
		if uid == "" {
			uid = v.cfg.BypassUID
		}
		return Verification{Accepted: true, SpeakerID: uid, Similarity: 1, Bypassed: true}, nil
	}

	if seg.Duration() < v.cfg.MinSegment {
		return Verification{}, fault.Rejected(stage, "segment_too_short")
	}

	profiles, err := v.store.Profiles(ctx)
	if err != nil && len(profiles) == 0 {
		return Verification{}, fault.InferenceError(stage, err)
	}
	if len(profiles) == 0 {
		return Verification{}, fault.Rejected(stage, "no_profiles")
	}

	emb, err := v.Embed(ctx, seg)
	if err != nil {
		return Verification{}, fault.InferenceError(stage, err)
	}

	best, bestID := -1.0, ""
	for _, p := range profiles {
		for _, ref := range p.Embeddings {
			if sim := dsp.Cosine(emb, ref); sim > best {
				best, bestID = sim, p.SpeakerID
			}
		}
	}
	if best < 0 {
		best = 0
	}
	if bestID == "" || best < v.cfg.Threshold {
		return Verification{Similarity: best}, fault.Rejected(stage, fmt.Sprintf("similarity %.3f < %.3f", best, v.cfg.Threshold))
	}
	return Verification{Accepted: true, SpeakerID: bestID, Similarity: best}, nil
}

// Embed preprocesses seg and returns its L2-normalised embedding. Enrollment
// tooling must use the same path so that reference and probe vectors match.
func (v *Verifier) Embed(ctx context.Context, seg audio.Segment) ([]float32, error) {
	if v.embedder == nil {
		return nil, errors.New("speaker: no embedder configured")
	}
	x := audio.ToFloat32(seg.Samples)
	if v.cfg.NoiseReduction {
		x = dsp.SpectralGate(x, dsp.DefaultGate)
	}
	dsp.RemoveDC(x)
	dsp.PeakNormalize(x)
	x = audio.ResampleFloat32(x, seg.SampleRate, v.mel.Config().SampleRate)

	feats := v.mel.Compute(x)
	if len(feats) == 0 || len(feats[0]) == 0 {
		return nil, errors.New("speaker: segment too short for features")
	}
	dsp.CMVN(feats)

	emb, err := v.embedder.Embed(ctx, dsp.Transpose(feats))
	if err != nil {
		return nil, err
	}
	return dsp.L2Normalize(emb), nil
}
