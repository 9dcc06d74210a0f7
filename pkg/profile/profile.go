// Package profile defines enrolled speaker profiles and the Store interface
// the speaker verifier reads them from.
//
// Profiles are enrolled out of band (the companion app writes them); the
// pipeline only reads. Stores reload transparently when the underlying data
// changes so a new login takes effect without a restart.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Profile is one enrolled speaker.
type Profile struct {
	// SpeakerID identifies the speaker (user uid or login id).
	SpeakerID string

	// Embeddings holds one or more L2-normalised reference vectors.
	Embeddings [][]float32
}

// Store provides the current set of profiles.
type Store interface {
	// Profiles returns the current profiles, reloading first if the backing
	// data changed. A missing backing source yields no profiles and no
	// error.
	Profiles(ctx context.Context) ([]Profile, error)
}

// defaultSpeakerID names a single-user marker file that carries no id.
const defaultSpeakerID = "current_user"

// Parse decodes any of the accepted JSON layouts:
//
//	{"uid"|"login_id": "...", "voice_vectors"|"voice_embeddings": vec | [vec, ...]}
//	{"<speaker id>": vec, ...}
//	[{"speaker_id"|"uid"|"login_id": "...", "embedding": vec}, ...]
//
// Entries that are not numeric vectors are skipped. Vectors are
// L2-normalised. The result is sorted by SpeakerID.
func Parse(data []byte) ([]Profile, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("profile: decode: %w", err)
	}

	byID := map[string][][]float32{}
	switch v := raw.(type) {
	case map[string]any:
		if vv, ok := firstKey(v, "voice_vectors", "voice_embeddings"); ok {
			id := firstString(v, "login_id", "uid")
			if id == "" {
				id = defaultSpeakerID
			}
			if vec, ok := toVector(vv); ok {
				byID[id] = append(byID[id], vec)
			} else if list, ok := vv.([]any); ok {
				for _, item := range list {
					if vec, ok := toVector(item); ok {
						byID[id] = append(byID[id], vec)
					}
				}
			}
			break
		}
		for id, item := range v {
			if vec, ok := toVector(item); ok {
				byID[id] = append(byID[id], vec)
			}
		}
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id := firstString(obj, "speaker_id", "uid", "login_id")
			vec, ok := toVector(obj["embedding"])
			if id != "" && ok {
				byID[id] = [][]float32{vec}
			}
		}
	default:
		return nil, fmt.Errorf("profile: unsupported JSON layout %T", raw)
	}
	return Collect(byID), nil
}

// Collect turns a speaker→embeddings map into a sorted profile slice,
// dropping speakers without embeddings.
func Collect(byID map[string][][]float32) []Profile {
	out := make([]Profile, 0, len(byID))
	for id, embs := range byID {
		if len(embs) == 0 {
			continue
		}
		out = append(out, Profile{SpeakerID: id, Embeddings: embs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpeakerID < out[j].SpeakerID })
	return out
}

// Normalize returns v scaled to unit length. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	n := math.Sqrt(sum) + 1e-9
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func firstKey(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}

func toVector(v any) ([]float32, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	out := make([]float32, len(list))
	for i, x := range list {
		f, ok := x.(float64)
		if !ok {
			return nil, false
		}
		out[i] = float32(f)
	}
	return Normalize(out), true
}
