package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/profile"
	"github.com/MrWong99/sarvis/pkg/provider/kws"
	"github.com/MrWong99/sarvis/pkg/provider/llm"
	"github.com/MrWong99/sarvis/pkg/provider/stt"
	"github.com/MrWong99/sarvis/pkg/provider/vad"
	"github.com/MrWong99/sarvis/pkg/provider/voiceprint"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	kws        map[string]func(ProviderEntry) (kws.Classifier, error)
	voiceprint map[string]func(ProviderEntry) (voiceprint.Embedder, error)
	vad        map[string]func(ProviderEntry) (vad.Engine, error)
	profiles   map[string]func(ProviderEntry) (profile.Store, error)
	sources    map[string]func(AudioConfig) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        make(map[string]func(ProviderEntry) (stt.Provider, error)),
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		kws:        make(map[string]func(ProviderEntry) (kws.Classifier, error)),
		voiceprint: make(map[string]func(ProviderEntry) (voiceprint.Embedder, error)),
		vad:        make(map[string]func(ProviderEntry) (vad.Engine, error)),
		profiles:   make(map[string]func(ProviderEntry) (profile.Store, error)),
		sources:    make(map[string]func(AudioConfig) (audio.Source, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterKWS registers a keyword classifier factory under name.
func (r *Registry) RegisterKWS(name string, factory func(ProviderEntry) (kws.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kws[name] = factory
}

// RegisterVoiceprint registers a speaker embedder factory under name.
func (r *Registry) RegisterVoiceprint(name string, factory func(ProviderEntry) (voiceprint.Embedder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceprint[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterProfiles registers a speaker profile store factory under name.
func (r *Registry) RegisterProfiles(name string, factory func(ProviderEntry) (profile.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[name] = factory
}

// RegisterSource registers an audio capture backend under name.
func (r *Registry) RegisterSource(name string, factory func(AudioConfig) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateKWS instantiates a keyword classifier using the factory registered under entry.Name.
func (r *Registry) CreateKWS(entry ProviderEntry) (kws.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.kws[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kws/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVoiceprint instantiates a speaker embedder using the factory registered under entry.Name.
func (r *Registry) CreateVoiceprint(entry ProviderEntry) (voiceprint.Embedder, error) {
	r.mu.RLock()
	factory, ok := r.voiceprint[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voiceprint/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateProfiles instantiates a profile store using the factory registered under entry.Name.
func (r *Registry) CreateProfiles(entry ProviderEntry) (profile.Store, error) {
	r.mu.RLock()
	factory, ok := r.profiles[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: profiles/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSource opens the audio backend named by cfg.Source.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt extracts an integer value from a provider Options map. YAML
// decodes plain integers as int.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// OptStrings extracts a string list from a provider Options map.
func OptStrings(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
