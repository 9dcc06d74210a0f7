package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"remote", "openai", "whisper-native"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"kws":        {"onnx"},
	"voiceprint": {"onnx"},
	"vad":        {"energy"},
	"profiles":   {"file", "postgres"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r onto [Default] and validates
// the result. Fields absent from the YAML keep their defaults; fields present
// keep the written value, zero included. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		fail("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		fail("server.trace_sample_ratio %v must be within [0, 1]", r)
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, fb := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("kws", cfg.Providers.KWS.Name)
	validateProviderName("voiceprint", cfg.Providers.Voiceprint.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("profiles", cfg.Providers.Profiles.Name)

	// Endpoints ↔ features
	if cfg.Endpoints.BackendURL == "" {
		fail("endpoints.backend_url is required")
	}
	if cfg.Endpoints.ActuatorURL == "" {
		fail("endpoints.actuator_url is required")
	}
	if cfg.Providers.STT.Name == "remote" && cfg.Endpoints.ProxyURL == "" && cfg.Providers.STT.BaseURL == "" {
		fail("providers.stt is remote but neither endpoints.proxy_url nor providers.stt.base_url is set")
	}
	if cfg.Wake.Validation.Enabled && cfg.Wake.Validation.Matcher == "remote" && cfg.Endpoints.ProxyURL == "" {
		fail("wake.validation.matcher is remote but endpoints.proxy_url is not set")
	}
	if cfg.Endpoints.ProxyToken == "" && cfg.Endpoints.ProxyURL != "" {
		slog.Warn("endpoints.proxy_token is empty; proxy calls are sent without x-token")
	}

	// Audio
	switch cfg.Audio.Source {
	case "portaudio":
	case "replay":
		if cfg.Audio.File == "" {
			fail("audio.file is required when audio.source is replay")
		}
	default:
		fail("audio.source %q is invalid; valid values: portaudio, replay", cfg.Audio.Source)
	}
	if cfg.Audio.SampleRate <= 0 {
		fail("audio.sample_rate must be positive")
	}
	switch cfg.Audio.FrameDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
	default:
		fail("audio.frame_duration %s is invalid; valid values: 10ms, 20ms, 30ms", cfg.Audio.FrameDuration)
	}
	if cfg.Audio.QueueSize < 1 {
		fail("audio.queue_size must be at least 1")
	}

	// Segment
	seg := cfg.Segment
	if seg.MaxLength <= seg.MinDuration {
		fail("segment.max_length %s must exceed segment.min_duration %s", seg.MaxLength, seg.MinDuration)
	}
	if seg.TriggerRatio <= 0 || seg.TriggerRatio > 1 {
		fail("segment.trigger_ratio %.2f is out of range (0, 1]", seg.TriggerRatio)
	}
	if seg.SilenceThreshold > seg.SpeechThreshold {
		fail("segment.silence_threshold %.2f must not exceed segment.speech_threshold %.2f", seg.SilenceThreshold, seg.SpeechThreshold)
	}

	// Wake
	if cfg.Wake.Threshold <= 0 || cfg.Wake.Threshold > 1 {
		fail("wake.threshold %.2f is out of range (0, 1]", cfg.Wake.Threshold)
	}
	v := cfg.Wake.Validation
	if !v.Policy.IsValid() {
		fail("wake.validation.policy %q is invalid; valid values: or, and", v.Policy)
	}
	if v.Matcher != "remote" && v.Matcher != "local" {
		fail("wake.validation.matcher %q is invalid; valid values: remote, local", v.Matcher)
	}
	if v.MinConfidence < 0 || v.MinConfidence > 1 {
		fail("wake.validation.min_confidence %.2f is out of range [0, 1]", v.MinConfidence)
	}

	// Speaker
	if cfg.Speaker.Threshold < -1 || cfg.Speaker.Threshold > 1 {
		fail("speaker.threshold %.2f is out of range [-1, 1]", cfg.Speaker.Threshold)
	}
	if !cfg.Speaker.Bypass && cfg.Providers.Voiceprint.Model == "" {
		fail("providers.voiceprint.model is required unless speaker.bypass is set")
	}
	if cfg.Providers.KWS.Model == "" {
		fail("providers.kws.model is required")
	}

	// Command
	c := cfg.Command
	if c.MaxDuration <= c.StartMin {
		fail("command.max_duration %s must exceed command.start_min %s", c.MaxDuration, c.StartMin)
	}
	if c.FallbackAfter < 0 || c.FallbackAfter > c.WakeWait {
		fail("command.fallback_after %s must be within [0, wake_wait]", c.FallbackAfter)
	}
	if c.StartRMS < c.IgnoreRMS {
		fail("command.start_rms %.0f must not be below command.ignore_rms %.0f", c.StartRMS, c.IgnoreRMS)
	}
	if c.MinSpeechRatio < 0 || c.MinSpeechRatio > 1 {
		fail("command.min_speech_ratio %.2f is out of range [0, 1]", c.MinSpeechRatio)
	}
	switch c.Fallback {
	case "none":
	case "remote":
		if cfg.Endpoints.ProxyURL == "" {
			fail("command.fallback is remote but endpoints.proxy_url is not set")
		}
	case "llm":
		if cfg.Providers.LLM.Name == "" {
			fail("command.fallback is llm but providers.llm is not configured")
		}
	default:
		fail("command.fallback %q is invalid; valid values: remote, llm, none", c.Fallback)
	}

	// Dispatch
	if cfg.Dispatch.MoveRepeat < 1 {
		fail("dispatch.move_repeat must be at least 1")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
