// Package config provides the configuration schema, loader, defaults and
// provider registry for the sarvis voice command pipeline.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// WakePolicy selects how the keyword classifier and the transcription check
// combine.
type WakePolicy string

const (
	WakePolicyOr  WakePolicy = "or"
	WakePolicyAnd WakePolicy = "and"
)

// IsValid reports whether p is a recognised policy.
func (p WakePolicy) IsValid() bool { return p == WakePolicyOr || p == WakePolicyAnd }

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Segment   SegmentConfig   `yaml:"segment"`
	Wake      WakeConfig      `yaml:"wake"`
	Speaker   SpeakerConfig   `yaml:"speaker"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Command   CommandConfig   `yaml:"command"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds the ops server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ops server serving /metrics,
	// /healthz, /readyz and /events (e.g., ":9090"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// EventOrigins lists the origin patterns accepted by /events.
	EventOrigins []string `yaml:"event_origins"`

	// DeviceID is reported as service.instance.id. Defaults to the host name.
	DeviceID string `yaml:"device_id"`

	// TraceSampleRatio samples root spans when in (0, 1); 0 keeps all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// EndpointsConfig holds the remote services the device talks to.
type EndpointsConfig struct {
	// ProxyURL serves /stt, /llm_parse and /verify_wake.
	ProxyURL string `yaml:"proxy_url"`

	// ProxyToken is sent as x-token on every proxy call.
	ProxyToken string `yaml:"proxy_token"`

	// BackendURL serves the feedback trigger and the app control relay.
	BackendURL string `yaml:"backend_url"`

	// ActuatorURL serves /voice_command and /button_command.
	ActuatorURL string `yaml:"actuator_url"`
}

// ProvidersConfig declares which provider implementation to use for each
// model-backed stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// STT transcribes commands and, when the validator is on, wake phrases.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// LLM backs the command parse fallback when command.fallback is "llm".
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails, typically a LAN
	// llama.cpp server behind a hosted model.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// KWS is the keyword classifier.
	KWS ProviderEntry `yaml:"kws"`

	// Voiceprint is the speaker embedding model.
	Voiceprint ProviderEntry `yaml:"voiceprint"`

	// VAD is the frame-level voice activity detector.
	VAD ProviderEntry `yaml:"vad"`

	// Profiles is the enrolled speaker store.
	Profiles ProviderEntry `yaml:"profiles"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "remote",
	// "onnx", "file").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model name or, for local providers, a model file path.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig selects the capture backend and stream format.
type AudioConfig struct {
	// Source is "portaudio" (default) or "replay".
	Source string `yaml:"source"`

	// Device is a substring of the capture device name. Empty uses the
	// default input.
	Device string `yaml:"device"`

	// File is the WAV file played by the replay source.
	File string `yaml:"file"`

	// Realtime paces the replay source at the frame rate.
	Realtime bool `yaml:"realtime"`

	// Loop restarts the replay source at the end of the file.
	Loop bool `yaml:"loop"`

	SampleRate    int           `yaml:"sample_rate"`
	FrameDuration time.Duration `yaml:"frame_duration"`

	// QueueSize bounds the segment queue between capture and worker.
	QueueSize int `yaml:"queue_size"`
}

// SegmentConfig tunes the speech segmenter.
type SegmentConfig struct {
	PreRoll        time.Duration `yaml:"pre_roll"`
	TriggerRatio   float64       `yaml:"trigger_ratio"`
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	MaxLength      time.Duration `yaml:"max_length"`
	MinDuration    time.Duration `yaml:"min_duration"`
	RMSGate        float64       `yaml:"rms_gate"`
	RMSEMAAlpha    float64       `yaml:"rms_ema_alpha"`

	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

// WakeConfig tunes wake phrase detection.
type WakeConfig struct {
	// Threshold is the keyword classifier confidence needed to accept.
	// Hot-reloadable.
	Threshold float64 `yaml:"threshold"`

	// Clip is the classifier input length.
	Clip time.Duration `yaml:"clip"`

	// MinSegment is the shortest segment considered for wake detection.
	MinSegment time.Duration `yaml:"min_segment"`

	// Validation configures the transcription second stage.
	Validation WakeValidationConfig `yaml:"validation"`
}

// WakeValidationConfig configures the transcription check.
type WakeValidationConfig struct {
	Enabled bool       `yaml:"enabled"`
	Policy  WakePolicy `yaml:"policy"`

	// Matcher is "remote" (proxy /verify_wake) or "local".
	Matcher string `yaml:"matcher"`

	Targets []string `yaml:"targets"`

	// MinConfidence is the match confidence needed to accept.
	// Hot-reloadable.
	MinConfidence float64 `yaml:"min_confidence"`

	STTTimeout    time.Duration `yaml:"stt_timeout"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
}

// SpeakerConfig tunes speaker verification.
type SpeakerConfig struct {
	// Bypass accepts every wake as the logged-in user without running the
	// model.
	Bypass bool `yaml:"bypass"`

	// BypassUID is used in bypass mode when no user is logged in.
	BypassUID string `yaml:"bypass_uid"`

	// Threshold is the cosine similarity needed to accept. Hot-reloadable.
	Threshold float64 `yaml:"threshold"`

	MinSegment     time.Duration `yaml:"min_segment"`
	NoiseReduction *bool         `yaml:"noise_reduction"`
}

// FeedbackConfig tunes the app acknowledgement gate.
type FeedbackConfig struct {
	// Disabled skips the acknowledgement entirely.
	Disabled bool `yaml:"disabled"`

	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`

	// BreakerFailures opens the circuit after this many consecutive
	// failures.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerReset is how long the circuit stays open.
	BreakerReset time.Duration `yaml:"breaker_reset"`
}

// CommandConfig tunes command collection, transcription and parsing. The
// collection thresholds are hot-reloadable.
type CommandConfig struct {
	WakeWait        time.Duration `yaml:"wake_wait"`
	FallbackAfter   time.Duration `yaml:"fallback_after"`
	StartMin        time.Duration `yaml:"start_min"`
	SilenceFinalize time.Duration `yaml:"silence_finalize"`
	MaxDuration     time.Duration `yaml:"max_duration"`

	IgnoreRMS       float64 `yaml:"ignore_rms"`
	StartRMS        float64 `yaml:"start_rms"`
	FallbackRMS     float64 `yaml:"fallback_rms"`
	FallbackEnabled *bool   `yaml:"fallback_enabled"`
	MinSpeechRatio  float64 `yaml:"min_speech_ratio"`
	PreBuffer       *bool   `yaml:"pre_buffer"`

	ActiveTimeout time.Duration `yaml:"active_timeout"`
	Cooldown      time.Duration `yaml:"cooldown"`
	SpeakerCache  time.Duration `yaml:"speaker_cache"`

	Language   string        `yaml:"language"`
	STTTimeout time.Duration `yaml:"stt_timeout"`

	// Fallback selects the parse fallback: "remote" (proxy /llm_parse),
	// "llm" (providers.llm) or "none".
	Fallback        string        `yaml:"fallback"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`

	// ArchiveDir keeps every finalized command as cmd_<request id>.wav.
	// Empty disables archiving.
	ArchiveDir string `yaml:"archive_dir"`
}

// DispatchConfig tunes command delivery.
type DispatchConfig struct {
	MoveRepeat      int           `yaml:"move_repeat"`
	MoveInterval    time.Duration `yaml:"move_interval"`
	AppTimeout      time.Duration `yaml:"app_timeout"`
	ActuatorTimeout time.Duration `yaml:"actuator_timeout"`
}

// SessionConfig locates the login marker.
type SessionConfig struct {
	// Dir holds current_user.json and enrolling.flag.
	Dir string `yaml:"dir"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxAge expires markers older than this. Zero disables the check.
	MaxAge time.Duration `yaml:"max_age"`
}
