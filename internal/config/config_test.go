package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/sarvis/internal/config"
	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/profile"
	"github.com/MrWong99/sarvis/pkg/provider/kws"
	kwsmock "github.com/MrWong99/sarvis/pkg/provider/kws/mock"
	"github.com/MrWong99/sarvis/pkg/provider/stt"
	sttmock "github.com/MrWong99/sarvis/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9191"
  log_level: debug

endpoints:
  proxy_url: http://proxy.local:8000
  proxy_token: secret
  backend_url: http://backend.local:8080
  actuator_url: http://127.0.0.1:5000

providers:
  stt:
    name: remote
  stt_fallbacks:
    - name: whisper-native
      model: /models/ggml-small.bin
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: llamacpp
      model: qwen2.5-3b-instruct
      base_url: http://192.168.0.20:8080/v1
  kws:
    name: onnx
    model: /models/kws.onnx
    options:
      labels: [WAKE, UNKNOWN]
  voiceprint:
    name: onnx
    model: /models/speaker.onnx
  profiles:
    name: file
    options:
      path: /run/sarvis/current_user.json

audio:
  source: portaudio
  device: B100

wake:
  threshold: 0.6
  validation:
    enabled: true
    policy: and
    targets: [싸비스, 사비스]

speaker:
  threshold: 0.45

command:
  start_rms: 300
  pre_buffer: false
  archive_dir: /tmp
`

func minimalYAML(extra string) string {
	return `
endpoints:
  proxy_url: http://proxy
  backend_url: http://backend
  actuator_url: http://actuator
providers:
  kws:
    model: kws.onnx
  voiceprint:
    model: speaker.onnx
` + extra
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9191" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Endpoints.ProxyToken != "secret" {
		t.Errorf("proxy_token = %q", cfg.Endpoints.ProxyToken)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Name != "whisper-native" {
		t.Errorf("stt_fallbacks = %+v", cfg.Providers.STTFallbacks)
	}
	if fb := cfg.Providers.LLMFallbacks; len(fb) != 1 || fb[0].Name != "llamacpp" || fb[0].BaseURL == "" {
		t.Errorf("llm_fallbacks = %+v", fb)
	}
	if got := config.OptStrings(cfg.Providers.KWS.Options, "labels"); len(got) != 2 || got[0] != "WAKE" {
		t.Errorf("kws labels = %v", got)
	}
	if cfg.Wake.Threshold != 0.6 || cfg.Wake.Validation.Policy != config.WakePolicyAnd {
		t.Errorf("wake = %+v", cfg.Wake)
	}
	if len(cfg.Wake.Validation.Targets) != 2 || cfg.Wake.Validation.Targets[0] != "싸비스" {
		t.Errorf("targets = %v", cfg.Wake.Validation.Targets)
	}
	if cfg.Command.StartRMS != 300 {
		t.Errorf("start_rms = %v", cfg.Command.StartRMS)
	}
	if config.Bool(cfg.Command.PreBuffer) {
		t.Error("explicit pre_buffer: false was overwritten by the default")
	}
	if cfg.Command.ArchiveDir != "/tmp" {
		t.Errorf("archive_dir = %q", cfg.Command.ArchiveDir)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML("")))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"sample_rate", cfg.Audio.SampleRate, 48000},
		{"frame_duration", cfg.Audio.FrameDuration, 30 * time.Millisecond},
		{"queue_size", cfg.Audio.QueueSize, 3},
		{"pre_roll", cfg.Segment.PreRoll, 400 * time.Millisecond},
		{"segment silence", cfg.Segment.SilenceTimeout, 1500 * time.Millisecond},
		{"min_duration", cfg.Segment.MinDuration, 350 * time.Millisecond},
		{"rms_gate", cfg.Segment.RMSGate, 250.0},
		{"wake threshold", cfg.Wake.Threshold, 0.70},
		{"policy", cfg.Wake.Validation.Policy, config.WakePolicyOr},
		{"speaker threshold", cfg.Speaker.Threshold, 0.35},
		{"speaker min segment", cfg.Speaker.MinSegment, 800 * time.Millisecond},
		{"feedback timeout", cfg.Feedback.Timeout, 10 * time.Second},
		{"wake_wait", cfg.Command.WakeWait, 15 * time.Second},
		{"start_min", cfg.Command.StartMin, 150 * time.Millisecond},
		{"silence_finalize", cfg.Command.SilenceFinalize, 1200 * time.Millisecond},
		{"max_duration", cfg.Command.MaxDuration, 4 * time.Second},
		{"ignore_rms", cfg.Command.IgnoreRMS, 150.0},
		{"start_rms", cfg.Command.StartRMS, 250.0},
		{"fallback_rms", cfg.Command.FallbackRMS, 80.0},
		{"fallback_enabled", config.Bool(cfg.Command.FallbackEnabled), true},
		{"pre_buffer", config.Bool(cfg.Command.PreBuffer), true},
		{"min_speech_ratio", cfg.Command.MinSpeechRatio, 0.25},
		{"active_timeout", cfg.Command.ActiveTimeout, 4 * time.Second},
		{"cooldown", cfg.Command.Cooldown, 800 * time.Millisecond},
		{"speaker_cache", cfg.Command.SpeakerCache, 8 * time.Second},
		{"stt_timeout", cfg.Command.STTTimeout, 6 * time.Second},
		{"fallback_timeout", cfg.Command.FallbackTimeout, 3 * time.Second},
		{"language", cfg.Command.Language, "ko"},
		{"move_repeat", cfg.Dispatch.MoveRepeat, 6},
		{"move_interval", cfg.Dispatch.MoveInterval, 50 * time.Millisecond},
		{"session dir", cfg.Session.Dir, "/run/sarvis"},
		{"poll_interval", cfg.Session.PollInterval, 200 * time.Millisecond},
		{"stt provider", cfg.Providers.STT.Name, "remote"},
		{"profiles provider", cfg.Providers.Profiles.Name, "file"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_ExplicitZeros(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML(`
segment:
  rms_gate: 0
command:
  ignore_rms: 0
  fallback_rms: 0
  min_speech_ratio: 0
  cooldown: 0s
  fallback_enabled: false
`)))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"rms_gate", cfg.Segment.RMSGate, 0.0},
		{"ignore_rms", cfg.Command.IgnoreRMS, 0.0},
		{"fallback_rms", cfg.Command.FallbackRMS, 0.0},
		{"min_speech_ratio", cfg.Command.MinSpeechRatio, 0.0},
		{"cooldown", cfg.Command.Cooldown, time.Duration(0)},
		{"fallback_enabled", config.Bool(cfg.Command.FallbackEnabled), false},
		// Siblings absent from the file keep their defaults.
		{"start_rms", cfg.Command.StartRMS, 250.0},
		{"segment silence", cfg.Segment.SilenceTimeout, 1500 * time.Millisecond},
		{"pre_buffer", config.Bool(cfg.Command.PreBuffer), true},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML("npcs: []\n")))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_CreateSTT(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		got = e
		return &sttmock.Provider{Text: "hi"}, nil
	})

	p, err := reg.CreateSTT(config.ProviderEntry{Name: "mock", Model: "m"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if got.Model != "m" {
		t.Errorf("factory received %+v", got)
	}
	tr, err := p.Transcribe(context.Background(), stt.Request{})
	if err != nil || tr.Text != "hi" {
		t.Errorf("Transcribe = %+v, %v", tr, err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, errSTT := reg.CreateSTT(config.ProviderEntry{Name: "nope"})
	_, errLLM := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	_, errKWS := reg.CreateKWS(config.ProviderEntry{Name: "nope"})
	_, errVP := reg.CreateVoiceprint(config.ProviderEntry{Name: "nope"})
	_, errVAD := reg.CreateVAD(config.ProviderEntry{Name: "nope"})
	_, errProf := reg.CreateProfiles(config.ProviderEntry{Name: "nope"})
	_, errSrc := reg.CreateSource(config.AudioConfig{Source: "nope"})

	for i, err := range []error{errSTT, errLLM, errKWS, errVP, errVAD, errProf, errSrc} {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("case %d: err = %v, want ErrProviderNotRegistered", i, err)
		}
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("model missing")
	reg.RegisterKWS("onnx", func(config.ProviderEntry) (kws.Classifier, error) { return nil, boom })
	reg.RegisterProfiles("file", func(config.ProviderEntry) (profile.Store, error) { return nil, boom })
	reg.RegisterSource("replay", func(config.AudioConfig) (audio.Source, error) { return nil, boom })

	if _, err := reg.CreateKWS(config.ProviderEntry{Name: "onnx"}); !errors.Is(err, boom) {
		t.Errorf("CreateKWS err = %v", err)
	}
	if _, err := reg.CreateProfiles(config.ProviderEntry{Name: "file"}); !errors.Is(err, boom) {
		t.Errorf("CreateProfiles err = %v", err)
	}
	if _, err := reg.CreateSource(config.AudioConfig{Source: "replay"}); !errors.Is(err, boom) {
		t.Errorf("CreateSource err = %v", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterKWS("x", func(config.ProviderEntry) (kws.Classifier, error) { return nil, errors.New("first") })
	reg.RegisterKWS("x", func(config.ProviderEntry) (kws.Classifier, error) { return &kwsmock.Classifier{}, nil })

	if _, err := reg.CreateKWS(config.ProviderEntry{Name: "x"}); err != nil {
		t.Fatalf("second registration should win, got %v", err)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"s":    "value",
		"n":    4,
		"f":    2.0,
		"list": []any{"a", 1, "b"},
	}
	if got := config.OptString(opts, "s"); got != "value" {
		t.Errorf("OptString = %q", got)
	}
	if got := config.OptString(opts, "n"); got != "" {
		t.Errorf("OptString(non-string) = %q", got)
	}
	if got := config.OptString(nil, "s"); got != "" {
		t.Errorf("OptString(nil) = %q", got)
	}
	if got := config.OptInt(opts, "n"); got != 4 {
		t.Errorf("OptInt = %d", got)
	}
	if got := config.OptInt(opts, "f"); got != 2 {
		t.Errorf("OptInt(float) = %d", got)
	}
	if got := config.OptStrings(opts, "list"); len(got) != 2 || got[1] != "b" {
		t.Errorf("OptStrings = %v", got)
	}
}
