// Command sarvis is the on-device voice command daemon: it listens for the
// wake phrase, verifies the speaker and forwards parsed commands to the app
// backend and the robot actuator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/spf13/afero"

	"github.com/MrWong99/sarvis/internal/app"
	"github.com/MrWong99/sarvis/internal/config"
	"github.com/MrWong99/sarvis/internal/observe"
	"github.com/MrWong99/sarvis/internal/resilience"
	"github.com/MrWong99/sarvis/internal/session"
	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/audio/portaudio"
	"github.com/MrWong99/sarvis/pkg/audio/replay"
	ortmodel "github.com/MrWong99/sarvis/pkg/onnx"
	"github.com/MrWong99/sarvis/pkg/profile"
	profilefile "github.com/MrWong99/sarvis/pkg/profile/file"
	profilepg "github.com/MrWong99/sarvis/pkg/profile/postgres"
	"github.com/MrWong99/sarvis/pkg/provider/kws"
	kwsonnx "github.com/MrWong99/sarvis/pkg/provider/kws/onnx"
	"github.com/MrWong99/sarvis/pkg/provider/llm"
	"github.com/MrWong99/sarvis/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/sarvis/pkg/provider/llm/openai"
	"github.com/MrWong99/sarvis/pkg/provider/stt"
	oastt "github.com/MrWong99/sarvis/pkg/provider/stt/openai"
	"github.com/MrWong99/sarvis/pkg/provider/stt/remote"
	"github.com/MrWong99/sarvis/pkg/provider/stt/whisper"
	"github.com/MrWong99/sarvis/pkg/provider/vad"
	"github.com/MrWong99/sarvis/pkg/provider/vad/energy"
	"github.com/MrWong99/sarvis/pkg/provider/voiceprint"
	vponnx "github.com/MrWong99/sarvis/pkg/provider/voiceprint/onnx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultEmbeddingDims matches the bundled ECAPA speaker model.
const defaultEmbeddingDims = 192

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload thresholds when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sarvis: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sarvis: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sarvis starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      "sarvis",
		ServiceVersion:   version,
		InstanceID:       cfg.Server.DeviceID,
		TraceSampleRatio: cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, closers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		closeAll(closers)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Source.Close()
		closeAll(closers)
		return 1
	}
	for _, c := range closers {
		application.AddCloser(c)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, cur *config.Config) {
			diff := config.Diff(old, cur)
			if diff.LogLevelChanged {
				level.Set(slogLevel(diff.NewLogLevel))
				slog.Info("log level changed", "level", diff.NewLogLevel)
			}
			application.ApplyConfig(diff, cur)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("sarvis ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Sarvis. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":        anyllm.Backends(),
	"stt":        {"remote", "openai", "whisper-native"},
	"kws":        {"onnx"},
	"voiceprint": {"onnx"},
	"vad":        {"energy"},
	"profiles":   {"file", "postgres"},
	"source":     {"portaudio", "replay"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Factories close over cfg for the shared endpoints and the command
// language.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		p, err := oallm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// Every other backend goes through any-llm-go. Local servers (ollama,
	// llamacpp, llamafile) only need BaseURL.
	for _, name := range anyllm.Backends() {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(name, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("remote", func(entry config.ProviderEntry) (stt.Provider, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = cfg.Endpoints.ProxyURL
		}
		token := entry.APIKey
		if token == "" {
			token = cfg.Endpoints.ProxyToken
		}
		opts := []remote.Option{remote.WithToken(token), remote.WithLanguage(sttLanguage(entry, cfg))}
		if entry.Model != "" {
			opts = append(opts, remote.WithModel(entry.Model))
		}
		if p := config.OptString(entry.Options, "path"); p != "" {
			opts = append(opts, remote.WithPath(p))
		}
		p, err := remote.New(baseURL, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []oastt.Option{oastt.WithLanguage(sttLanguage(entry, cfg))}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		p, err := oastt.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		opts := []whisper.NativeOption{whisper.WithNativeLanguage(sttLanguage(entry, cfg))}
		if n := config.OptInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		p, err := whisper.NewNative(modelPath, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Keyword spotting and voiceprint ───────────────────────────────────────

	reg.RegisterKWS("onnx", func(entry config.ProviderEntry) (kws.Classifier, error) {
		var opts []kwsonnx.Option
		if labels := config.OptStrings(entry.Options, "labels"); len(labels) > 0 {
			opts = append(opts, kwsonnx.WithLabels(labels))
		}
		p, err := kwsonnx.New(entry.Model, modelOptions(entry), opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterVoiceprint("onnx", func(entry config.ProviderEntry) (voiceprint.Embedder, error) {
		p, err := vponnx.New(entry.Model, modelOptions(entry)...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if v, ok := entry.Options["floor_dbfs"].(float64); ok {
			opts = append(opts, energy.WithFloorDBFS(v))
		}
		if v, ok := entry.Options["ceiling_dbfs"].(float64); ok {
			opts = append(opts, energy.WithCeilingDBFS(v))
		}
		p, err := energy.New(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Speaker profiles ──────────────────────────────────────────────────────

	reg.RegisterProfiles("file", func(entry config.ProviderEntry) (profile.Store, error) {
		path := config.OptString(entry.Options, "path")
		if path == "" {
			path = filepath.Join(cfg.Session.Dir, session.MarkerFile)
		}
		return profilefile.New(afero.NewOsFs(), path), nil
	})

	reg.RegisterProfiles("postgres", func(entry config.ProviderEntry) (profile.Store, error) {
		dsn := config.OptString(entry.Options, "dsn")
		if dsn == "" {
			dsn = entry.BaseURL
		}
		dims := config.OptInt(entry.Options, "dimensions")
		if dims == 0 {
			dims = defaultEmbeddingDims
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := profilepg.NewStore(ctx, dsn, dims)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Audio sources ─────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(ac config.AudioConfig) (audio.Source, error) {
		var opts []portaudio.Option
		if ac.Device != "" {
			opts = append(opts, portaudio.WithDevice(ac.Device))
		}
		p, err := portaudio.New(audioFormat(ac), opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterSource("replay", func(ac config.AudioConfig) (audio.Source, error) {
		var opts []replay.Option
		if ac.Realtime {
			opts = append(opts, replay.WithRealtime())
		}
		if ac.Loop {
			opts = append(opts, replay.WithLoop())
		}
		p, err := replay.Open(afero.NewOsFs(), ac.File, audioFormat(ac), opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume, plus closers for the ones holding native or pooled resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (_ *app.Providers, closers []func() error, err error) {
	ps := &app.Providers{}
	track := func(v any) {
		switch c := v.(type) {
		case io.Closer:
			closers = append(closers, c.Close)
		case interface{ Close() }:
			closers = append(closers, func() error { c.Close(); return nil })
		}
	}

	src, err := reg.CreateSource(cfg.Audio)
	if err != nil {
		return nil, closers, fmt.Errorf("create audio source %q: %w", cfg.Audio.Source, err)
	}
	// The app closes the source once it owns it.
	defer func() {
		if err != nil {
			_ = src.Close()
		}
	}()
	ps.Source = src
	slog.Info("provider created", "kind", "source", "name", cfg.Audio.Source, "format", src.Format())

	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, closers, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	if ps.KWS, err = reg.CreateKWS(cfg.Providers.KWS); err != nil {
		return nil, closers, fmt.Errorf("create kws provider %q: %w", cfg.Providers.KWS.Name, err)
	}
	track(ps.KWS)
	slog.Info("provider created", "kind", "kws", "name", cfg.Providers.KWS.Name, "model", cfg.Providers.KWS.Model)

	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, closers, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	track(primary)
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	ps.STT = primary

	if len(cfg.Providers.STTFallbacks) > 0 {
		group := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, closers, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
			}
			track(p)
			group.AddFallback(entry.Name, p)
			slog.Info("provider created", "kind", "stt_fallback", "name", entry.Name)
		}
		ps.STT = group
	}

	if !cfg.Speaker.Bypass {
		if ps.Voiceprint, err = reg.CreateVoiceprint(cfg.Providers.Voiceprint); err != nil {
			return nil, closers, fmt.Errorf("create voiceprint provider %q: %w", cfg.Providers.Voiceprint.Name, err)
		}
		track(ps.Voiceprint)
		slog.Info("provider created", "kind", "voiceprint", "name", cfg.Providers.Voiceprint.Name)

		if ps.Profiles, err = reg.CreateProfiles(cfg.Providers.Profiles); err != nil {
			return nil, closers, fmt.Errorf("create profile store %q: %w", cfg.Providers.Profiles.Name, err)
		}
		track(ps.Profiles)
		slog.Info("provider created", "kind", "profiles", "name", cfg.Providers.Profiles.Name)
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown llm provider, skipping", "name", name)
		} else if err != nil {
			return nil, closers, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}
	if ps.LLM != nil && len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(ps.LLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, closers, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
			slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name)
		}
		ps.LLM = group
	}

	return ps, closers, nil
}

func closeAll(closers []func() error) {
	for _, c := range closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

func sttLanguage(entry config.ProviderEntry, cfg *config.Config) string {
	if lang := config.OptString(entry.Options, "language"); lang != "" {
		return lang
	}
	return cfg.Command.Language
}

func modelOptions(entry config.ProviderEntry) []ortmodel.Option {
	var opts []ortmodel.Option
	if lib := config.OptString(entry.Options, "library_path"); lib != "" {
		opts = append(opts, ortmodel.WithLibraryPath(lib))
	}
	if n := config.OptInt(entry.Options, "threads"); n > 0 {
		opts = append(opts, ortmodel.WithThreads(n, 1))
	}
	return opts
}

func audioFormat(ac config.AudioConfig) audio.Format {
	return audio.Format{SampleRate: ac.SampleRate, FrameDuration: ac.FrameDuration}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Sarvis — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Source", cfg.Audio.Source+" "+audioFormat(cfg.Audio).String())
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("STT fallbacks", fmt.Sprint(len(cfg.Providers.STTFallbacks)))
	printRow("KWS", providerLabel(cfg.Providers.KWS))
	if cfg.Speaker.Bypass {
		printRow("Speaker", "bypass")
	} else {
		printRow("Speaker", providerLabel(cfg.Providers.Voiceprint))
	}
	wake := string(cfg.Wake.Validation.Policy)
	if !cfg.Wake.Validation.Enabled {
		wake = "kws only"
	}
	printRow("Wake policy", wake)
	printRow("Cmd fallback", cfg.Command.Fallback)
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + filepath.Base(e.Model)
	}
	return e.Name
}

func printRow(kind, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger and the level variable that hot reload
// adjusts.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
