// Command auricle is the main entry point for the Auricle transcription
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/auricle/internal/app"
	"github.com/MrWong99/auricle/internal/archive"
	archivepg "github.com/MrWong99/auricle/internal/archive/postgres"
	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/events"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/resilience"
	"github.com/MrWong99/auricle/pkg/provider/transcribe"
	stmock "github.com/MrWong99/auricle/pkg/provider/transcribe/mock"
	"github.com/MrWong99/auricle/pkg/provider/transcribe/openai"
	"github.com/MrWong99/auricle/pkg/provider/transcribe/whisper"
	"github.com/MrWong99/auricle/pkg/provider/vad"
	"github.com/MrWong99/auricle/pkg/provider/vad/energy"
	vmock "github.com/MrWong99/auricle/pkg/provider/vad/mock"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ─────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auricle: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config hot reload can retune it.
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("auricle starting",
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
		ServiceName:    "auricle",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, app.WithLogLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfigChange)
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Auricle. Used for startup logging.
var builtinProviders = map[string][]string{
	"transcriber": {"whisper-native", "openai", "mock"},
	"vad":         {"energy", "mock"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if threads := optInt(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whisper.WithThreads(threads))
		}
		return whisper.New(modelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The mock transcriber echoes scripted results; only useful for demos and
	// smoke tests without a model or API key.
	reg.RegisterTranscriber("mock", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		name := entry.Model
		if name == "" {
			name = "mock"
		}
		return &stmock.Provider{NameVal: name}, nil
	})

	// ── VAD engines ───────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterVAD("mock", func(config.ProviderEntry) (vad.Engine, error) {
		return &vmock.Engine{}, nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates everything named in cfg using the registry and
// returns it in an [app.Providers] struct for the application to consume.
// The transcriber is always wrapped in a fallback chain so per-provider
// circuit breaking applies even with a single provider.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// ── Transcriber chain ─────────────────────────────────────────────────────
	primary, err := reg.CreateTranscriber(cfg.Transcriber.Primary)
	if err != nil {
		return nil, fmt.Errorf("create transcriber %q: %w", cfg.Transcriber.Primary.Name, err)
	}
	chain := resilience.NewTranscribeFallback(primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Pipeline.CircuitBreakerFailureThreshold,
			ResetTimeout: cfg.Pipeline.CircuitBreakerOpenDuration(),
		},
	})
	for _, entry := range cfg.Transcriber.Fallbacks {
		p, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback transcriber %q: %w", entry.Name, err)
		}
		chain.AddFallback(p)
		slog.Info("provider created", "kind", "transcriber", "name", entry.Name, "role", "fallback")
	}
	ps.Transcriber = chain
	slog.Info("provider created", "kind", "transcriber", "name", cfg.Transcriber.Primary.Name, "role", "primary")

	// ── VAD ───────────────────────────────────────────────────────────────────
	engine, err := reg.CreateVAD(config.ProviderEntry{Name: string(cfg.VAD.Engine)})
	if err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", cfg.VAD.Engine, err)
	}
	ps.VAD = engine
	slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Engine)

	// ── Event publisher ───────────────────────────────────────────────────────
	if cfg.Events.RedisAddr != "" {
		pub, err := events.NewRedisPublisher(ctx, cfg.Events.RedisAddr, cfg.Events.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("connect redis publisher: %w", err)
		}
		ps.Publisher = pub
		slog.Info("event publisher connected", "kind", "redis",
			"addr", cfg.Events.RedisAddr, "channel", cfg.Events.RedisChannel)
	} else {
		ps.Publisher = events.LogPublisher{}
		slog.Info("event publisher configured", "kind", "log")
	}

	// ── Archive ───────────────────────────────────────────────────────────────
	if cfg.Archive.PostgresDSN != "" {
		store, err := archivepg.NewStore(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect archive: %w", err)
		}
		ps.Archive = store
		slog.Info("archive connected", "kind", "postgres")
	} else {
		ps.Archive = archive.Noop{}
		slog.Info("archive disabled")
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Auricle — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcriber", cfg.Transcriber.Primary.Name, cfg.Transcriber.Primary.Model)
	for _, fb := range cfg.Transcriber.Fallbacks {
		printProvider("  fallback", fb.Name, fb.Model)
	}
	printProvider("VAD", string(cfg.VAD.Engine), "")
	if cfg.Events.RedisAddr != "" {
		fmt.Printf("║  Events          : %-19s ║\n", "redis")
	} else {
		fmt.Printf("║  Events          : %-19s ║\n", "log")
	}
	if cfg.Archive.PostgresDSN != "" {
		fmt.Printf("║  Archive         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Archive         : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Vocabulary      : %-19d ║\n", len(cfg.Transcript.Vocabulary))
	fmt.Printf("║  Workers         : %-19d ║\n", cfg.Pipeline.WorkerCount)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(label, name, model string) {
	if name == "" {
		name = "(none)"
	}
	display := name
	if model != "" {
		display = fmt.Sprintf("%s/%s", name, model)
	}
	if len(display) > 19 {
		display = display[:16] + "..."
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, display)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a provider Options map[string]any.
// YAML decodes small numbers as int; anything else yields 0.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
