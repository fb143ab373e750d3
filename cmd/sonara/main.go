// Command sonara is the main entry point for the Sonara voice assistant
// server.
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
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/perivale/sonara/internal/app"
	"github.com/perivale/sonara/internal/config"
	"github.com/perivale/sonara/internal/dispatch"
	"github.com/perivale/sonara/internal/observe"
	"github.com/perivale/sonara/internal/resilience"
	"github.com/perivale/sonara/pkg/provider/apps"
	"github.com/perivale/sonara/pkg/provider/apps/adb"
	"github.com/perivale/sonara/pkg/provider/embeddings"
	oaembed "github.com/perivale/sonara/pkg/provider/embeddings/openai"
	"github.com/perivale/sonara/pkg/provider/llm"
	"github.com/perivale/sonara/pkg/provider/llm/anyllm"
	oallm "github.com/perivale/sonara/pkg/provider/llm/openai"
	"github.com/perivale/sonara/pkg/provider/stt"
	"github.com/perivale/sonara/pkg/provider/stt/whisper"
	"github.com/perivale/sonara/pkg/provider/tts"
	"github.com/perivale/sonara/pkg/provider/tts/coqui"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sonara: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sonara: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("sonara starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "sonara",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// The watcher applies log level changes here, since main owns the slog
	// handler; everything else hot-reloadable goes through the application.
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		application.ApplyConfig(updated)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printSummary(os.Stderr, cfg)
	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// The native OpenAI client supports org-scoped keys and custom base URLs.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted backends go through any-llm-go: optional APIKey
	// plus optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// Local servers use BaseURL for the address, not an API key.
	for _, providerName := range []string{"ollama", "llamacpp", "llamafile"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterApps("adb", func(entry config.ProviderEntry) (apps.Provider, error) {
		var opts []adb.Option
		if bin := optString(entry.Options, "binary"); bin != "" {
			opts = append(opts, adb.WithBinary(bin))
		}
		if serial := optString(entry.Options, "serial"); serial != "" {
			opts = append(opts, adb.WithSerial(serial))
		}
		return adb.New(opts...), nil
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		if fbs := cfg.Providers.STT.Fallbacks; len(fbs) > 0 {
			chain := resilience.NewSTTFallback(p, resilience.FallbackConfig{})
			for _, fb := range fbs {
				fp, err := reg.CreateSTT(fb)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
				}
				chain.AddFallback(fp, resilience.FallbackConfig{})
			}
			p = chain
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name,
			"fallbacks", len(cfg.Providers.STT.Fallbacks))
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		if fbs := cfg.Providers.TTS.Fallbacks; len(fbs) > 0 {
			chain := resilience.NewTTSFallback(name, p, resilience.FallbackConfig{})
			for _, fb := range fbs {
				fp, err := reg.CreateTTS(fb)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
				}
				chain.AddFallback(fb.Name, fp, resilience.FallbackConfig{})
			}
			p = chain
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name,
			"fallbacks", len(cfg.Providers.TTS.Fallbacks))
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		if fbs := cfg.Providers.LLM.Fallbacks; len(fbs) > 0 {
			chain := resilience.NewLLMFallback(p, resilience.FallbackConfig{})
			for _, fb := range fbs {
				fp, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
				}
				chain.AddFallback(fp, resilience.FallbackConfig{})
			}
			p = chain
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name,
			"model", cfg.Providers.LLM.Model, "fallbacks", len(cfg.Providers.LLM.Fallbacks))
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if name := cfg.Providers.Apps.Name; name != "" {
		p, err := reg.CreateApps(cfg.Providers.Apps)
		if err != nil {
			return nil, fmt.Errorf("create apps provider %q: %w", name, err)
		}
		ps.Apps = p
		slog.Info("provider created", "kind", "apps", "name", name)
	}

	return ps, nil
}

// printSummary writes a one-screen plain-text overview of the effective
// configuration. Secrets never appear here.
func printSummary(w io.Writer, cfg *config.Config) {
	wake := cfg.Assistant.WakeWord
	if wake == "" {
		wake = dispatch.DefaultWakeWord
	}
	store := "in-memory"
	if cfg.History.PostgresDSN != "" {
		store = "postgres"
	}

	fmt.Fprintf(w, "sonara %s\n", version)
	fmt.Fprintf(w, "  listen:     %s (tls: %t)\n", cfg.Server.ListenAddr, cfg.Server.TLS != nil)
	fmt.Fprintf(w, "  stt:        %s\n", providerSummary(cfg.Providers.STT))
	fmt.Fprintf(w, "  tts:        %s\n", providerSummary(cfg.Providers.TTS))
	fmt.Fprintf(w, "  llm:        %s\n", providerSummary(cfg.Providers.LLM))
	fmt.Fprintf(w, "  embeddings: %s\n", providerSummary(cfg.Providers.Embeddings))
	fmt.Fprintf(w, "  apps:       %s\n", providerSummary(cfg.Providers.Apps))
	fmt.Fprintf(w, "  wake word:  %s\n", wake)
	fmt.Fprintf(w, "  history:    %s\n", store)
}

// providerSummary renders one provider slot as "name (model), N fallbacks".
func providerSummary(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(none)"
	}
	s := e.Name
	if e.Model != "" {
		s += " (" + e.Model + ")"
	}
	switch n := len(e.Fallbacks); n {
	case 0:
	case 1:
		s += ", 1 fallback"
	default:
		s += fmt.Sprintf(", %d fallbacks", n)
	}
	return s
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

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
