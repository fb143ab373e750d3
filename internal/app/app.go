// Package app wires all Sonara subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the status endpoints until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithHistoryStore, WithAudioDevice, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/perivale/sonara/internal/apps"
	"github.com/perivale/sonara/internal/command"
	"github.com/perivale/sonara/internal/config"
	"github.com/perivale/sonara/internal/dispatch"
	"github.com/perivale/sonara/internal/health"
	"github.com/perivale/sonara/internal/history"
	historypg "github.com/perivale/sonara/internal/history/postgres"
	"github.com/perivale/sonara/internal/observe"
	"github.com/perivale/sonara/internal/session"
	"github.com/perivale/sonara/pkg/audio"
	"github.com/perivale/sonara/pkg/audio/bridge"
	appsprov "github.com/perivale/sonara/pkg/provider/apps"
	"github.com/perivale/sonara/pkg/provider/apps/adb"
	"github.com/perivale/sonara/pkg/provider/embeddings"
	"github.com/perivale/sonara/pkg/provider/llm"
	"github.com/perivale/sonara/pkg/provider/stt"
	"github.com/perivale/sonara/pkg/provider/tts"
)

// shutdownGrace bounds the HTTP server drain during Shutdown.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT        stt.Provider
	TTS        tts.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
	Apps       appsprov.Provider
}

// App owns all subsystem lifetimes and orchestrates the Sonara assistant.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store      history.Store
	bridge     *bridge.Bridge
	recorder   audio.Recorder
	player     audio.Player
	speaker    *session.Speaker
	registry   *command.Registry
	resolver   *apps.Resolver
	launcher   *appsprov.Cache
	dispatcher *dispatch.Dispatcher
	manager    *session.Manager
	httpSrv    *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAudioDevice injects a recorder and player instead of using the
// websocket bridge.
func WithAudioDevice(r audio.Recorder, p audio.Player) Option {
	return func(a *App) {
		a.recorder = r
		a.player = p
	}
}

// WithMetrics injects a metrics bundle instead of using the global meter
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if providers.STT == nil {
		return nil, fmt.Errorf("app: an STT provider is required")
	}
	if providers.TTS == nil {
		return nil, fmt.Errorf("app: a TTS provider is required")
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	a.initAudio()
	a.initSpeaker()
	a.initLauncher()
	a.initResolver()
	a.initDispatcher()
	a.initManager()
	a.registerBuiltins()
	a.initHTTP()

	return a, nil
}

// initHistory sets up the PostgreSQL-backed store when a DSN is configured,
// falling back to the in-memory store otherwise.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		var opts []history.MemOption
		if w := a.cfg.History.DedupWindow.Std(); w > 0 {
			opts = append(opts, history.WithDedupWindow(w))
		}
		a.store = history.NewMemStore(opts...)
		slog.Info("using in-memory history store")
		return nil
	}

	dims := a.cfg.History.EmbeddingDimensions
	if dims == 0 {
		if a.providers.Embeddings != nil {
			dims = a.providers.Embeddings.Dimensions()
		} else {
			dims = 1536 // matches OpenAI text-embedding-3-small
		}
	}

	var opts []historypg.Option
	if a.providers.Embeddings != nil {
		opts = append(opts, historypg.WithEmbedder(a.providers.Embeddings))
	}
	if w := a.cfg.History.DedupWindow.Std(); w > 0 {
		opts = append(opts, historypg.WithDedupWindow(w))
	}

	store, err := historypg.New(ctx, dsn, dims, opts...)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("using postgres history store", "embedding_dimensions", dims,
		"semantic_recall", a.providers.Embeddings != nil)
	return nil
}

// initAudio creates the websocket device bridge unless a recorder and
// player were injected.
func (a *App) initAudio() {
	if a.recorder != nil && a.player != nil {
		return
	}
	b := bridge.New()
	a.bridge = b
	a.recorder = b
	a.player = b
}

func (a *App) initSpeaker() {
	a.speaker = session.NewSpeaker(a.providers.TTS, a.player,
		session.WithVoice(tts.VoiceProfile{
			ID:       a.cfg.Assistant.VoiceID,
			Provider: a.cfg.Providers.TTS.Name,
		}),
		session.WithSpeakerMetrics(a.metrics),
	)
}

// initLauncher wraps the apps provider in a process-lifetime inventory
// cache. Without a configured provider the ADB implementation is used; it
// fails per call when no device is attached, which the dispatcher already
// treats as recoverable.
func (a *App) initLauncher() {
	p := a.providers.Apps
	if p == nil {
		p = adb.New()
	}
	a.launcher = appsprov.NewCache(p)
}

// initResolver merges configured aliases over the built-in table.
func (a *App) initResolver() {
	aliases := apps.DefaultAliases()
	for k, v := range a.cfg.Assistant.Aliases {
		aliases[k] = v
	}
	a.resolver = apps.NewResolver(aliases)
}

func (a *App) initDispatcher() {
	a.registry = command.NewRegistry()

	opts := []dispatch.Option{
		dispatch.WithStore(a.store),
		dispatch.WithMetrics(a.metrics),
	}
	if a.providers.LLM != nil {
		opts = append(opts, dispatch.WithLLM(a.providers.LLM))
	}
	if w := a.cfg.Assistant.WakeWord; w != "" {
		opts = append(opts, dispatch.WithWakeWord(w))
	}
	if p := a.cfg.Assistant.Persona; p != "" {
		opts = append(opts, dispatch.WithPersona(p))
	}
	if t := a.cfg.Assistant.LLMTimeout.Std(); t > 0 {
		opts = append(opts, dispatch.WithLLMTimeout(t))
	}

	a.dispatcher = dispatch.New(a.registry, a.resolver, a.launcher, a.speaker, opts...)
}

func (a *App) initManager() {
	opts := []session.ManagerOption{
		session.WithManagerMetrics(a.metrics),
	}
	sc := a.cfg.Session
	if d := sc.UtteranceTimeout.Std(); d > 0 {
		opts = append(opts, session.WithUtteranceTimeout(d))
	}
	if d := sc.MaxChunkDuration.Std(); d > 0 {
		opts = append(opts, session.WithMaxChunkDuration(d))
	}
	if d := sc.RestartDelay.Std(); d > 0 {
		opts = append(opts, session.WithRestartDelay(d))
	}
	if sc.MinChunkBytes > 0 {
		opts = append(opts, session.WithMinChunkBytes(sc.MinChunkBytes))
	}
	if sc.MinConfidence > 0 || sc.MinWords > 0 {
		minConfidence := sc.MinConfidence
		if minConfidence == 0 {
			minConfidence = session.DefaultMinConfidence
		}
		minWords := sc.MinWords
		if minWords == 0 {
			minWords = session.DefaultMinWords
		}
		opts = append(opts, session.WithAcceptance(minConfidence, minWords))
	}

	a.manager = session.NewManager(a.recorder, a.providers.STT, a.dispatcher, a.speaker, opts...)
}

// initHTTP assembles the status server: health probes, Prometheus metrics,
// the interaction log, and the device bridge websocket, all behind the
// tracing middleware.
func (a *App) initHTTP() {
	checkers := []health.Checker{
		health.Recognizer(a.providers.STT),
		health.History(a.store),
	}
	if a.bridge != nil {
		checkers = append(checkers, health.Device(a.bridge.Connected))
	}
	h := health.New(checkers...)

	mux := http.NewServeMux()
	h.Register(mux)
	history.NewHTTPHandler(a.store).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.bridge != nil {
		mux.Handle("GET /bridge", a.bridge.Handler())
	}

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Manager exposes the recognition session manager, e.g. for UI layers that
// start and stop listening.
func (a *App) Manager() *session.Manager { return a.manager }

// Dispatcher exposes the command dispatcher for direct text input paths.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// ApplyConfig applies the hot-reloadable parts of newCfg. Assistant settings
// and session tunables take effect on the next dispatch or capture chunk.
// Alias, provider, and server changes require a restart and are only logged.
// Log-level changes are handled by the caller, which owns the slog handler.
//
// ApplyConfig is meant to be called from a single config-watcher goroutine;
// concurrent calls are not supported.
func (a *App) ApplyConfig(newCfg *config.Config) {
	d := config.Diff(a.cfg, newCfg)

	if d.AssistantChanged {
		a.dispatcher.SetTunables(dispatch.Tunables{
			WakeWord:   newCfg.Assistant.WakeWord,
			Persona:    newCfg.Assistant.Persona,
			LLMTimeout: newCfg.Assistant.LLMTimeout.Std(),
		})
		a.speaker.SetVoice(tts.VoiceProfile{
			ID:       newCfg.Assistant.VoiceID,
			Provider: a.cfg.Providers.TTS.Name,
		})
		slog.Info("assistant settings reloaded",
			"wake_word", newCfg.Assistant.WakeWord,
			"voice_id", newCfg.Assistant.VoiceID)
	}

	if d.SessionChanged {
		sc := newCfg.Session
		a.manager.SetTunables(session.Tunables{
			UtteranceTimeout: sc.UtteranceTimeout.Std(),
			MaxChunkDuration: sc.MaxChunkDuration.Std(),
			RestartDelay:     sc.RestartDelay.Std(),
			MinChunkBytes:    sc.MinChunkBytes,
			MinConfidence:    sc.MinConfidence,
			MinWords:         sc.MinWords,
		})
		slog.Info("session tunables reloaded")
	}

	if d.AliasesChanged {
		slog.Warn("alias table changed, restart to apply")
	}

	a.cfg = newCfg
}

// Run serves the status endpoints and blocks until ctx is cancelled or the
// server fails. The recognition session is not started automatically; a
// client (or builtin command) drives Manager().Start.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("status server listening", "addr", a.httpSrv.Addr,
			"tls", a.cfg.Server.TLS != nil)
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = a.httpSrv.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpSrv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Shutdown stops the recognition session and tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.manager.Stop(ctx); err != nil {
			slog.Warn("session stop error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
