// Package app wires all MandiVoice subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and background loops, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithScalerHooks, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/mandivoice/mandivoice/internal/autoscale"
	"github.com/mandivoice/mandivoice/internal/config"
	"github.com/mandivoice/mandivoice/internal/event"
	"github.com/mandivoice/mandivoice/internal/feedback"
	"github.com/mandivoice/mandivoice/internal/health"
	"github.com/mandivoice/mandivoice/internal/negotiate"
	"github.com/mandivoice/mandivoice/internal/observe"
	"github.com/mandivoice/mandivoice/internal/pipeline"
	"github.com/mandivoice/mandivoice/internal/session"
	"github.com/mandivoice/mandivoice/internal/store"
	"github.com/mandivoice/mandivoice/internal/store/postgres"
	"github.com/mandivoice/mandivoice/internal/transcript"
	"github.com/mandivoice/mandivoice/pkg/audio"
	"github.com/mandivoice/mandivoice/pkg/provider/bhashini"
	"github.com/mandivoice/mandivoice/pkg/provider/llm"
	"github.com/mandivoice/mandivoice/pkg/provider/llm/anyllm"
	"github.com/mandivoice/mandivoice/pkg/provider/llm/openai"
	"github.com/mandivoice/mandivoice/pkg/provider/stt"
	"github.com/mandivoice/mandivoice/pkg/provider/translate"
	"github.com/mandivoice/mandivoice/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT       stt.Provider
	Translate translate.Provider
	TTS       tts.Provider
	LLM       llm.Provider
}

// RegisterBuiltins registers the provider factories shipped with MandiVoice:
// Bhashini for the speech stages and the supported LLM backends.
func RegisterBuiltins(reg *config.Registry) {
	speech := func(e config.ProviderEntry) (*bhashini.Client, error) {
		return bhashini.New(e.BaseURL,
			bhashini.WithAPIKey(e.APIKey),
			bhashini.WithSampleRate(e.OptionInt("sample_rate", 0)),
			bhashini.WithVoiceGender(e.OptionString("voice_gender", "")),
		)
	}
	reg.RegisterSTT("bhashini", func(e config.ProviderEntry) (stt.Provider, error) {
		return speech(e)
	})
	reg.RegisterTranslate("bhashini", func(e config.ProviderEntry) (translate.Provider, error) {
		return speech(e)
	})
	reg.RegisterTTS("bhashini", func(e config.ProviderEntry) (tts.Provider, error) {
		return speech(e)
	})

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	for _, backend := range []string{"anthropic", "gemini", "ollama"} {
		reg.RegisterLLM(backend, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(e.Name, e.Model, opts...)
		})
	}
}

// BuildProviders instantiates the configured providers through the registry.
// Unconfigured slots stay nil; the corresponding features report unavailable.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	p := &Providers{}

	if name := cfg.Providers.Speech.Name; name != "" {
		var err error
		if p.STT, err = reg.CreateSTT(cfg.Providers.Speech); err != nil {
			return nil, fmt.Errorf("build stt provider: %w", err)
		}
		if p.Translate, err = reg.CreateTranslate(cfg.Providers.Speech); err != nil {
			return nil, fmt.Errorf("build translate provider: %w", err)
		}
		if p.TTS, err = reg.CreateTTS(cfg.Providers.Speech); err != nil {
			return nil, fmt.Errorf("build tts provider: %w", err)
		}
	}

	if cfg.Providers.LLM.Name != "" {
		var err error
		if p.LLM, err = reg.CreateLLM(cfg.Providers.LLM); err != nil {
			return nil, fmt.Errorf("build llm provider: %w", err)
		}
	}

	return p, nil
}

// App owns all subsystem lifetimes behind the MandiVoice HTTP API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	health       *health.Controller
	metrics      *observe.Metrics
	sink         *event.Fanout
	broadcaster  *event.WebSocketBroadcaster
	orchestrator *pipeline.Orchestrator
	sessions     *session.Manager
	suggester    *negotiate.Suggester
	scaler       *autoscale.Scaler
	store        session.Store
	feedback     *feedback.FileStore
	server       *http.Server

	// speechFormat is what the configured speech provider expects;
	// caller audio is normalized to it before entering the pipeline.
	speechFormat audio.Format

	// injected test doubles
	scalerHooks autoscale.Hooks
	extraSinks  []event.Sink

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating one from config.
func WithStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithScalerHooks injects autoscaler hooks instead of building exec hooks
// from the configured commands.
func WithScalerHooks(h autoscale.Hooks) Option {
	return func(a *App) { a.scalerHooks = h }
}

// WithSink attaches an additional event sink to the fanout.
func WithSink(s event.Sink) Option {
	return func(a *App) { a.extraSinks = append(a.extraSinks, s) }
}

// WithMetrics injects a metrics struct instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via [BuildProviders]). Use Option functions to
// inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.speechFormat = audio.Format{
		SampleRate: cfg.Providers.Speech.OptionInt("sample_rate", audio.Telephony.SampleRate),
		Channels:   audio.Telephony.Channels,
	}

	a.initEvents()
	a.health = health.NewController(health.WithEventSink(a.sink))

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initFeedback()
	a.initSessions()
	a.initPipeline()
	a.initSuggester()
	if err := a.initScaler(); err != nil {
		return nil, fmt.Errorf("app: init scaler: %w", err)
	}

	return a, nil
}

// initEvents assembles the event fanout: structured logs always, the
// WebSocket broadcaster when enabled, plus any injected sinks. Broadcast
// delivery runs through a buffered queue so a slow subscriber can never
// stall an emitter.
func (a *App) initEvents() {
	sinks := []event.Sink{event.LogSink{}}
	if a.cfg.Events.WebSocket {
		a.broadcaster = event.NewWebSocketBroadcaster()
		queue := event.NewChanSink(a.cfg.Events.Buffer)
		sinks = append(sinks, queue)

		stop := make(chan struct{})
		go func() {
			for {
				select {
				case ev := <-queue.Events():
					a.broadcaster.Emit(ev)
				case <-stop:
					return
				}
			}
		}()
		a.closers = append(a.closers, func() error {
			close(stop)
			a.broadcaster.Close()
			return nil
		})
	}
	sinks = append(sinks, a.extraSinks...)
	a.sink = event.NewFanout(sinks...)
}

// initStore connects the configured session store, falling back to the
// in-memory store when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = store.NewMemoryStore()
		return nil
	}

	pg, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

// initFeedback opens the call-quality feedback store when a path is
// configured. Without one the feedback endpoint reports unavailable.
func (a *App) initFeedback() {
	if path := a.cfg.Store.FeedbackPath; path != "" {
		a.feedback = feedback.NewFileStore(path)
	}
}

// initSessions builds the session manager over the store and event fanout.
func (a *App) initSessions() {
	opts := []session.ManagerOption{
		session.WithSink(a.sink),
		session.WithStore(a.store),
		session.WithHealth(a.health),
		session.WithMetrics(a.metrics),
	}
	if a.cfg.Session.MaxConcurrent > 0 {
		opts = append(opts, session.WithMaxConcurrent(a.cfg.Session.MaxConcurrent))
	}
	a.sessions = session.NewManager(opts...)
}

// initPipeline builds the voice orchestrator when a speech provider is
// configured. Without one the pipeline endpoints report unavailable.
func (a *App) initPipeline() {
	if a.providers.STT == nil {
		slog.Warn("no speech provider configured; voice pipeline disabled")
		return
	}

	opts := []pipeline.Option{
		pipeline.WithEventSink(a.sink),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithCorrector(transcript.NewCorrector()),
		pipeline.WithBudgets(a.cfg.Pipeline.Budgets()),
	}
	if d := a.cfg.Pipeline.RetryBaseDelay.Std(); d > 0 {
		opts = append(opts, pipeline.WithRetryBaseDelay(d))
	}
	a.orchestrator = pipeline.New(
		a.providers.STT,
		a.providers.Translate,
		a.providers.TTS,
		a.health,
		opts...,
	)
}

// initSuggester builds the negotiation suggester when an LLM is configured.
func (a *App) initSuggester() {
	if a.providers.LLM == nil {
		slog.Warn("no LLM provider configured; negotiation suggestions disabled")
		return
	}
	a.suggester = negotiate.NewSuggester(a.providers.LLM, a.health)
}

// initScaler builds the worker-pool autoscaler when enabled. Hooks come from
// the injected option or from the configured exec commands.
func (a *App) initScaler() error {
	if !a.cfg.Autoscale.Enabled {
		return nil
	}

	hooks := a.scalerHooks
	if hooks == nil {
		source, err := autoscale.NewPrometheusMetricsSource(a.cfg.Autoscale.PrometheusURL)
		if err != nil {
			return fmt.Errorf("prometheus metrics source: %w", err)
		}
		eh := &autoscale.ExecHooks{
			Source:   source,
			Discover: a.cfg.Autoscale.DiscoverCommand,
			Start:    a.cfg.Autoscale.StartCommand,
			Stop:     a.cfg.Autoscale.StopCommand,
			Reload:   a.cfg.Autoscale.ReloadCommand,
			Health:   a.cfg.Autoscale.HealthCheckCommand,
		}
		if err := eh.Validate(); err != nil {
			return err
		}
		hooks = eh
	}

	scaler, err := autoscale.NewScaler(a.cfg.Autoscale.ScalerConfig(), hooks,
		autoscale.WithHealth(a.health),
		autoscale.WithSink(a.sink),
		autoscale.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.scaler = scaler
	return nil
}

// Health exposes the health controller, mainly for tests and main.go.
func (a *App) Health() *health.Controller { return a.health }

// Sessions exposes the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Run serves the HTTP API and background loops until ctx is cancelled.
// It returns the first fatal error, or nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("mandivoice server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	if a.scaler != nil {
		g.Go(func() error {
			// Scaler exit on cancellation is part of a clean shutdown.
			if err := a.scaler.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
