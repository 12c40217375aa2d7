// Package app wires all voicewire subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the admin listener and drives the voice session,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithRegistry, WithLogLevelVar, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/voicewirehq/voicewire/internal/config"
	"github.com/voicewirehq/voicewire/internal/health"
	"github.com/voicewirehq/voicewire/internal/observe"
	"github.com/voicewirehq/voicewire/pkg/device"
	"github.com/voicewirehq/voicewire/pkg/transport"
	"github.com/voicewirehq/voicewire/pkg/transport/gemini"
	"github.com/voicewirehq/voicewire/pkg/transport/loopback"
)

// shutdownGrace bounds the admin server drain and the telemetry flush during
// teardown.
const shutdownGrace = 5 * time.Second

// errSessionEnded signals Run that the voice session is over and the daemon
// should exit cleanly.
var errSessionEnded = errors.New("session ended")

// Providers holds the platform implementations the daemon cannot create on
// its own. Populated by main.go; tests pass mocks.
type Providers struct {
	// Device is the local audio backend used for every session.
	Device device.Device
}

// App owns all subsystem lifetimes and runs the voicewire daemon.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems initialised in New, torn down in Shutdown.
	registry *config.Registry
	metrics  *observe.Metrics
	promReg  *prometheus.Registry
	sessions *SessionManager
	superv   *Supervisor
	watcher  *config.Watcher
	handler  http.Handler

	// Injected via options.
	levelVar   *slog.LevelVar
	configPath string
	version    string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a transport registry instead of the built-in one
// (gemini-live and loopback).
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogLevelVar hands the log handler's level to the app so a reloaded
// log_level takes effect on the running process.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConfigFile enables hot reloading of the given configuration file.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithVersion sets the version string reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles for any
// subsystem.
//
// New performs all initialisation synchronously: telemetry setup, transport
// registration, session manager construction, and the admin endpoints. The
// voice session itself starts in Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if providers == nil || providers.Device == nil {
		return nil, errors.New("app: a device backend is required")
	}

	// ── 1. Configuration ─────────────────────────────────────────────────
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: invalid configuration: %w", err)
	}

	// ── 2. Observability ─────────────────────────────────────────────────
	if err := a.initObservability(ctx); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}

	// ── 3. Transport registry ────────────────────────────────────────────
	a.initRegistry()

	// ── 4. Session manager + reconnect policy ────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:   cfg,
		Registry: a.registry,
		Device:   providers.Device,
		Metrics:  a.metrics,
	})
	if cfg.Reconnect.Enabled {
		a.superv = NewSupervisor(SupervisorConfig{
			Sessions:    a.sessions,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Backoff:     cfg.Reconnect.InitialBackoff(),
			MaxBackoff:  cfg.Reconnect.MaxBackoff(),
		})
	}

	// ── 5. Admin endpoints ───────────────────────────────────────────────
	a.initAdmin()

	// ── 6. Config watcher ────────────────────────────────────────────────
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initObservability sets up the OTel SDK on a private Prometheus registry
// and creates the daemon metrics.
func (a *App) initObservability(ctx context.Context) error {
	a.promReg = prometheus.NewRegistry()
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: a.version,
		Registerer:     a.promReg,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return shutdown(flushCtx)
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initRegistry registers the built-in transport factories unless a registry
// was injected.
func (a *App) initRegistry() {
	if a.registry != nil {
		return
	}
	r := config.NewRegistry()
	r.RegisterTransport(config.ProviderGeminiLive, func(pc config.ProviderConfig) (transport.Provider, error) {
		var opts []gemini.Option
		if pc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(pc.BaseURL))
		}
		return gemini.New(opts...), nil
	})
	r.RegisterTransport(config.ProviderLoopback, func(config.ProviderConfig) (transport.Provider, error) {
		return loopback.New(), nil
	})
	a.registry = r
}

// initAdmin assembles the admin mux: health endpoints, the session status
// snapshot, and the Prometheus scrape handler, all behind the observe
// middleware.
func (a *App) initAdmin() {
	h := health.New(
		health.Checker{Name: "config", Check: a.checkConfig},
		health.Checker{Name: "device", Check: a.checkDevice},
		health.Checker{Name: "transport", Check: a.checkTransport},
		health.Checker{Name: "credential", Check: a.checkCredential},
	)
	h.SetStatus(func() any { return a.sessions.Status() })

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))

	a.handler = observe.Middleware(a.metrics)(mux)
}

// initWatcher starts hot reloading when a config file path was given.
func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.applyConfig)
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// ─── Readiness checks ────────────────────────────────────────────────────────

// checkConfig verifies the next session's configuration still validates.
func (a *App) checkConfig(context.Context) error {
	return config.Validate(a.sessions.Config())
}

// checkDevice verifies an audio backend is wired in. It does not probe the
// hardware; opening devices is a per-session side effect.
func (a *App) checkDevice(context.Context) error {
	if a.providers.Device == nil {
		return errors.New("no audio backend")
	}
	return nil
}

// checkTransport verifies the configured transport factory is registered and
// constructible.
func (a *App) checkTransport(context.Context) error {
	_, err := a.registry.CreateTransport(a.sessions.Config().Provider)
	return err
}

// checkCredential fails when the configured provider requires an API key and
// none can be resolved.
func (a *App) checkCredential(context.Context) error {
	cfg := a.sessions.Config()
	if cfg.Provider.Name != config.ProviderGeminiLive {
		return nil
	}
	if cfg.Provider.ResolveAPIKey() == "" {
		return errors.New("no API key configured")
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the admin listener and the voice session and blocks until ctx
// is cancelled, the session is over, or a subsystem fails. It returns nil
// after the session ends cleanly and ctx.Err() after cancellation.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// ── Admin listener ───────────────────────────────────────────────────
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: admin server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(drainCtx)
	})

	// ── Voice session ────────────────────────────────────────────────────
	g.Go(func() error {
		return a.runSession(gctx)
	})

	slog.Info("voicewire running",
		"listen", ln.Addr().String(),
		"provider", a.cfg.Provider.Name,
		"model", a.cfg.Provider.Model,
		"reconnect", a.cfg.Reconnect.Enabled,
	)

	err = g.Wait()
	if errors.Is(err, errSessionEnded) {
		return nil
	}
	return err
}

// runSession drives the voice session until it ends. With the supervisor
// enabled, failed sessions are restarted per the reconnect policy. A clean
// end is reported as errSessionEnded so the errgroup tears down the admin
// listener too.
func (a *App) runSession(ctx context.Context) error {
	if a.superv != nil {
		if err := a.superv.Run(ctx); err != nil {
			return err
		}
		return errSessionEnded
	}

	if err := a.sessions.Start(ctx); err != nil {
		return err
	}
	b := a.sessions.Bridge()

	select {
	case <-ctx.Done():
		// The bridge watches the same context and stops itself; wait for
		// the drain to finish.
		<-b.Done()
		return ctx.Err()
	case <-b.Done():
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := b.Err(); err != nil {
		return fmt.Errorf("app: session failed: %w", err)
	}
	return errSessionEnded
}

// Sessions returns the daemon's session manager.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// Handler returns the admin HTTP handler (health, readiness, status, and
// metrics endpoints).
func (a *App) Handler() http.Handler {
	return a.handler
}

// ─── Config reload ───────────────────────────────────────────────────────────

// applyConfig reacts to a configuration file reload. The log level changes
// on the running process; provider, session, audio, and outbound settings
// apply to the next session; listener and reconnect changes need a restart.
func (a *App) applyConfig(old, new *config.Config) {
	diff := config.Diff(old, new)
	if !diff.Any() {
		return
	}

	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(new.Server.LogLevel.Slog())
		slog.Info("log level changed", "level", new.Server.LogLevel)
	}
	if diff.ListenerChanged {
		slog.Warn("listener configuration changed; restart to apply",
			"listen_addr", new.Server.ListenAddr)
	}
	if diff.ReconnectChanged {
		slog.Warn("reconnect configuration changed; restart to apply")
	}
	if diff.ProviderChanged || diff.SessionChanged || diff.AudioChanged || diff.OutboundChanged {
		slog.Info("session configuration changed; takes effect on the next session")
	}

	a.sessions.SetConfig(new)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop any active session first so playback drains while the
		// telemetry pipeline is still up.
		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("session stop error", "err", err)
		}

		// Run closers in order.
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
