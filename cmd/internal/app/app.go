// Package app wires the tether runtime: config, logging, targets, the
// session supervisor and the optional HTTP status surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tether/cmd/identity"
	"tether/cmd/internal/session"
	"tether/cmd/internal/target"
	"tether/cmd/internal/transport"
	"tether/cmd/internal/useragent"
)

// App is the tether runtime: it owns the supervisor, its observers and the status server.
type App struct {
	cfg Config
	log Logger

	device  identity.Device
	targets []target.Target
	open    session.Opener

	tracker  *session.Tracker
	registry *prometheus.Registry
	events   session.EventStore
	recorder *session.Recorder
	dbPool   *pgxpool.Pool

	supervisor *session.Supervisor
}

// New builds a fully wired App. Every configuration problem is reported here,
// before any session starts.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log, _ = NewLogger(LogOptions{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	device, err := identity.NewDevice(cfg.UserID)
	if err != nil {
		return nil, err
	}

	targets, err := buildTargets(cfg)
	if err != nil {
		return nil, err
	}

	ua := useragent.Resolve(cfg.UserAgent)
	dialer := transport.NewDialer(log, transport.Options{
		Header:              useragent.Header(ua),
		InsecureSkipVerify:  cfg.InsecureSkipVerify,
		ProxyConnectTimeout: cfg.ProxyConnectTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		ReadIdleTimeout:     cfg.ReadIdleTimeout,
	})
	if cfg.InsecureSkipVerify {
		log.Warn("tls.verify.disabled", "reason", "insecure-skip-verify set")
	}

	events, pool, err := newEventStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := session.NewMetrics(reg)
	if err != nil {
		closeEventStore(events, pool)
		return nil, err
	}
	tracker := session.NewTracker()

	a := &App{
		cfg:      cfg,
		log:      log,
		device:   device,
		targets:  targets,
		tracker:  tracker,
		registry: reg,
		events:   events,
		dbPool:   pool,
	}
	a.open = session.OpenerFunc(func(ctx context.Context, t target.Target) (session.Channel, error) {
		c, err := dialer.Open(ctx, t)
		if err != nil {
			return nil, err
		}
		return c, nil
	})

	a.recorder = session.NewRecorder(log, events, 0)
	sessCfg := session.Config{
		Device:        device,
		AuthUserAgent: cfg.AuthUserAgent,
		Log:           log,
		Observer: session.MultiObserver{
			metrics,
			tracker,
			a.recorder,
		},
	}
	a.supervisor = session.NewSupervisor(log, a.open, sessCfg, session.WithMaxConcurrentDials(cfg.MaxDials))

	log.Info("app.configured",
		"user_id", device.UserID,
		"device_id", device.DeviceID,
		"targets", len(targets),
		"use_proxy", cfg.UseProxy,
		"user_agent", ua,
		"event_store", eventStoreName(pool),
	)
	return a, nil
}

// Run runs every session until ctx is cancelled or all sessions have ended,
// serving the status surface meanwhile when HTTPAddr is set.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *http.Server
	errCh := make(chan error, 1)
	if a.cfg.HTTPAddr != "" {
		srv = &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
			ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
			WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeoutHTTP, 15*time.Second),
			IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
			MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		}
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("server.fail", "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	a.supervisor.Run(ctx, a.targets)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	var runErr error
	select {
	case err := <-errCh:
		runErr = fmt.Errorf("status server: %w", err)
	default:
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
	}
	a.recorder.Close()
	closeEventStore(a.events, a.dbPool)

	a.log.Info("app.stopped", "sessions", a.tracker.Counts())
	return runErr
}

// Handler returns the status surface.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, statusDeps{
		tracker: a.tracker,
		events:  a.events,
		gather:  a.registry,
		dbPool:  a.dbPool,
	})
	return WithRequestLogging(mux, a.log)
}

// Targets returns the working set built from the configuration.
func (a *App) Targets() []target.Target { return a.targets }

// Tracker exposes live session status.
func (a *App) Tracker() *session.Tracker { return a.tracker }

func buildTargets(cfg Config) ([]target.Target, error) {
	endpoints, err := target.ParseEndpoints(cfg.endpoints())
	if err != nil {
		return nil, err
	}

	var proxies []*target.Proxy
	if cfg.UseProxy {
		proxies, err = target.ParseProxies(cfg.Proxies)
		if err != nil {
			return nil, err
		}
		if cfg.ProxyFile != "" {
			fromFile, err := target.LoadProxyFile(cfg.ProxyFile)
			if err != nil {
				return nil, err
			}
			proxies = append(proxies, fromFile...)
		}
	}

	return target.Build(endpoints, proxies, cfg.UseProxy)
}

// newEventStore picks Postgres when a database URL is configured, otherwise an in-memory ring.
func newEventStore(ctx context.Context, cfg Config, log Logger) (session.EventStore, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.memory_events")
		return session.NewMemoryEventStore(cfg.EventBuffer), nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("event store: %w", err)
	}

	// The app owns the pool; PostgresEventStore.Close is a no-op.
	st, err := session.NewPostgresEventStore(pool, session.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("event store: %w", err)
	}

	log.Info("db.enabled.postgres_events", "schema", cfg.DBSchema)
	return st, pool, nil
}

func closeEventStore(st session.EventStore, pool *pgxpool.Pool) {
	if st != nil {
		_ = st.Close()
	}
	if pool != nil {
		pool.Close()
	}
}

func eventStoreName(pool *pgxpool.Pool) string {
	if pool != nil {
		return "postgres"
	}
	return "memory"
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
