// Package app wires the tenantauth process: config, logging, persistence,
// the session engine, the HTTP surface and telemetry.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tenantauth/internal/auth/api"
	"tenantauth/internal/auth/session"
	"tenantauth/internal/identity"
	"tenantauth/internal/security/password"
)

// App is the tenantauth server runtime.
type App struct {
	cfg Config
	log Logger

	stores   *stores
	dir      *identity.Directory
	sessions *session.Manager
	rdb      *redis.Client
	registry *prometheus.Registry
	handler  http.Handler

	shutdownTracing func(context.Context) error
}

// New constructs a fully wired App. Session, API and password settings are
// read from the environment. Postgres migrations run when migrate is true.
func New(ctx context.Context, cfg Config, log Logger, migrate bool) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	scfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	acfg, err := api.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pcfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.shutdownTracing, err = setupTracing(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: tracing: %w", err)
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.stores, err = openStores(ctx, cfg, scfg, log, migrate)
	if err != nil {
		return nil, err
	}

	a.dir, err = identity.NewDirectory(a.stores.users, pcfg)
	if err != nil {
		return nil, err
	}

	signer, err := session.NewSigner(scfg)
	if err != nil {
		return nil, err
	}
	a.sessions, err = session.NewManager(scfg, signer, a.stores.sessions, a.dir,
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(a.registry)),
	)
	if err != nil {
		return nil, err
	}

	opts := []api.HandlerOption{api.WithAuditor(a.stores.auditor)}
	if acfg.RedisURL != "" {
		a.rdb, err = api.OpenRedis(ctx, acfg.RedisURL)
		if err != nil {
			return nil, err
		}
		th, err := api.NewRedisThrottle(a.rdb, acfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithThrottle(th))
		log.Info("throttle.enabled", "backend", "redis")
	} else {
		opts = append(opts, api.WithThrottle(api.NewMemoryThrottle(acfg, nil)))
		log.Info("throttle.enabled", "backend", "memory")
	}

	auth, err := api.NewHandler(log, acfg, a.sessions, opts...)
	if err != nil {
		return nil, err
	}

	a.handler = newRouter(routerDeps{
		log:        log,
		trustProxy: acfg.TrustProxy,
		ready:      a.stores.sessions,
		auth:       auth,
		gatherer:   a.registry,
		metrics:    newHTTPMetrics(a.registry),
	})
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Directory returns the user directory backing logins.
func (a *App) Directory() *identity.Directory { return a.dir }

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// down and releases every resource.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "driver", a.cfg.StoreDriver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()
	a.close(closeCtx)

	a.log.Info("server.stopped")
	return err
}

// Close releases stores, Redis and the tracer provider without serving.
func (a *App) Close(ctx context.Context) { a.close(ctx) }

func (a *App) close(ctx context.Context) {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.stores != nil && a.stores.close != nil {
		a.stores.close()
		a.stores.close = nil
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Error("tracing.shutdown.fail", "err", err)
		}
		a.shutdownTracing = nil
	}
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
