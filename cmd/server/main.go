// main wires the authorization front door: configuration, storage bindings,
// the client registry, the admission guard, the issuer delegate, and the HTTP
// surface. Business logic lives in the internal packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/torarnehave1/openauth-template/internal/admission"
	"github.com/torarnehave1/openauth-template/internal/identity"
	"github.com/torarnehave1/openauth-template/internal/issuer"
	"github.com/torarnehave1/openauth-template/internal/landing"
	"github.com/torarnehave1/openauth-template/internal/platform/config"
	"github.com/torarnehave1/openauth-template/internal/platform/httpserver"
	"github.com/torarnehave1/openauth-template/internal/platform/logger"
	"github.com/torarnehave1/openauth-template/internal/platform/metrics"
	"github.com/torarnehave1/openauth-template/internal/platform/postgres"
	platformredis "github.com/torarnehave1/openauth-template/internal/platform/redis"
	"github.com/torarnehave1/openauth-template/internal/registry"
	httptransport "github.com/torarnehave1/openauth-template/internal/transport/http"
)

func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entries, err := cfg.LoadClients()
	if err != nil {
		log.Error("failed to load client registry", "error", err)
		os.Exit(1)
	}
	reg, err := registry.New(entries)
	if err != nil {
		log.Error("invalid client registry", "error", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	// User store: Postgres when configured, in-memory otherwise.
	var userStore identity.UserStore
	pool, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		pgStore := identity.NewPostgres(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		userStore = pgStore
		log.Info("using postgres user store")
	} else {
		userStore = identity.NewInMemory()
		log.Warn("no database configured, using in-memory user store")
	}
	resolver := identity.NewService(userStore, log, m)

	// Issuer storage: Redis when configured, in-memory otherwise.
	var storage issuer.Storage
	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		storage = issuer.NewRedisStorage(rdb, reg)
		log.Info("using redis issuer storage")
	} else {
		storage = issuer.NewMemoryStorage(reg)
		log.Warn("no redis configured, using in-memory issuer storage")
	}

	delegate := issuer.New(
		issuer.Config{
			IssuerURL:       cfg.IssuerURL,
			GlobalSecret:    cfg.GlobalSecret,
			CodeTTL:         cfg.CodeTTL,
			AccessTokenTTL:  cfg.AccessTokenTTL,
			RefreshTokenTTL: cfg.RefreshTokenTTL,
		},
		storage,
		&issuer.SlogCodeSender{Logger: log},
		resolver,
		log,
		m,
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Guard:     admission.New(reg, log, m),
		Delegate:  delegate,
		Presenter: landing.New(reg, cfg.IssuerURL, log),
		Logger:    log,
		Gatherer:  promRegistry,
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("server starting", "addr", cfg.Addr, "issuer_url", cfg.IssuerURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
