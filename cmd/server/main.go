// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal/identity.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	identityhandler "conflux/internal/identity/handler"
	identitymetrics "conflux/internal/identity/metrics"
	"conflux/internal/identity/locks"
	"conflux/internal/identity/service"
	"conflux/internal/identity/store"
	memorystore "conflux/internal/identity/store/memory"
	postgresstore "conflux/internal/identity/store/postgres"
	"conflux/internal/platform/config"
	"conflux/internal/platform/httpserver"
	"conflux/internal/platform/logger"
	"conflux/internal/platform/middleware"
	"conflux/internal/platform/postgres"
	platformredis "conflux/internal/platform/redis"
	"conflux/internal/platform/token"
	"conflux/pkg/platform/audit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	contacts, tx, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	locker, lockerCleanup, err := buildLocker(cfg)
	if err != nil {
		log.Error("locker init failed", "error", err)
		os.Exit(1)
	}
	defer lockerCleanup()

	auditor, err := buildAuditor(cfg, log)
	if err != nil {
		log.Error("audit publisher init failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditor.Close() }()

	var jwtValidator middleware.JWTValidator
	if cfg.JWTSigningKey != "" {
		jwtValidator = token.NewValidator(cfg.JWTSigningKey)
	}

	svc := service.New(contacts, tx, locker, log,
		service.WithMetrics(identitymetrics.New()),
		service.WithAuditor(auditor),
	)

	router := chi.NewRouter()
	identityhandler.New(svc, log, jwtValidator).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting conflux", "addr", cfg.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildStore selects the Postgres store when a database URL is configured,
// falling back to the in-memory store for dev and test runs.
func buildStore(ctx context.Context, cfg config.Config) (store.ContactStore, store.TxRunner, func(), error) {
	if cfg.DatabaseURL == "" {
		mem := memorystore.New()
		return mem, mem, func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := postgresstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	pg := postgresstore.New(db)
	return pg, pg, func() { _ = db.Close() }, nil
}

// buildLocker selects the Redis locker for multi-instance deployments when
// configured, defaulting to the in-process keyed locker.
func buildLocker(cfg config.Config) (locks.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return locks.NewKeyedLocker(), func() {}, nil
	}
	client, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return locks.NewRedisLocker(client.Client), func() { _ = client.Close() }, nil
}

func buildAuditor(cfg config.Config, log *slog.Logger) (audit.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return audit.NoopPublisher{}, nil
	}
	return audit.NewKafka(cfg.KafkaBrokers, cfg.AuditTopic, audit.WithLogger(log))
}
