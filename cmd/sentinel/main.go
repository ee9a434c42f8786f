package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/sentinel-gate/internal/api"
	"github.com/af-corp/sentinel-gate/internal/auth"
	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/events"
	"github.com/af-corp/sentinel-gate/internal/ledger"
	"github.com/af-corp/sentinel-gate/internal/policy"
	"github.com/af-corp/sentinel-gate/internal/ratelimit"
	"github.com/af-corp/sentinel-gate/internal/scan"
	"github.com/af-corp/sentinel-gate/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := telemetry.NewLogger(os.Stdout, cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}
	defer loader.Close()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// PostgreSQL backs the API-key store and, by default, the ledger.
	var dbPool *pgxpool.Pool
	if cfg.Auth.Enabled || cfg.Ledger.Store == "postgres" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			logger.Warn("database not reachable (auth and ledger writes will fail)", "error", err)
		} else {
			logger.Info("database connected")
		}
		dbPool = pool
	}

	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (key cache and rate limiting degraded)", "error", err)
		} else {
			logger.Info("redis connected")
		}
		defer rdb.Close()
	}

	stack, err := scan.Build(loader.Config, loader.Corpus, metrics, logger)
	if err != nil {
		logger.Error("failed to build scan layers", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	evaluator := policy.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy }, logger.With("component", "policy"))
	if cfg.Policy.Enabled {
		if err := evaluator.Load(); err != nil {
			logger.Error("failed to load override policies", "error", err)
			os.Exit(1)
		}
	}
	loader.OnReload(func() {
		if !loader.Config().Policy.Enabled {
			return
		}
		if err := evaluator.Load(); err != nil {
			logger.Error("policy reload failed, keeping previous policies", "error", err)
		}
	})

	deps := ledger.Deps{
		Policy:  evaluator,
		Metrics: metrics,
		Redact: func(s string) string {
			if loader.Config().Scan.RedactPreviews {
				return scan.Redact(s)
			}
			return s
		},
	}
	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events, logger.With("component", "events"))
		if err != nil {
			logger.Warn("ledger events disabled", "error", err)
		} else {
			defer pub.Close()
			deps.Events = pub
		}
	}

	var store ledger.Store
	switch cfg.Ledger.Store {
	case "postgres":
		store = ledger.NewPostgresStore(dbPool)
	default:
		store = ledger.NewMemoryStore()
		logger.Warn("using in-memory ledger, executions are lost on restart")
	}
	l := ledger.New(store, func() config.LedgerConfig { return loader.Config().Ledger }, deps, logger.With("component", "ledger"))

	opts := api.RouterOptions{Metrics: metrics}
	if cfg.Auth.Enabled {
		opts.KeyStore = auth.NewCachedKeyStore(dbPool, rdb, cfg.Auth.CacheTTL)
	}
	if rdb != nil {
		opts.Limiter = ratelimit.NewLimiter(rdb)
		opts.RateLimit = func() config.RateLimitConfig { return loader.Config().RateLimit }
	}
	handler := api.NewHandler(stack.Service, l, stack.Breakers, logger, version)
	r := api.NewRouter(handler, opts)

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sentinel starting", "addr", addr, "version", version, "ledger_store", cfg.Ledger.Store)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}
	logger.Info("sentinel stopped")
}
