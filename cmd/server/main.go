package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/quickpoll/internal/adapter/httpserver"
	"github.com/pscheid92/quickpoll/internal/adapter/memory"
	"github.com/pscheid92/quickpoll/internal/adapter/metrics"
	"github.com/pscheid92/quickpoll/internal/adapter/postgres"
	"github.com/pscheid92/quickpoll/internal/adapter/redis"
	"github.com/pscheid92/quickpoll/internal/adapter/websocket"
	"github.com/pscheid92/quickpoll/internal/app"
	"github.com/pscheid92/quickpoll/internal/broadcast"
	"github.com/pscheid92/quickpoll/internal/domain"
	"github.com/pscheid92/quickpoll/internal/platform/config"
	"github.com/pscheid92/quickpoll/internal/platform/logging"
	"github.com/pscheid92/quickpoll/internal/platform/retry"
	"github.com/pscheid92/quickpoll/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const connectTimeout = 30 * time.Second

func connectPolicy(clock clockwork.Clock, target string) retry.Policy {
	return retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Clock:          clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Connection attempt failed, retrying", "target", target, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
}

type storeResult struct {
	store        domain.PollStore
	healthChecks []httpserver.HealthCheck
	cleanup      func()
}

func setupPostgres(clock clockwork.Clock, cfg *config.Config, m *metrics.StoreMetrics) storeResult {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	tracer := postgres.NewMetricsTracer(m, clock)
	pool, err := retry.Do(ctx, connectPolicy(clock, "postgres"), retry.Always, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL, tracer)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	repo := postgres.NewPollRepo(pool)
	return storeResult{
		store:        repo,
		healthChecks: []httpserver.HealthCheck{{Name: "postgres", Check: repo.Ping}},
		cleanup:      pool.Close,
	}
}

func setupRedis(clock clockwork.Clock, cfg *config.Config, m *metrics.StoreMetrics) storeResult {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	hooks := []goredis.Hook{redis.NewMetricsHook(m, clock), redis.NewCircuitBreakerHook(m)}
	client, err := retry.Do(ctx, connectPolicy(clock, "redis"), retry.Always, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL, hooks...)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	store := redis.NewPollStore(client, clock)
	return storeResult{
		store:        store,
		healthChecks: []httpserver.HealthCheck{{Name: "redis", Check: store.Ping}},
		cleanup:      func() { _ = client.Close() },
	}
}

func setupStore(clock clockwork.Clock, cfg *config.Config, reg prometheus.Registerer) storeResult {
	m := metrics.NewStoreMetrics(reg)

	switch cfg.StoreBackend {
	case config.BackendRedis:
		return setupRedis(clock, cfg, m)
	case config.BackendMemory:
		slog.Warn("Using in-memory store, polls are lost on restart")
		return storeResult{store: memory.NewStore(clock), cleanup: func() {}}
	default:
		return setupPostgres(clock, cfg, m)
	}
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, wsHandler *websocket.Handler, broadcaster *broadcast.Broadcaster) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		wsHandler.Drain()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// hijacked websocket connections are not tracked by the http server
		broadcaster.CloseAll()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "store", cfg.StoreBackend)

	reg := metrics.NewRegistry()

	sr := setupStore(clock, cfg, reg)
	defer sr.cleanup()

	wsMetrics := metrics.NewWebSocketMetrics(reg)
	broadcaster := broadcast.NewBroadcaster(broadcast.NewRegistry(), wsMetrics, clock, cfg.BroadcastSendTimeout)
	appSvc := app.NewService(sr.store, broadcaster, metrics.NewPollMetrics(reg), clock)

	limits := websocket.NewConnectionLimits(
		int64(cfg.MaxWebSocketConnections),
		cfg.MaxConnectionsPerIP,
		cfg.RateLimitRPS,
		cfg.RateLimitBurst,
		clock,
	)
	checkOrigin := websocket.NewCheckOrigin(cfg.Origins(), !cfg.IsProduction())
	wsHandler := websocket.NewHandler(broadcaster, limits, checkOrigin, wsMetrics, clock)

	srv := httpserver.NewServer(cfg, appSvc, wsHandler, metrics.NewHTTPMetrics(reg), metrics.Handler(reg), clock, sr.healthChecks)

	done := runGracefulShutdown(cfg, srv, wsHandler, broadcaster)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
