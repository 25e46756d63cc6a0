// Command storeguard-server runs a small storefront API guarded by storeguard.
//
// It needs no external services. Set REDIS_ADDR to keep sessions, carts and rate
// limits in Redis, and DATABASE_URL to persist the audit trail to Postgres.
//
//	POST   /login             {"email":"...","password":"...","remember":true}
//	POST   /logout
//	POST   /refresh
//	GET    /me
//	GET    /cart
//	POST   /cart/items        {"product_id":"mug","quantity":2}
//	PATCH  /cart/items/{id}   {"quantity":3}
//	DELETE /cart/items/{id}
//	GET    /admin/audit?limit=50
//	GET    /admin/security
//	GET    /metrics
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/storeguard/storeguard"
	"github.com/storeguard/storeguard/audit"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	_ = godotenv.Load()
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := storeguard.ConfigFromEnv()
	if err != nil {
		return err
	}

	users := storeguard.NewMemoryUserRepository()
	reg := prometheus.NewRegistry()
	builder := storeguard.New().
		WithConfig(cfg).
		WithUserRepository(users).
		WithCatalog(demoCatalog()).
		WithLogger(logger).
		WithMetrics(reg)

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		builder = builder.WithRedis(rdb)
		logger.Info("using redis", zap.String("addr", addr))
	}

	sinks := audit.MultiSink{audit.NewZapSink(logger.Named("audit"))}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := audit.NewPostgresSink(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, pg)
		logger.Info("persisting audit events to postgres")
	}
	builder = builder.WithAuditSink(sinks)

	svc, err := builder.Build()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := seedUsers(svc, users); err != nil {
		return err
	}

	for _, w := range cfg.Lint() {
		logger.Warn("config warning",
			zap.String("code", w.Code),
			zap.String("severity", w.Severity.String()),
			zap.String("message", w.Message),
		)
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(svc, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	svc.StartSweeper(ctx, sweepInterval)
	defer svc.StopSweeper()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Security.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if os.Getenv("LOG_LEVEL") == "debug" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
