package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cobrafacil/billing-go/internal/config"
	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/cobrafacil/billing-go/internal/handler"
	"github.com/cobrafacil/billing-go/internal/infra/cache"
	"github.com/cobrafacil/billing-go/internal/infra/observability"
	"github.com/cobrafacil/billing-go/internal/infra/postgres"
	"github.com/cobrafacil/billing-go/internal/infra/redisguard"
	"github.com/cobrafacil/billing-go/internal/infra/resilience"
	"github.com/cobrafacil/billing-go/internal/infra/supabase"
	"github.com/cobrafacil/billing-go/internal/port"
	"github.com/cobrafacil/billing-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.String("sweep_schedule", cfg.SweepSchedule),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "billing")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	merchantCache := cache.New[*domain.Merchant](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("billing-store")

	// --- Store: direct Postgres, or Supabase PostgREST ---
	ctx := context.Background()
	var store port.BillingStore
	var readiness []handler.Pinger

	switch {
	case cfg.DatabaseURL != "":
		logger.Info("using Postgres as billing store")
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()
		pgStore := postgres.NewBillingStore(db)
		store = pgStore
		readiness = append(readiness, pgStore)

	case cfg.SupabaseURL != "":
		logger.Info("using Supabase as billing store",
			zap.String("supabase_url", cfg.SupabaseURL),
		)
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		sbStore := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			cb,
			resilienceCfg,
			logger,
		)
		store = sbStore
		readiness = append(readiness, sbStore)

	default:
		logger.Fatal("no billing store configured: set DATABASE_URL or SUPABASE_URL")
	}

	// --- Redis idempotency guard (optional) ---
	var guard port.IdempotencyGuard
	if cfg.RedisAddr != "" {
		rg, err := redisguard.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// The unique constraint still protects recurrence; run without the fast path.
			logger.Warn("redis unavailable, idempotency fast path disabled", zap.Error(err))
		} else {
			defer rg.Close()
			guard = rg
			readiness = append(readiness, rg)
			logger.Info("redis idempotency guard enabled", zap.String("addr", cfg.RedisAddr))
		}
	}

	// --- Services ---
	linkSigner := service.NewPaymentLinkSigner(cfg.JWTSecret, cfg.PaymentLinkBaseURL)
	billingSvc := service.NewBillingService(store, guard, merchantCache, linkSigner, metrics, logger)

	// --- Recurrence sweeper ---
	if cfg.SweepEnabled {
		sweeper := service.NewRecurrenceSweeper(billingSvc, cfg.SweepSchedule, logger)
		if err := sweeper.Start(); err != nil {
			logger.Fatal("failed to start recurrence sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	// --- Router ---
	router := handler.NewRouter(billingSvc, metrics, logger, cfg.JWTSecret, readiness...)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
