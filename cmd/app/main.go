// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"paywall-access/internal/config"
	"paywall-access/internal/domain/ports/adapter"
	"paywall-access/internal/domain/ports/repository"
	payAdapters "paywall-access/internal/infra/adapters/payment"
	storageAdapters "paywall-access/internal/infra/adapters/storage"
	"paywall-access/internal/infra/api"
	pg "paywall-access/internal/infra/db/postgres"
	"paywall-access/internal/infra/logging"
	"paywall-access/internal/infra/memory"
	"paywall-access/internal/infra/metrics"
	red "paywall-access/internal/infra/redis"
	"paywall-access/internal/infra/sched"
	"paywall-access/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop adapters allowed, verbose identifiers)")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("paywall stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	checks := map[string]api.HealthCheck{"postgres": func(ctx context.Context) error { return pool.Ping(ctx) }}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	purchases := pg.NewPurchaseRepo(pool)
	subs := pg.NewSubscriptionRepo(pool)
	var resources repository.ResourceRepository = pg.NewResourceRepo(pool)

	// ---- Redis (optional unless rate_limit.backend=redis) ----
	var (
		locker    repository.Locker
		rateStore repository.RateLimitStore
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		checks["redis"] = redisClient.Ping
		resources = pg.NewResourceRepoCacheDecorator(resources, redisClient, cfg.Redis.TTL, logger)
		locker = red.NewLocker(redisClient)
		if cfg.RateLimit.Backend == "redis" {
			rateStore = red.NewSlidingWindowStore(redisClient)
		}
	}
	var memStore *memory.SlidingWindowStore
	if rateStore == nil {
		memStore = memory.NewSlidingWindowStore(nil)
		rateStore = memStore
	}

	// ---- Adapters ----
	processor, err := newProcessor(cfg)
	if err != nil {
		return fmt.Errorf("payment processor: %w", err)
	}
	issuer, err := newIssuer(cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	logger.Info().
		Str("processor", processor.Name()).
		Str("storage", cfg.Storage.Provider).
		Str("rate_limit_backend", cfg.RateLimit.Backend).
		Msg("adapters ready")

	// ---- Use cases ----
	ledger := usecase.NewLedgerUseCase(purchases, tm, usecase.LedgerConfig{GrantWindow: cfg.Access.GrantWindow}, logger)
	registry := usecase.NewSubscriptionRegistry(subs, tm, nil, logger)
	verifier := usecase.NewPaymentVerifier(cfg.Payment.KeySecret, cfg.Payment.WebhookSecret)
	limiter := usecase.NewRateLimiter(rateStore, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, logger)
	resolver := usecase.NewAccessResolver(registry, ledger, nil, logger)
	accessUC := usecase.NewAccessUseCase(resources, ledger, resolver, verifier, limiter, processor, issuer, usecase.AccessConfig{
		URLPolicy: usecase.URLPolicy{
			OneTimeMaxTTL:      cfg.Storage.OneTimeMaxTTL,
			SubscriptionMaxTTL: cfg.Storage.SubscriptionTTL,
		},
		ProcessorCall: cfg.Payment.Timeout,
		StorageCall:   cfg.Storage.Timeout,
		Currency:      cfg.Payment.Currency,
		VerifyCapture: cfg.Payment.VerifyCapture,
		Dev:           cfg.Runtime.Dev,
	}, logger)
	webhookUC := usecase.NewWebhookUseCase(verifier, ledger, registry, cfg.Runtime.Dev, logger)

	// ---- Workers ----
	var wg sync.WaitGroup
	workers := []interface{ Run(context.Context) error }{
		sched.NewExpiryWorker(cfg.Scheduler.SweepInterval, cfg.Scheduler.SweepBatch, ledger, registry, locker, logger),
		sched.NewPaymentReconciler(ledger, locker, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.ReconcileStaleness, cfg.Scheduler.SweepBatch, logger),
	}
	for _, w := range workers {
		wg.Add(1)
		go func(w interface{ Run(context.Context) error }) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("worker stopped")
			}
		}(w)
	}
	if memStore != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneRateWindows(ctx, memStore, cfg.RateLimit.Window)
		}()
	}

	// ---- HTTP ----
	auth := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	srv := api.NewServer(accessUC, webhookUC, auth, api.Options{
		SignatureHeader: cfg.Payment.SignatureHdr,
		MaxWebhookBytes: cfg.HTTP.MaxWebhookBytes,
		RequestTimeout:  cfg.HTTP.RequestTimeout,
		KeyID:           cfg.Payment.KeyID,
		Checks:          checks,
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	return nil
}

func newProcessor(cfg *config.Config) (adapter.PaymentProcessor, error) {
	switch cfg.Payment.Provider {
	case "noop":
		return payAdapters.NewNoopProcessor(), nil
	default:
		return payAdapters.NewHTTPProcessor(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret, cfg.Payment.Timeout)
	}
}

func newIssuer(cfg *config.Config) (adapter.SignedURLIssuer, error) {
	switch cfg.Storage.Provider {
	case "noop":
		return storageAdapters.NewNoopIssuer(cfg.Storage.Endpoint), nil
	default:
		return storageAdapters.NewS3Issuer(cfg.Storage)
	}
}

func pruneRateWindows(ctx context.Context, store *memory.SlidingWindowStore, window time.Duration) {
	t := time.NewTicker(window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			store.Prune(window)
		}
	}
}
