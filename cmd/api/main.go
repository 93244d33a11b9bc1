package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loyalty-wallet-service/config"
	httpHandler "loyalty-wallet-service/internal/adapter/http/handler"
	pgStorage "loyalty-wallet-service/internal/adapter/storage/postgres"
	redisStorage "loyalty-wallet-service/internal/adapter/storage/redis"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/internal/gateway"
	"loyalty-wallet-service/internal/service"
	"loyalty-wallet-service/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Loyalty Wallet Service")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	entryRepo := pgStorage.NewWalletEntryRepo(pool)
	reservationRepo := pgStorage.NewReservationRepo(pool)
	intentRepo := pgStorage.NewIntentRepo(pool)
	callbackRepo := pgStorage.NewCallbackRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	ackCache := redisStorage.NewCallbackCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize gateway layer
	registry := gateway.NewRegistry(cfg.Gateways)
	codec := service.NewHMACSignatureCodec()
	callbackURL := cfg.Payment.CallbackBaseURL + "/payments/callback"
	gwClient := gateway.NewClient(
		&http.Client{Timeout: cfg.Payment.RequestTimeout},
		codec,
		callbackURL,
		log,
	)
	breaker := gateway.NewBreaker(gwClient, cfg.Payment.BreakerThreshold, cfg.Payment.BreakerCooldown, log)

	// Initialize business services
	ledger := service.NewWalletLedger(transactor, walletRepo, entryRepo, reservationRepo, log)
	auditSvc := service.NewAuditService(auditRepo, log)
	orchestrator := service.NewOrchestrator(
		intentRepo,
		callbackRepo,
		ledger,
		registry,
		breaker,
		codec,
		ackCache,
		auditSvc,
		cfg.Payment.ReconcileMaxAttempts,
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Orchestrator:   orchestrator,
		Ledger:         ledger,
		Registry:       registry,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// Start the reconciler sweep loop
	reconcilerCtx, stopReconciler := context.WithCancel(ctx)
	defer stopReconciler()
	reconciler := service.NewReconciler(
		intentRepo,
		orchestrator,
		cfg.Payment.ReconcileInterval,
		cfg.Payment.CallbackGracePeriod,
		log,
	)
	go reconciler.Run(reconcilerCtx)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	stopReconciler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
