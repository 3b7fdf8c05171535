// Package main is the entry point for the lotpool API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"lotpool/internal/app"
	"lotpool/internal/config"
	v1 "lotpool/internal/infrastructure/http/v1"
	"lotpool/internal/infrastructure/http/v1/middleware"
	"lotpool/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting lotpool server", "storage", cfg.Storage, "env", cfg.Environment)

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer application.Close()

	// The memory backend has no separate worker: seed the catalog and run
	// the relay and sweeps in-process.
	var wg sync.WaitGroup
	if cfg.Storage == config.StorageMemory {
		seed, err := app.LoadSeed(cfg.SeedFile)
		if err != nil {
			log.Fatalw("failed to load seed", "error", err)
		}
		if err := application.ApplySeed(ctx, seed); err != nil {
			log.Fatalw("failed to apply seed", "error", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			application.RunBackground(ctx)
		}()
	}

	routerCfg := v1.RouterConfig{
		Logger:        log,
		JWTValidator:  application.JWT,
		HealthChecks:  application.HealthChecks,
		Lots:          application.Lots,
		Materializer:  application.Materializer,
		Reservations:  application.Reservations,
		Notifications: application.Payments,
		Anomalies:     application.Anomalies,
		WebhookSecret: cfg.WebhookSecret,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		CORSStrict:    cfg.IsProduction(),
	}
	if cfg.IsDevelopment() {
		routerCfg.Mode = gin.DebugMode
	}
	if application.Idempotency != nil {
		routerCfg.Idempotency = middleware.IdempotencyStore(application.Idempotency)
	}
	if cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET not set; payment webhooks are not signature-verified")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      v1.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	cancel()
	wg.Wait()
	log.Info("server stopped")
}
