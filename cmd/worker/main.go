// Package main is the entry point for the lotpool background worker.
// It relays the outbox (settlement of closed lots and forwarding to Kafka),
// sweeps lots whose settlement failed and expires stale reservations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"lotpool/internal/app"
	"lotpool/internal/config"
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

	if cfg.Storage == config.StorageMemory {
		log.Fatal("worker requires STORAGE=postgres; the memory backend runs background jobs inside the server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting lotpool worker",
		"outbox_batch", cfg.OutboxBatchSize,
		"poll_interval", cfg.OutboxPollInterval,
		"sweep_interval", cfg.SettlementSweepEvery,
	)

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer application.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		application.RunBackground(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}
