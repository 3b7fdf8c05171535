package app

import (
	"context"
	"sync"
	"time"

	"lotpool/internal/domain/events"
	"lotpool/internal/infrastructure/storage/memory"
	"lotpool/internal/infrastructure/storage/postgres"
	"lotpool/pkg/logger"
)

const sweepBatch = 100

// memoryRelay adapts the in-memory outbox to Relay.
type memoryRelay struct {
	outbox  *memory.Outbox
	handler events.Handler
	limit   int
}

func (r *memoryRelay) ProcessBatch(ctx context.Context) (int, error) {
	return r.outbox.ProcessBatch(ctx, r.handler, r.limit)
}

// postgresMaintenance moves dead messages aside and prunes old rows.
type postgresMaintenance struct {
	pool        *postgres.Pool
	relay       *postgres.OutboxRelay
	idempotency *postgres.IdempotencyStore
	retention   time.Duration
}

func (m *postgresMaintenance) Run(ctx context.Context) {
	if n, err := m.relay.MoveToDLQ(ctx); err != nil {
		logger.Error(ctx, "outbox dlq move failed", "error", err)
	} else if n > 0 {
		logger.Warn(ctx, "outbox messages moved to dlq", "count", n)
	}

	if n, err := m.relay.PurgePublished(ctx, m.retention); err != nil {
		logger.Error(ctx, "outbox purge failed", "error", err)
	} else if n > 0 {
		logger.Info(ctx, "outbox purged", "count", n)
	}

	if m.idempotency != nil {
		if n, err := m.idempotency.CleanupExpired(ctx); err != nil {
			logger.Error(ctx, "idempotency cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info(ctx, "cleaned up idempotency keys", "count", n)
		}
	}

	postgres.LogPoolStats(ctx, m.pool)
}

// RunBackground drives the outbox relay, the settlement sweep, reservation
// expiry and maintenance until ctx is cancelled.
func (a *App) RunBackground(ctx context.Context) {
	ctx = logger.WithLogger(ctx, a.log.WithComponent("worker"))
	cfg := a.Config

	var wg sync.WaitGroup
	run := func(every time.Duration, job func(context.Context)) {
		if every <= 0 {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					job(ctx)
				}
			}
		}()
	}

	run(cfg.OutboxPollInterval, a.relayOnce)
	run(cfg.SettlementSweepEvery, a.sweepSettlements)
	run(cfg.SettlementSweepEvery, a.expireReservations)
	if a.Maintenance != nil {
		run(time.Hour, a.Maintenance.Run)
	}

	wg.Wait()
}

func (a *App) relayOnce(ctx context.Context) {
	// Drain while full batches keep coming.
	for ctx.Err() == nil {
		n, err := a.Relay.ProcessBatch(ctx)
		if err != nil {
			logger.Error(ctx, "outbox relay failed", "error", err)
			return
		}
		if n > 0 {
			logger.Debug(ctx, "outbox batch relayed", "count", n)
		}
		if n == 0 || n < a.Config.OutboxBatchSize {
			return
		}
	}
}

func (a *App) sweepSettlements(ctx context.Context) {
	n, err := a.Materializer.RetryPending(ctx, sweepBatch)
	if err != nil {
		logger.Error(ctx, "settlement sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info(ctx, "settlement sweep materialized lots", "count", n)
	}
}

func (a *App) expireReservations(ctx context.Context) {
	n, err := a.Reservations.ExpireStale(ctx, sweepBatch)
	if err != nil {
		logger.Error(ctx, "reservation expiry failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info(ctx, "reservations expired", "count", n)
	}
}
