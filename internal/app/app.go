// Package app wires configuration into the running components shared by the
// API server and the background worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lotpool/internal/config"
	"lotpool/internal/core/numerator"
	"lotpool/internal/core/tx"
	"lotpool/internal/domain/accumulation"
	"lotpool/internal/domain/auth"
	"lotpool/internal/domain/catalog"
	"lotpool/internal/domain/events"
	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/payment"
	"lotpool/internal/domain/reservation"
	"lotpool/internal/domain/settlement"
	"lotpool/internal/infrastructure/cache"
	"lotpool/internal/infrastructure/http/v1/handlers"
	"lotpool/internal/infrastructure/lock"
	"lotpool/internal/infrastructure/messaging"
	pgnumerator "lotpool/internal/infrastructure/numerator"
	"lotpool/internal/infrastructure/storage/memory"
	"lotpool/internal/infrastructure/storage/postgres"
	"lotpool/internal/infrastructure/storage/postgres/catalog_repo"
	"lotpool/internal/infrastructure/storage/postgres/lot_repo"
	"lotpool/internal/infrastructure/storage/postgres/order_repo"
	"lotpool/internal/infrastructure/storage/postgres/reservation_repo"
	"lotpool/pkg/logger"
)

// Relay drains the outbox once.
type Relay interface {
	ProcessBatch(ctx context.Context) (int, error)
}

// Maintenance is housekeeping only the postgres backend needs.
type Maintenance interface {
	Run(ctx context.Context)
}

// App holds the wired components.
type App struct {
	Config *config.Config

	Lots         lot.Repository
	Engine       *accumulation.Engine
	Materializer *settlement.Materializer
	Reservations *reservation.Service
	Payments     *payment.Adapter
	JWT          *auth.JWTService
	Relay        Relay
	Anomalies    accumulation.AnomalyReader

	// Idempotency is nil unless enabled on the postgres backend.
	Idempotency *postgres.IdempotencyStore
	// Maintenance is nil on the memory backend.
	Maintenance Maintenance

	HealthChecks map[string]handlers.HealthCheck

	txm     tx.Manager
	catalog catalogWriter
	log     *logger.Logger
	closers []func()
}

// storage is the backend-specific set of repositories.
type storage struct {
	txm       tx.Manager
	lots      lot.Repository
	orders    settlement.Repository
	resv      reservation.Repository
	products  catalog.ProductLookup
	addresses catalog.AddressBook
	publisher events.Publisher
	anomalies accumulation.AnomalyStore
	numbers   numerator.Generator
	catalog   catalogWriter
	newRelay  func(h events.Handler) Relay
}

// New builds the application for cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:       cfg,
		JWT:          auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret)),
		HealthChecks: make(map[string]handlers.HealthCheck),
		log:          log.WithComponent("app"),
	}

	var st *storage
	var err error
	switch cfg.Storage {
	case config.StorageMemory:
		st = a.memoryStorage(cfg)
	default:
		st, err = a.postgresStorage(ctx, cfg)
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	var locker settlement.Locker
	var progress accumulation.ProgressInvalidator
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(func() { _ = client.Close() })
		a.HealthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

		pc := cache.NewProgressCache(st.lots, client, cfg.ProgressCacheTTL)
		st.lots = pc
		progress = pc
		locker = lock.NewRedisLocker(client, cfg.SettlementLock)
		a.log.Infow("redis enabled", "addr", cfg.RedisAddr)
	}

	var forward events.Handler
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := messaging.NewKafkaPublisher(messaging.KafkaConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopicEvents,
			ClientID: cfg.KafkaClientID,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		a.onClose(func() { _ = kp.Close() })
		forward = kp
		a.log.Infow("kafka forwarding enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopicEvents)
	}

	a.txm = st.txm
	a.catalog = st.catalog
	a.Lots = st.lots
	a.Anomalies = st.anomalies
	a.Materializer = settlement.NewMaterializer(settlement.MaterializerConfig{
		Lots:      st.lots,
		Orders:    st.orders,
		Addresses: st.addresses,
		Quoter:    catalog.FlatRate{Base: cfg.ShippingBase, PerUnit: cfg.ShippingPerUnit},
		Publisher: st.publisher,
		TxManager: st.txm,
		Locker:    locker,
		Numbers:   st.numbers,
	})

	engineCfg := accumulation.DefaultConfig()
	engineCfg.MaxAttempts = cfg.EngineMaxAttempts
	a.Engine = accumulation.NewEngine(accumulation.EngineConfig{
		Lots:       st.lots,
		TxManager:  st.txm,
		Publisher:  st.publisher,
		Products:   st.products,
		Settlement: a.Materializer,
		Anomalies:  st.anomalies,
		Progress:   progress,
		Config:     engineCfg,
	})

	a.Reservations = reservation.NewService(reservation.ServiceConfig{
		Repo:      st.resv,
		Addresses: st.addresses,
		Lots:      st.lots,
		TxManager: st.txm,
		TTL:       cfg.ReservationTTL,
	})
	a.Payments = payment.NewAdapter(a.Engine, a.Reservations)
	a.Relay = st.newRelay(settlement.NewDispatcher(a.Materializer, forward))

	return a, nil
}

func (a *App) memoryStorage(cfg *config.Config) *storage {
	a.log.Warnw("using in-memory storage; data is lost on restart")

	outbox := memory.NewOutbox()
	cat := memory.NewCatalogStore()
	return &storage{
		txm:       memory.NewTxManager(),
		lots:      memory.NewLotStore(),
		orders:    memory.NewOrderStore(),
		resv:      memory.NewReservationStore(),
		products:  cat,
		addresses: cat,
		publisher: outbox,
		anomalies: memory.NewAnomalyLog(),
		numbers:   memory.NewSequences(),
		catalog:   memoryCatalogWriter{store: cat},
		newRelay: func(h events.Handler) Relay {
			return &memoryRelay{outbox: outbox, handler: h, limit: cfg.OutboxBatchSize}
		},
	}
}

func (a *App) postgresStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = int32(cfg.DBMinConns)

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.onClose(pool.Close)
	a.HealthChecks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	txm := postgres.NewTxManager(pool)
	audit, err := postgres.NewAuditService(txm)
	if err != nil {
		return nil, fmt.Errorf("init audit: %w", err)
	}
	a.onClose(audit.Close)

	if cfg.IdempotencyEnabled {
		a.Idempotency = postgres.NewIdempotencyStore(txm, cfg.IdempotencyTTL)
	}

	cat := catalog_repo.NewCatalogRepo(txm)
	st := &storage{
		txm:       txm,
		lots:      lot_repo.NewLotRepo(txm),
		orders:    order_repo.NewOrderRepo(txm),
		resv:      reservation_repo.NewReservationRepo(txm),
		products:  cat,
		addresses: cat,
		publisher: postgres.NewOutboxPublisher(txm),
		anomalies: audit,
		numbers:   pgnumerator.New(txm),
		catalog:   cat,
	}
	st.newRelay = func(h events.Handler) Relay {
		relay := postgres.NewOutboxRelay(txm, cfg.OutboxBatchSize, h)
		a.Maintenance = &postgresMaintenance{
			pool:        pool,
			relay:       relay,
			idempotency: a.Idempotency,
			retention:   7 * 24 * time.Hour,
		}
		return relay
	}
	return st, nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Compile-time checks for the Redis-backed components.
var (
	_ cache.KV                         = (*redis.Client)(nil)
	_ accumulation.ProgressInvalidator = (*cache.ProgressCache)(nil)
)
