// Package numerator implements numerator.Generator on the sys_sequences table.
package numerator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	corenumerator "lotpool/internal/core/numerator"
	"lotpool/internal/infrastructure/storage/postgres"
)

// Querier is the subset of pgx used by the service.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type cachedRange struct {
	current int64
	max     int64
}

// Service allocates numbers from PostgreSQL. Strict numbers are taken through
// the querier in ctx, so they commit or roll back with the caller's transaction.
type Service struct {
	querier func(ctx context.Context) Querier

	cacheMu sync.Mutex
	ranges  map[string]*cachedRange
}

var _ corenumerator.Generator = (*Service)(nil)

// New creates a service bound to the transaction manager.
func New(txManager *postgres.TxManager) *Service {
	return newService(func(ctx context.Context) Querier { return txManager.GetQuerier(ctx) })
}

func newService(querier func(ctx context.Context) Querier) *Service {
	return &Service{
		querier: querier,
		ranges:  make(map[string]*cachedRange),
	}
}

// Next implements corenumerator.Generator.
func (s *Service) Next(ctx context.Context, cfg corenumerator.Config, opts *corenumerator.Options, period time.Time) (string, error) {
	if s == nil {
		return "", fmt.Errorf("numerator service is not initialized")
	}
	if opts == nil {
		opts = corenumerator.DefaultOptions()
	}

	key := corenumerator.Key(cfg, period)
	var (
		n   int64
		err error
	)
	switch opts.Strategy {
	case corenumerator.StrategyCached:
		n, err = s.nextCached(ctx, key, opts.RangeSize)
	default:
		n, err = s.nextStrict(ctx, key)
	}
	if err != nil {
		return "", err
	}
	return corenumerator.Format(cfg, period, n), nil
}

func (s *Service) nextStrict(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET current_val = sys_sequences.current_val + 1
		RETURNING current_val
	`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", key, err)
	}
	return n, nil
}

// nextCached hands out numbers from a reserved range, reserving a new one
// from the database when the current range is used up.
func (s *Service) nextCached(ctx context.Context, key string, size int64) (int64, error) {
	if size <= 0 {
		size = 50
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	rng, ok := s.ranges[key]
	if !ok {
		rng = &cachedRange{}
		s.ranges[key] = rng
	}

	if rng.current >= rng.max {
		var newMax int64
		err := s.querier(ctx).QueryRow(ctx, `
			INSERT INTO sys_sequences (key, current_val)
			VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET current_val = sys_sequences.current_val + $2
			RETURNING current_val
		`, key, size).Scan(&newMax)
		if err != nil {
			return 0, fmt.Errorf("reserve range %s: %w", key, err)
		}
		// Range is (newMax-size, newMax].
		rng.current = newMax - size
		rng.max = newMax
	}

	rng.current++
	return rng.current, nil
}
