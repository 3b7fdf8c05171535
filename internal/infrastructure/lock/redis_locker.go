// Package lock provides a Redis-backed settlement lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"

	"lotpool/internal/domain/settlement"
)

type obtainer interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

var _ settlement.Locker = (*RedisLocker)(nil)

// RedisLocker implements settlement.Locker with bsm/redislock.
type RedisLocker struct {
	client obtainer
	ttl    time.Duration
	opts   *redislock.Options
}

// NewRedisLocker creates a locker whose locks expire after ttl.
// Acquire waits briefly for a busy key before giving up.
func NewRedisLocker(client redislock.RedisClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(client),
		ttl:    ttl,
		opts: &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 5),
		},
	}
}

// Acquire obtains key or fails with settlement.ErrLocked.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lk, err := l.client.Obtain(ctx, key, l.ttl, l.opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, settlement.ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
