// Package cache provides a Redis read-through cache for lot progress.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lotpool/internal/domain/lot"
	"lotpool/pkg/logger"
)

// KV is the subset of redis.Cmdable used by the cache.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ lot.Repository = (*ProgressCache)(nil)

// ProgressCache decorates a lot.Repository, caching Progress reads. Lot
// creation invalidates directly; contributions are invalidated by the writer
// through InvalidateProgress once their transaction has committed. Redis
// errors degrade to the underlying repository.
type ProgressCache struct {
	lot.Repository
	kv     KV
	ttl    time.Duration
	prefix string
}

// NewProgressCache wraps repo.
func NewProgressCache(repo lot.Repository, kv KV, ttl time.Duration) *ProgressCache {
	return &ProgressCache{
		Repository: repo,
		kv:         kv,
		ttl:        ttl,
		prefix:     "lotpool:progress:",
	}
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *ProgressCache) key(k lot.Key) string {
	return c.prefix + k.String()
}

// Progress implements lot.Repository.
func (c *ProgressCache) Progress(ctx context.Context, key lot.Key) (*lot.Progress, error) {
	raw, err := c.kv.Get(ctx, c.key(key)).Bytes()
	switch {
	case err == nil:
		var p lot.Progress
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return &p, nil
		}
	case !errors.Is(err, redis.Nil):
		logger.Warn(ctx, "progress cache read failed", "key", key.String(), "error", err)
	}

	p, err := c.Repository.Progress(ctx, key)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(p); err == nil {
		if err := c.kv.Set(ctx, c.key(key), b, c.ttl).Err(); err != nil {
			logger.Warn(ctx, "progress cache write failed", "key", key.String(), "error", err)
		}
	}
	return p, nil
}

// GetOrCreateOpenLot implements lot.Repository.
func (c *ProgressCache) GetOrCreateOpenLot(ctx context.Context, key lot.Key, minimumQuantity int) (*lot.Lot, error) {
	l, err := c.Repository.GetOrCreateOpenLot(ctx, key, minimumQuantity)
	if err == nil && l.AccumulatedQty == 0 {
		c.invalidate(ctx, key)
	}
	return l, err
}

// InvalidateProgress drops the cached progress for key.
func (c *ProgressCache) InvalidateProgress(ctx context.Context, key lot.Key) {
	c.invalidate(ctx, key)
}

func (c *ProgressCache) invalidate(ctx context.Context, key lot.Key) {
	if err := c.kv.Del(ctx, c.key(key)).Err(); err != nil {
		logger.Warn(ctx, "progress cache invalidation failed", "key", key.String(), "error", err)
	}
}
