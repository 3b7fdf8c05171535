package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotpool/internal/domain/lot"
	"lotpool/internal/infrastructure/storage/memory"
)

type fakeKV struct {
	mu      sync.Mutex
	data    map[string]string
	gets    int
	failGet bool
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

var key = lot.Key{ProductID: "prod-1", FactoryID: "fac-1", Type: lot.TypePickup}

func TestProgressCache_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	c := NewProgressCache(memory.NewLotStore(), kv, time.Minute)

	l, err := c.GetOrCreateOpenLot(ctx, key, 10)
	require.NoError(t, err)
	_, err = c.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "p1", RetailerID: "r1", Qty: 3}, nil)
	require.NoError(t, err)

	p, err := c.Progress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, p.AccumulatedQty)
	assert.Contains(t, kv.data, c.key(key))

	cached, err := c.Progress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, p, cached)

	_, err = c.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "p2", RetailerID: "r2", Qty: 4}, nil)
	require.NoError(t, err)
	assert.Contains(t, kv.data, c.key(key), "entry survives until the writer commits")

	c.InvalidateProgress(ctx, key)
	assert.NotContains(t, kv.data, c.key(key))

	p, err = c.Progress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 7, p.AccumulatedQty)
	assert.Equal(t, 2, p.Participants)
}

func TestProgressCache_NewLotInvalidates(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := memory.NewLotStore()
	c := NewProgressCache(store, kv, time.Minute)

	l, err := c.GetOrCreateOpenLot(ctx, key, 2)
	require.NoError(t, err)
	res, err := c.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "p1", RetailerID: "r1", Qty: 2}, nil)
	require.NoError(t, err)
	require.True(t, res.DidClose)
	c.InvalidateProgress(ctx, key)

	p, err := c.Progress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, lot.StatusClosed, p.Status)

	next, err := c.GetOrCreateOpenLot(ctx, key, 2)
	require.NoError(t, err)
	assert.NotEqual(t, l.ID, next.ID)
	assert.NotContains(t, kv.data, c.key(key))
}

func TestProgressCache_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	kv.failGet = true
	c := NewProgressCache(memory.NewLotStore(), kv, time.Minute)

	_, err := c.GetOrCreateOpenLot(ctx, key, 10)
	require.NoError(t, err)

	p, err := c.Progress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 10, p.MinimumQuantity)
}

func TestProgressCache_UnknownKeyNotCached(t *testing.T) {
	kv := newFakeKV()
	c := NewProgressCache(memory.NewLotStore(), kv, time.Minute)

	_, err := c.Progress(context.Background(), key)
	assert.Error(t, err)
	assert.Empty(t, kv.data)
}
