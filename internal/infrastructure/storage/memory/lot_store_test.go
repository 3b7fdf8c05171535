package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/lot"
)

var key = lot.Key{ProductID: "prod-1", FactoryID: "factory-1", Type: lot.TypeShipping}

func TestLotStore_ConcurrentContributionsCloseExactlyOnce(t *testing.T) {
	const n = 64
	ctx := context.Background()
	store := NewLotStore()

	l, err := store.GetOrCreateOpenLot(ctx, key, n)
	require.NoError(t, err)

	var closes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.ApplyContribution(ctx, l.ID, lot.Contribution{
				PaymentID:  fmt.Sprintf("pay-%d", i),
				RetailerID: fmt.Sprintf("retailer-%d", i),
				Qty:        1,
			}, nil)
			assert.NoError(t, err)
			if res.DidClose {
				closes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.AccumulatedQty)
	assert.Len(t, got.Contributions, n)
	assert.Equal(t, lot.StatusClosed, got.Status)
	assert.Equal(t, int32(1), closes.Load())
	require.NoError(t, got.Validate(ctx))
}

func TestLotStore_ConcurrentRedeliveryAppliesOnce(t *testing.T) {
	ctx := context.Background()
	store := NewLotStore()
	l, err := store.GetOrCreateOpenLot(ctx, key, 100)
	require.NoError(t, err)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "same", RetailerID: "r", Qty: 7}, nil)
			assert.NoError(t, err)
			if !res.Duplicate {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	got, err := store.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, 7, got.AccumulatedQty)
}

func TestLotStore_SingleOpenLotPerKey(t *testing.T) {
	ctx := context.Background()
	store := NewLotStore()

	ids := make(chan id.ID, 32)
	var wg sync.WaitGroup
	for i := 0; i < cap(ids); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := store.GetOrCreateOpenLot(ctx, key, 10)
			assert.NoError(t, err)
			ids <- l.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[id.ID]struct{}{}
	for lotID := range ids {
		seen[lotID] = struct{}{}
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, store.Count())

	open, err := store.FindOpenLot(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, open)
}

func TestLotStore_PaymentIsGloballyUnique(t *testing.T) {
	ctx := context.Background()
	store := NewLotStore()

	first, err := store.GetOrCreateOpenLot(ctx, key, 10)
	require.NoError(t, err)
	otherKey := lot.Key{ProductID: "prod-2", FactoryID: "factory-1", Type: lot.TypePickup}
	second, err := store.GetOrCreateOpenLot(ctx, otherKey, 10)
	require.NoError(t, err)

	_, err = store.ApplyContribution(ctx, first.ID, lot.Contribution{PaymentID: "p1", RetailerID: "r", Qty: 2}, nil)
	require.NoError(t, err)

	res, err := store.ApplyContribution(ctx, second.ID, lot.Contribution{PaymentID: "p1", RetailerID: "r", Qty: 2}, nil)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, first.ID, res.Lot.ID)

	got, err := store.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AccumulatedQty)
}

func TestLotStore_ClosedLotRejectsAndNewLotOpens(t *testing.T) {
	ctx := context.Background()
	store := NewLotStore()

	l, err := store.GetOrCreateOpenLot(ctx, key, 5)
	require.NoError(t, err)
	res, err := store.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "p1", RetailerID: "r1", Qty: 6}, nil)
	require.NoError(t, err)
	require.True(t, res.DidClose)

	_, err = store.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "p2", RetailerID: "r2", Qty: 1}, nil)
	assert.True(t, apperror.IsLotAlreadyClosed(err))

	open, err := store.FindOpenLot(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, open)

	next, err := store.GetOrCreateOpenLot(ctx, key, 5)
	require.NoError(t, err)
	assert.NotEqual(t, l.ID, next.ID)
}

func TestLotStore_UnknownLot(t *testing.T) {
	_, err := NewLotStore().ApplyContribution(context.Background(), id.New(), lot.Contribution{PaymentID: "p", RetailerID: "r", Qty: 1}, nil)
	assert.True(t, apperror.IsCode(err, apperror.CodeLotNotFound))
}

func TestLotStore_MaterializationMarkerAndSweepList(t *testing.T) {
	ctx := context.Background()
	store := NewLotStore()

	l, err := store.GetOrCreateOpenLot(ctx, key, 1)
	require.NoError(t, err)
	_, err = store.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "p1", RetailerID: "r1", Qty: 1}, nil)
	require.NoError(t, err)

	pending, err := store.ListClosedUnmaterialized(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkOrderMaterialized(ctx, l.ID, id.New()))

	pending, err = store.ListClosedUnmaterialized(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLotStore_ProgressAndParticipation(t *testing.T) {
	ctx := context.Background()
	store := NewLotStore()

	_, err := store.Progress(ctx, key)
	assert.True(t, apperror.IsNotFound(err))

	l, err := store.GetOrCreateOpenLot(ctx, key, 10)
	require.NoError(t, err)
	_, err = store.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "p1", RetailerID: "r1", Qty: 4}, nil)
	require.NoError(t, err)

	p, err := store.Progress(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 4, p.AccumulatedQty)
	assert.Equal(t, 10, p.MinimumQuantity)
	assert.Equal(t, lot.StatusAccumulating, p.Status)

	ok, err := store.HasContribution(ctx, "r1", key.ProductID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.HasContribution(ctx, "r2", key.ProductID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLotStore_ReturnedLotsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewLotStore()
	l, err := store.GetOrCreateOpenLot(ctx, key, 10)
	require.NoError(t, err)

	l.AccumulatedQty = 999

	got, err := store.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AccumulatedQty)
}
