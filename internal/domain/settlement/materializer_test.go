package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/catalog"
	"lotpool/internal/domain/events"
	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/settlement"
	"lotpool/internal/infrastructure/storage/memory"
)

var shipKey = lot.Key{ProductID: "oil-5l", FactoryID: "factory-9", Type: lot.TypeShipping}

type env struct {
	lots    *memory.LotStore
	orders  *memory.OrderStore
	outbox  *memory.Outbox
	catalog *memory.CatalogStore
	m       *settlement.Materializer
}

func newEnv(t *testing.T, orders settlement.Repository, locker settlement.Locker) *env {
	t.Helper()
	e := &env{
		lots:    memory.NewLotStore(),
		orders:  memory.NewOrderStore(),
		outbox:  memory.NewOutbox(),
		catalog: memory.NewCatalogStore(),
	}
	if orders == nil {
		orders = e.orders
	}
	e.catalog.PutAddress(catalog.Address{RetailerID: "r1", PostalCode: "1000"})
	e.catalog.PutAddress(catalog.Address{RetailerID: "r2", PostalCode: "1000"})
	e.catalog.PutAddress(catalog.Address{RetailerID: "r3", PostalCode: "2000"})
	e.m = settlement.NewMaterializer(settlement.MaterializerConfig{
		Lots:      e.lots,
		Orders:    orders,
		Addresses: e.catalog,
		Quoter:    catalog.FlatRate{Base: decimal.RequireFromString("30"), PerUnit: decimal.RequireFromString("1")},
		Publisher: e.outbox,
		TxManager: memory.NewTxManager(),
		Locker:    locker,
	})
	return e
}

// closeLot fills a shipping lot: r1 4u and r2 6u in zone 1000, r3 10u in zone 2000.
func (e *env) closeLot(t *testing.T) *lot.Lot {
	t.Helper()
	ctx := context.Background()
	l, err := e.lots.GetOrCreateOpenLot(ctx, shipKey, 20)
	require.NoError(t, err)

	snap := &lot.ProductSnapshot{Name: "Oil 5L", UnitPrice: decimal.RequireFromString("12.00")}
	var res lot.ApplyResult
	for _, c := range []lot.Contribution{
		{PaymentID: "p1", RetailerID: "r1", Qty: 4},
		{PaymentID: "p2", RetailerID: "r2", Qty: 6},
		{PaymentID: "p3", RetailerID: "r3", Qty: 10},
	} {
		res, err = e.lots.ApplyContribution(ctx, l.ID, c, snap)
		require.NoError(t, err)
	}
	require.True(t, res.DidClose)
	return res.Lot
}

func TestMaterializeOrder_BuildsLinesAndPoolsShipping(t *testing.T) {
	e := newEnv(t, nil, nil)
	closed := e.closeLot(t)

	order, err := e.m.MaterializeOrder(context.Background(), closed)
	require.NoError(t, err)

	assert.Equal(t, closed.ID, order.SourceLotID)
	assert.Equal(t, 20, order.TotalQty)
	assert.Equal(t, "Oil 5L", order.ProductName)
	assert.Equal(t, "240", order.Subtotal.String())
	assert.Equal(t, settlement.OrderPendingFulfillment, order.Status)
	require.Len(t, order.Lines, 3)

	// zone 1000: 30 + 10 units = 40 split 4:6; zone 2000: 30 + 10 = 40.
	assert.Equal(t, "16", order.Lines[0].ShippingCost.String())
	assert.Equal(t, "24", order.Lines[1].ShippingCost.String())
	assert.Equal(t, "40", order.Lines[2].ShippingCost.String())
	assert.Equal(t, "80", order.ShippingTotal.String())
	assert.Equal(t, "1000", order.Lines[0].ZoneKey)
	assert.Equal(t, "48", order.Lines[0].Amount.String())

	got, err := e.lots.GetByID(context.Background(), closed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, order.ID, *got.OrderID)

	pending := e.outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, events.OrderMaterialized, pending[0].EventType)
}

func TestMaterializeOrder_ExactlyOnce(t *testing.T) {
	e := newEnv(t, nil, nil)
	closed := e.closeLot(t)
	ctx := context.Background()

	first, err := e.m.MaterializeOrder(ctx, closed)
	require.NoError(t, err)
	second, err := e.m.MaterializeOrder(ctx, closed)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, e.orders.Count())
}

func TestMaterializeOrder_ConcurrentCallsCreateOneOrder(t *testing.T) {
	e := newEnv(t, nil, nil)
	closed := e.closeLot(t)

	var wg sync.WaitGroup
	ids := make([]id.ID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := e.m.MaterializeOrder(context.Background(), closed)
			assert.NoError(t, err)
			if o != nil {
				ids[i] = o.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, e.orders.Count())
	for _, oid := range ids {
		assert.Equal(t, ids[0], oid)
	}
}

func TestMaterializeOrder_RejectsOpenLot(t *testing.T) {
	e := newEnv(t, nil, nil)
	l, err := e.lots.GetOrCreateOpenLot(context.Background(), shipKey, 20)
	require.NoError(t, err)

	_, err = e.m.MaterializeOrder(context.Background(), l)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

type failingOrders struct {
	*memory.OrderStore
	fail bool
}

func (f *failingOrders) Create(ctx context.Context, o *settlement.Order) error {
	if f.fail {
		return errors.New("connection reset")
	}
	return f.OrderStore.Create(ctx, o)
}

func TestMaterializeOrder_FailureLeavesLotClosedAndRetries(t *testing.T) {
	orders := &failingOrders{OrderStore: memory.NewOrderStore(), fail: true}
	e := newEnv(t, orders, nil)
	closed := e.closeLot(t)
	ctx := context.Background()

	_, err := e.m.MaterializeOrder(ctx, closed)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeOrderMaterializationFailed))

	got, err := e.lots.GetByID(ctx, closed.ID)
	require.NoError(t, err)
	assert.True(t, got.IsClosed())
	assert.False(t, got.IsMaterialized())

	orders.fail = false
	n, err := e.m.RetryPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, orders.Count())

	n, err = e.m.RetryPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMaterializeOrder_RepairsMissingMarker(t *testing.T) {
	e := newEnv(t, nil, nil)
	closed := e.closeLot(t)
	ctx := context.Background()

	existing := &settlement.Order{ID: id.New(), SourceLotID: closed.ID, CreatedAt: time.Now()}
	require.NoError(t, e.orders.Create(ctx, existing))

	order, err := e.m.MaterializeOrder(ctx, closed)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, order.ID)

	got, err := e.lots.GetByID(ctx, closed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, existing.ID, *got.OrderID)
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	return nil, settlement.ErrLocked
}

func TestMaterializeOrder_LockHeldElsewhere(t *testing.T) {
	e := newEnv(t, nil, busyLocker{})
	closed := e.closeLot(t)

	_, err := e.m.MaterializeOrder(context.Background(), closed)
	assert.ErrorIs(t, err, settlement.ErrLocked)
	assert.True(t, apperror.IsCode(err, apperror.CodeOrderMaterializationFailed))
	assert.Equal(t, 0, e.orders.Count())
}

func TestMaterializeByID_UnknownLot(t *testing.T) {
	e := newEnv(t, nil, nil)
	_, err := e.m.MaterializeByID(context.Background(), id.New())
	assert.True(t, apperror.IsCode(err, apperror.CodeLotNotFound))
}

func TestMaterializeOrder_AssignsSequentialNumbers(t *testing.T) {
	lots := memory.NewLotStore()
	m := settlement.NewMaterializer(settlement.MaterializerConfig{
		Lots:      lots,
		Orders:    memory.NewOrderStore(),
		TxManager: memory.NewTxManager(),
		Numbers:   memory.NewSequences(),
		Now:       func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) },
	})
	ctx := context.Background()

	var numbers []string
	for _, factory := range []string{"f1", "f2"} {
		key := lot.Key{ProductID: "p", FactoryID: factory, Type: lot.TypePickup}
		l, err := lots.GetOrCreateOpenLot(ctx, key, 2)
		require.NoError(t, err)
		res, err := lots.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "pay-" + factory, RetailerID: "r1", Qty: 2}, nil)
		require.NoError(t, err)
		require.True(t, res.DidClose)

		order, err := m.MaterializeOrder(ctx, res.Lot)
		require.NoError(t, err)
		numbers = append(numbers, order.Number)

		again, err := m.MaterializeOrder(ctx, res.Lot)
		require.NoError(t, err)
		assert.Equal(t, order.Number, again.Number, "existing order keeps its number")
	}

	assert.Equal(t, []string{"PO-2026-00001", "PO-2026-00002"}, numbers)
}

func TestMaterializeOrder_LostRaceDoesNotConsumeNumber(t *testing.T) {
	lots := memory.NewLotStore()
	m := settlement.NewMaterializer(settlement.MaterializerConfig{
		Lots:      lots,
		Orders:    memory.NewOrderStore(),
		TxManager: memory.NewTxManager(),
		Numbers:   memory.NewSequences(),
		Now:       func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) },
	})
	ctx := context.Background()

	closeFor := func(factory string) *lot.Lot {
		key := lot.Key{ProductID: "p", FactoryID: factory, Type: lot.TypePickup}
		l, err := lots.GetOrCreateOpenLot(ctx, key, 1)
		require.NoError(t, err)
		res, err := lots.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "pay-" + factory, RetailerID: "r1", Qty: 1}, nil)
		require.NoError(t, err)
		return res.Lot
	}

	first := closeFor("f1")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.MaterializeOrder(ctx, first)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	winner, err := m.MaterializeOrder(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "PO-2026-00001", winner.Number)

	second, err := m.MaterializeOrder(ctx, closeFor("f2"))
	require.NoError(t, err)
	assert.Equal(t, "PO-2026-00002", second.Number)
}
