package reservation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/catalog"
	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/reservation"
	"lotpool/internal/infrastructure/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type setup struct {
	svc   *reservation.Service
	repo  *memory.ReservationStore
	lots  *memory.LotStore
	clock *clock
}

func newSetup(t *testing.T, ttl time.Duration) *setup {
	t.Helper()
	cat := memory.NewCatalogStore()
	cat.PutAddress(catalog.Address{RetailerID: "r1", Line1: "Av. Siempre Viva 742", PostalCode: "b1900 "})
	cat.PutAddress(catalog.Address{RetailerID: "r2", PostalCode: "1000"})
	cat.PutAddress(catalog.Address{RetailerID: "no-zip", Line1: "Somewhere"})

	s := &setup{
		repo:  memory.NewReservationStore(),
		lots:  memory.NewLotStore(),
		clock: &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	s.svc = reservation.NewService(reservation.ServiceConfig{
		Repo:      s.repo,
		Addresses: cat,
		Lots:      s.lots,
		TxManager: memory.NewTxManager(),
		TTL:       ttl,
		Now:       s.clock.Now,
	})
	return s
}

func TestReserve_CreatesPendingWithZone(t *testing.T) {
	s := newSetup(t, 0)

	r, err := s.svc.Reserve(context.Background(), "prod-1", "r1", 3)
	require.NoError(t, err)

	assert.Equal(t, reservation.StatusPendingLot, r.Status)
	assert.Equal(t, "B1900", r.ZoneKey)
	assert.Equal(t, 3, r.Qty)
}

func TestReserve_MissingAddressCheckedFirst(t *testing.T) {
	s := newSetup(t, 0)
	ctx := context.Background()

	_, err := s.svc.Reserve(ctx, "prod-1", "ghost", 0)
	assert.True(t, apperror.IsCode(err, apperror.CodeMissingAddress), "no address beats invalid qty")

	_, err = s.svc.Reserve(ctx, "prod-1", "no-zip", 1)
	assert.True(t, apperror.IsCode(err, apperror.CodeMissingAddress))
}

func TestReserve_Exclusive(t *testing.T) {
	s := newSetup(t, 0)
	ctx := context.Background()

	_, err := s.svc.Reserve(ctx, "prod-1", "r1", 1)
	require.NoError(t, err)

	_, err = s.svc.Reserve(ctx, "prod-1", "r1", 2)
	assert.True(t, apperror.IsCode(err, apperror.CodeAlreadyReserved))

	_, err = s.svc.Reserve(ctx, "prod-2", "r1", 2)
	assert.NoError(t, err, "other products are independent")
}

func TestReserve_ConcurrentExclusive(t *testing.T) {
	s := newSetup(t, 0)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.svc.Reserve(context.Background(), "prod-1", "r1", 1); err == nil {
				ok.Add(1)
			} else {
				assert.True(t, apperror.IsCode(err, apperror.CodeAlreadyReserved))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestReserve_DoesNotTouchLots(t *testing.T) {
	s := newSetup(t, 0)
	_, err := s.svc.Reserve(context.Background(), "prod-1", "r1", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, s.lots.Count())
}

func TestCancel(t *testing.T) {
	s := newSetup(t, 0)
	ctx := context.Background()

	r, err := s.svc.Reserve(ctx, "prod-1", "r1", 1)
	require.NoError(t, err)

	err = s.svc.Cancel(ctx, r.ID, "r2")
	assert.True(t, apperror.IsCode(err, apperror.CodeForbidden))

	require.NoError(t, s.svc.Cancel(ctx, r.ID, "r1"))

	got, err := s.repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, reservation.CancelByRetailer, *got.CancelReason)

	err = s.svc.Cancel(ctx, r.ID, "r1")
	assert.True(t, apperror.IsCode(err, apperror.CodeNotCancellable))

	// Slot freed.
	_, err = s.svc.Reserve(ctx, "prod-1", "r1", 1)
	assert.NoError(t, err)
}

func TestCancel_ConvertedIsNotCancellable(t *testing.T) {
	s := newSetup(t, 0)
	ctx := context.Background()

	r, err := s.svc.Reserve(ctx, "prod-1", "r1", 1)
	require.NoError(t, err)
	converted, err := s.svc.ConvertForPayment(ctx, "r1", "prod-1", "pay-1")
	require.NoError(t, err)
	require.NotNil(t, converted)
	assert.Equal(t, "pay-1", *converted.PaymentID)

	err = s.svc.Cancel(ctx, r.ID, "r1")
	assert.True(t, apperror.IsCode(err, apperror.CodeNotCancellable))
}

func TestCancel_UnknownReservation(t *testing.T) {
	s := newSetup(t, 0)
	err := s.svc.Cancel(context.Background(), id.New(), "r1")
	assert.True(t, apperror.IsNotFound(err))
}

func TestConvertForPayment_NoPendingIsNoop(t *testing.T) {
	s := newSetup(t, 0)
	r, err := s.svc.ConvertForPayment(context.Background(), "r1", "prod-1", "pay-1")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestZoneDemandAndParticipation(t *testing.T) {
	s := newSetup(t, 0)
	ctx := context.Background()

	_, err := s.svc.Reserve(ctx, "prod-1", "r1", 2)
	require.NoError(t, err)
	_, err = s.svc.Reserve(ctx, "prod-1", "r2", 5)
	require.NoError(t, err)

	demand, err := s.svc.ZoneDemand(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, []reservation.ZoneCount{
		{ZoneKey: "1000", Retailers: 1, Qty: 5},
		{ZoneKey: "B1900", Retailers: 1, Qty: 2},
	}, demand)

	key := lot.Key{ProductID: "prod-1", FactoryID: "f", Type: lot.TypePickup}
	l, err := s.lots.GetOrCreateOpenLot(ctx, key, 10)
	require.NoError(t, err)
	_, err = s.lots.ApplyContribution(ctx, l.ID, lot.Contribution{PaymentID: "x", RetailerID: "r2", Qty: 1}, nil)
	require.NoError(t, err)

	p, err := s.svc.Participation(ctx, "r2", "prod-1")
	require.NoError(t, err)
	assert.True(t, p.Reserved)
	assert.True(t, p.Contributed)

	p, err = s.svc.Participation(ctx, "r3", "prod-1")
	require.NoError(t, err)
	assert.False(t, p.Reserved)
	assert.False(t, p.Contributed)
}

func TestExpireStale(t *testing.T) {
	s := newSetup(t, time.Hour)
	ctx := context.Background()

	old, err := s.svc.Reserve(ctx, "prod-1", "r1", 1)
	require.NoError(t, err)
	s.clock.Advance(50 * time.Minute)
	fresh, err := s.svc.Reserve(ctx, "prod-1", "r2", 1)
	require.NoError(t, err)
	s.clock.Advance(20 * time.Minute)

	n, err := s.svc.ExpireStale(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, got.Status)
	assert.Equal(t, reservation.CancelExpired, *got.CancelReason)

	got, err = s.repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPending())
}

func TestExpireStale_DisabledByDefault(t *testing.T) {
	s := newSetup(t, 0)
	ctx := context.Background()
	_, err := s.svc.Reserve(ctx, "prod-1", "r1", 1)
	require.NoError(t, err)
	s.clock.Advance(365 * 24 * time.Hour)

	n, err := s.svc.ExpireStale(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
