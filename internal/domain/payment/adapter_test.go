package payment

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lotpool/internal/core/apperror"
	"lotpool/internal/domain/accumulation"
	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/reservation"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) AddContribution(ctx context.Context, in accumulation.Input) (accumulation.ClosureResult, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(accumulation.ClosureResult), args.Error(1)
}

type mockReservations struct {
	mock.Mock
}

func (m *mockReservations) ConvertForPayment(ctx context.Context, retailerID, productID, paymentID string) (*reservation.Reservation, error) {
	args := m.Called(ctx, retailerID, productID, paymentID)
	r, _ := args.Get(0).(*reservation.Reservation)
	return r, args.Error(1)
}

func decodeNotification(t *testing.T, raw string) Notification {
	t.Helper()
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	return n
}

func TestNormalize_ApprovedWithMixedNumberEncodings(t *testing.T) {
	a := NewAdapter(nil, nil)
	n := decodeNotification(t, `{
		"id": "mp-123",
		"status": "approved",
		"metadata": {
			"product_id": "prod-1",
			"factory_id": "fac-1",
			"retailer_id": "ret-1",
			"lot_type": "shipping",
			"qty": "5",
			"minimum_quantity": 100
		}
	}`)

	ev, ok, err := a.Normalize(n)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ApprovedEvent{
		PaymentID:       "mp-123",
		ProductID:       "prod-1",
		FactoryID:       "fac-1",
		RetailerID:      "ret-1",
		LotType:         lot.TypeShipping,
		Qty:             5,
		MinimumQuantity: 100,
	}, ev)
}

func TestNormalize_IgnoresNonApproved(t *testing.T) {
	a := NewAdapter(nil, nil)
	_, ok, err := a.Normalize(Notification{ID: "x", Status: "pending"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNormalize_DefaultsLotTypeToPickup(t *testing.T) {
	a := NewAdapter(nil, nil)
	ev, ok, err := a.Normalize(Notification{ID: "p", Status: "APPROVED", Metadata: map[string]any{
		"product_id": "prod", "factory_id": "fac", "retailer_id": "ret",
		"qty": float64(2), "minimum_quantity": float64(10),
	}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lot.TypePickup, ev.LotType)
}

func TestNormalize_RejectsBadPayloads(t *testing.T) {
	a := NewAdapter(nil, nil)
	base := func() map[string]any {
		return map[string]any{
			"product_id": "prod", "factory_id": "fac", "retailer_id": "ret",
			"qty": float64(2), "minimum_quantity": float64(10),
		}
	}

	cases := map[string]func(md map[string]any){
		"fractional qty":  func(md map[string]any) { md["qty"] = 1.5 },
		"zero qty":        func(md map[string]any) { md["qty"] = float64(0) },
		"missing minimum": func(md map[string]any) { delete(md, "minimum_quantity") },
		"missing product": func(md map[string]any) { delete(md, "product_id") },
		"unknown type":    func(md map[string]any) { md["lot_type"] = "teleport" },
		"qty not number":  func(md map[string]any) { md["qty"] = "many" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			md := base()
			mutate(md)
			_, _, err := a.Normalize(Notification{ID: "p", Status: "approved", Metadata: md})
			assert.True(t, apperror.IsCode(err, apperror.CodeValidation), "got %v", err)
		})
	}

	_, _, err := a.Normalize(Notification{ID: "", Status: "approved", Metadata: base()})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func approved() ApprovedEvent {
	return ApprovedEvent{
		PaymentID:       "pay-1",
		ProductID:       "prod-1",
		FactoryID:       "fac-1",
		RetailerID:      "ret-1",
		LotType:         lot.TypePickup,
		Qty:             4,
		MinimumQuantity: 20,
	}
}

func TestHandleApproved_CallsEngineOnceAndConverts(t *testing.T) {
	engine := new(mockEngine)
	reservations := new(mockReservations)
	a := NewAdapter(engine, reservations)

	want := accumulation.ClosureResult{Lot: &lot.Lot{AccumulatedQty: 4}}
	engine.On("AddContribution", mock.Anything, accumulation.Input{
		Key:             lot.Key{ProductID: "prod-1", FactoryID: "fac-1", Type: lot.TypePickup},
		MinimumQuantity: 20,
		Contribution:    lot.Contribution{PaymentID: "pay-1", RetailerID: "ret-1", Qty: 4},
	}).Return(want, nil).Once()
	reservations.On("ConvertForPayment", mock.Anything, "ret-1", "prod-1", "pay-1").Return(nil, nil).Once()

	got, err := a.HandleApproved(context.Background(), approved())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	engine.AssertExpectations(t)
	reservations.AssertExpectations(t)
}

func TestHandleApproved_LateContributionSurfacesWithoutConversion(t *testing.T) {
	engine := new(mockEngine)
	reservations := new(mockReservations)
	a := NewAdapter(engine, reservations)

	engine.On("AddContribution", mock.Anything, mock.Anything).
		Return(accumulation.ClosureResult{}, apperror.NewLotAlreadyClosed("lot-1", "pay-1")).Once()

	_, err := a.HandleApproved(context.Background(), approved())
	assert.True(t, apperror.IsLotAlreadyClosed(err))
	reservations.AssertNotCalled(t, "ConvertForPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNotification_IgnoredStatusSkipsEngine(t *testing.T) {
	engine := new(mockEngine)
	a := NewAdapter(engine, nil)

	res, err := a.HandleNotification(context.Background(), Notification{ID: "x", Status: "rejected"})
	require.NoError(t, err)
	assert.Nil(t, res)
	engine.AssertNotCalled(t, "AddContribution", mock.Anything, mock.Anything)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"1"}`)
	sig := Sign("s3cret", body)

	assert.True(t, VerifySignature("s3cret", body, sig))
	assert.True(t, VerifySignature("s3cret", body, "sha256="+sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("s3cret", []byte(`{"id":"2"}`), sig))
	assert.False(t, VerifySignature("s3cret", body, "not-hex"))
}

func TestNormalize_AcceptsJSONNumbers(t *testing.T) {
	a := NewAdapter(nil, nil)
	ev, ok, err := a.Normalize(Notification{ID: "p", Status: "approved", Metadata: map[string]any{
		"product_id": json.Number("42"), "factory_id": "fac", "retailer_id": "ret",
		"qty": json.Number("3"), "minimum_quantity": json.Number("10"),
	}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", ev.ProductID)
	assert.Equal(t, 3, ev.Qty)

	_, _, err = a.Normalize(Notification{ID: "p", Status: "approved", Metadata: map[string]any{
		"product_id": "prod", "factory_id": "fac", "retailer_id": "ret",
		"qty": json.Number("2.5"), "minimum_quantity": json.Number("10"),
	}})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}
