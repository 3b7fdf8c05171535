// Package reservation implements the pre-payment intent layer: a retailer
// claims a slot in a product's pooled lot before the zone shipping price is
// known. Reservations never change lot quantities.
package reservation

import (
	"strings"
	"time"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/entity"
)

// Status of a reservation. pending_lot -> cancelled | converted.
type Status string

const (
	StatusPendingLot Status = "pending_lot"
	StatusCancelled  Status = "cancelled"
	StatusConverted  Status = "converted"
)

// CancelReason records who ended a pending reservation.
type CancelReason string

const (
	CancelByRetailer CancelReason = "retailer"
	CancelExpired    CancelReason = "expired"
)

// Reservation is a retailer's pre-payment claim on a product's lot.
type Reservation struct {
	entity.BaseRecord

	RetailerID   string        `db:"retailer_id" json:"retailerId"`
	ProductID    string        `db:"product_id" json:"productId"`
	Qty          int           `db:"qty" json:"qty"`
	ZoneKey      string        `db:"zone_key" json:"zoneKey"`
	Status       Status        `db:"status" json:"status"`
	PaymentID    *string       `db:"payment_id" json:"paymentId,omitempty"`
	CancelReason *CancelReason `db:"cancel_reason" json:"cancelReason,omitempty"`
}

// New creates a pending reservation.
func New(productID, retailerID string, qty int, zoneKey string, now time.Time) (*Reservation, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, apperror.NewValidation("productId is required")
	}
	if strings.TrimSpace(retailerID) == "" {
		return nil, apperror.NewValidation("retailerId is required")
	}
	if qty <= 0 {
		return nil, apperror.NewValidation("qty must be greater than zero").WithDetail("qty", qty)
	}
	if zoneKey == "" {
		return nil, apperror.NewMissingAddress(retailerID)
	}
	return &Reservation{
		BaseRecord: entity.NewBaseRecord(now),
		RetailerID: retailerID,
		ProductID:  productID,
		Qty:        qty,
		ZoneKey:    zoneKey,
		Status:     StatusPendingLot,
	}, nil
}

// IsPending reports whether the reservation still holds a slot.
func (r *Reservation) IsPending() bool {
	return r.Status == StatusPendingLot
}

// Cancel ends a pending reservation.
func (r *Reservation) Cancel(reason CancelReason, now time.Time) error {
	if !r.IsPending() {
		return apperror.NewNotCancellable(r.ID, string(r.Status))
	}
	r.Status = StatusCancelled
	r.CancelReason = &reason
	r.Touch(now)
	return nil
}

// Convert marks the reservation as paid with paymentID.
func (r *Reservation) Convert(paymentID string, now time.Time) error {
	if !r.IsPending() {
		return apperror.NewConflict("reservation is not pending").
			WithDetail("reservation_id", r.ID).
			WithDetail("status", string(r.Status))
	}
	r.Status = StatusConverted
	r.PaymentID = &paymentID
	r.Touch(now)
	return nil
}

// Clone returns a copy safe to hand out of a store.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	cp := *r
	if r.PaymentID != nil {
		p := *r.PaymentID
		cp.PaymentID = &p
	}
	if r.CancelReason != nil {
		c := *r.CancelReason
		cp.CancelReason = &c
	}
	return &cp
}

// ZoneCount is the pending demand of one shipping zone.
type ZoneCount struct {
	ZoneKey   string `db:"zone_key" json:"zoneKey"`
	Retailers int    `db:"retailers" json:"retailers"`
	Qty       int    `db:"qty" json:"qty"`
}

// Participation answers "is retailer R already reserved/contributed for product X".
type Participation struct {
	ProductID   string       `json:"productId"`
	RetailerID  string       `json:"retailerId"`
	Reservation *Reservation `json:"reservation,omitempty"`
	Reserved    bool         `json:"reserved"`
	Contributed bool         `json:"contributed"`
}
