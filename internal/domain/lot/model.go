// Package lot contains the pooled-order aggregate: a lot accumulates paid
// retailer contributions for one (product, factory, fulfillment type) until
// the factory minimum is reached, then closes.
package lot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/entity"
	"lotpool/internal/core/id"
)

// Type is the fulfillment type of a lot.
type Type string

const (
	TypePickup   Type = "pickup"
	TypeShipping Type = "shipping"
)

// Valid reports whether t is a known fulfillment type.
func (t Type) Valid() bool {
	return t == TypePickup || t == TypeShipping
}

// ParseType converts s to a Type, defaulting to pickup when empty.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return TypePickup, nil
	}
	if !t.Valid() {
		return "", apperror.NewValidation("unknown lot type").WithDetail("lot_type", s)
	}
	return t, nil
}

// Status is the lot lifecycle state. accumulating -> closed only.
type Status string

const (
	StatusAccumulating Status = "accumulating"
	StatusClosed       Status = "closed"
)

// Key identifies the single open lot allowed per product, factory and type.
type Key struct {
	ProductID string `json:"productId"`
	FactoryID string `json:"factoryId"`
	Type      Type   `json:"lotType"`
}

// Validate checks that every key component is present.
func (k Key) Validate() error {
	if strings.TrimSpace(k.ProductID) == "" {
		return apperror.NewValidation("productId is required")
	}
	if strings.TrimSpace(k.FactoryID) == "" {
		return apperror.NewValidation("factoryId is required")
	}
	if !k.Type.Valid() {
		return apperror.NewValidation("unknown lot type").WithDetail("lot_type", string(k.Type))
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ProductID, k.FactoryID, k.Type)
}

// Contribution is one retailer's paid quantity. Created once, never mutated.
type Contribution struct {
	PaymentID  string    `db:"payment_id" json:"paymentId"`
	RetailerID string    `db:"retailer_id" json:"retailerId"`
	Qty        int       `db:"qty" json:"qty"`
	AppliedAt  time.Time `db:"applied_at" json:"appliedAt"`
}

// Validate checks contribution input constraints.
func (c Contribution) Validate() error {
	if strings.TrimSpace(c.PaymentID) == "" {
		return apperror.NewValidation("paymentId is required")
	}
	if strings.TrimSpace(c.RetailerID) == "" {
		return apperror.NewValidation("retailerId is required")
	}
	if c.Qty <= 0 {
		return apperror.NewValidation("qty must be greater than zero").WithDetail("qty", c.Qty)
	}
	return nil
}

// ProductSnapshot is denormalized product data captured at closure so
// reporting survives product edits or deletion.
type ProductSnapshot struct {
	Name             string          `json:"name"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	NetProfitPerUnit decimal.Decimal `json:"netProfitPerUnit"`
}

// Lot is one pooled order in progress.
type Lot struct {
	entity.BaseRecord

	ProductID       string         `db:"product_id" json:"productId"`
	FactoryID       string         `db:"factory_id" json:"factoryId"`
	Type            Type           `db:"lot_type" json:"lotType"`
	MinimumQuantity int            `db:"minimum_quantity" json:"minimumQuantity"`
	AccumulatedQty  int            `db:"accumulated_qty" json:"accumulatedQty"`
	Status          Status         `db:"status" json:"status"`
	Contributions   []Contribution `db:"-" json:"contributions"`

	ClosedAt *time.Time       `db:"closed_at" json:"closedAt,omitempty"`
	Snapshot *ProductSnapshot `db:"-" json:"snapshot,omitempty"`

	// One-time settlement marker
	OrderID        *id.ID     `db:"order_id" json:"orderId,omitempty"`
	MaterializedAt *time.Time `db:"materialized_at" json:"materializedAt,omitempty"`
}

// New creates an empty accumulating lot for key.
func New(key Key, minimumQuantity int, now time.Time) (*Lot, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if minimumQuantity <= 0 {
		return nil, apperror.NewValidation("minimumQuantity must be greater than zero").
			WithDetail("minimum_quantity", minimumQuantity)
	}
	return &Lot{
		BaseRecord:      entity.NewBaseRecord(now),
		ProductID:       key.ProductID,
		FactoryID:       key.FactoryID,
		Type:            key.Type,
		MinimumQuantity: minimumQuantity,
		Status:          StatusAccumulating,
		Contributions:   []Contribution{},
	}, nil
}

// Key returns the identity tuple of the lot.
func (l *Lot) Key() Key {
	return Key{ProductID: l.ProductID, FactoryID: l.FactoryID, Type: l.Type}
}

// IsClosed reports whether the lot reached its threshold.
func (l *Lot) IsClosed() bool {
	return l.Status == StatusClosed
}

// IsMaterialized reports whether an order has been created for the lot.
func (l *Lot) IsMaterialized() bool {
	return l.OrderID != nil
}

// HasPayment reports whether a contribution with paymentID was already applied.
func (l *Lot) HasPayment(paymentID string) bool {
	for _, c := range l.Contributions {
		if c.PaymentID == paymentID {
			return true
		}
	}
	return false
}

// ApplyResult is the outcome of merging one contribution.
type ApplyResult struct {
	Lot *Lot
	// DidClose is true only for the contribution that crossed the threshold.
	DidClose bool
	// Duplicate is true when the paymentId was already applied; nothing changed.
	Duplicate bool
}

// ApplyContribution merges c into the lot. Every backend calls it inside its
// per-lot atomic section, so the rules live in one place:
// duplicate paymentId is a no-op, a closed lot rejects, otherwise append and
// close when the accumulated quantity reaches the minimum (overshoot accepted).
func (l *Lot) ApplyContribution(c Contribution, snapshot *ProductSnapshot, now time.Time) (ApplyResult, error) {
	if err := c.Validate(); err != nil {
		return ApplyResult{Lot: l}, err
	}
	if l.HasPayment(c.PaymentID) {
		return ApplyResult{Lot: l, Duplicate: true}, nil
	}
	if l.IsClosed() {
		return ApplyResult{Lot: l}, apperror.NewLotAlreadyClosed(l.ID, c.PaymentID)
	}

	now = now.UTC()
	if c.AppliedAt.IsZero() {
		c.AppliedAt = now
	}
	l.Contributions = append(l.Contributions, c)
	l.AccumulatedQty += c.Qty
	l.Touch(now)

	if l.AccumulatedQty >= l.MinimumQuantity {
		l.Status = StatusClosed
		l.ClosedAt = &now
		l.Snapshot = snapshot
		return ApplyResult{Lot: l, DidClose: true}, nil
	}
	return ApplyResult{Lot: l}, nil
}

// MarkMaterialized records the one-time order marker on a closed lot.
// Re-marking with the same order is a no-op.
func (l *Lot) MarkMaterialized(orderID id.ID, now time.Time) error {
	if !l.IsClosed() {
		return apperror.NewValidation("only closed lots can be materialized").WithDetail("lot_id", l.ID)
	}
	if l.OrderID != nil {
		if *l.OrderID == orderID {
			return nil
		}
		return apperror.NewConflict("lot already materialized into another order").
			WithDetail("lot_id", l.ID).
			WithDetail("order_id", *l.OrderID)
	}
	now = now.UTC()
	l.OrderID = &orderID
	l.MaterializedAt = &now
	l.Touch(now)
	return nil
}

// Validate checks lot invariants against persisted state.
func (l *Lot) Validate(_ context.Context) error {
	if err := l.Key().Validate(); err != nil {
		return err
	}
	sum := 0
	seen := make(map[string]struct{}, len(l.Contributions))
	for _, c := range l.Contributions {
		if _, dup := seen[c.PaymentID]; dup {
			return apperror.NewInvariantViolation("payment applied twice").
				WithDetail("lot_id", l.ID).
				WithDetail("payment_id", c.PaymentID)
		}
		seen[c.PaymentID] = struct{}{}
		sum += c.Qty
	}
	if sum != l.AccumulatedQty {
		return apperror.NewInvariantViolation("accumulated quantity does not match contributions").
			WithDetail("lot_id", l.ID).
			WithDetail("accumulated_qty", l.AccumulatedQty).
			WithDetail("contributions_sum", sum)
	}
	if l.AccumulatedQty >= l.MinimumQuantity && !l.IsClosed() {
		return apperror.NewInvariantViolation("lot reached its minimum but is still open").
			WithDetail("lot_id", l.ID)
	}
	return nil
}

// Clone returns a deep copy safe to hand out of a store.
func (l *Lot) Clone() *Lot {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Contributions = append([]Contribution(nil), l.Contributions...)
	if l.ClosedAt != nil {
		t := *l.ClosedAt
		cp.ClosedAt = &t
	}
	if l.Snapshot != nil {
		s := *l.Snapshot
		cp.Snapshot = &s
	}
	if l.OrderID != nil {
		o := *l.OrderID
		cp.OrderID = &o
	}
	if l.MaterializedAt != nil {
		t := *l.MaterializedAt
		cp.MaterializedAt = &t
	}
	return &cp
}

// Progress is the read model shown to buyers for a product.
type Progress struct {
	LotID           id.ID  `json:"lotId"`
	Key             Key    `json:"key"`
	AccumulatedQty  int    `json:"accumulatedQty"`
	MinimumQuantity int    `json:"minimumQuantity"`
	Status          Status `json:"status"`
	Participants    int    `json:"participants"`
}

// Remaining is the quantity still needed to close. Zero once closed.
func (p Progress) Remaining() int {
	if r := p.MinimumQuantity - p.AccumulatedQty; r > 0 {
		return r
	}
	return 0
}

// ProgressOf builds the read model for l.
func ProgressOf(l *Lot) *Progress {
	retailers := make(map[string]struct{}, len(l.Contributions))
	for _, c := range l.Contributions {
		retailers[c.RetailerID] = struct{}{}
	}
	return &Progress{
		LotID:           l.ID,
		Key:             l.Key(),
		AccumulatedQty:  l.AccumulatedQty,
		MinimumQuantity: l.MinimumQuantity,
		Status:          l.Status,
		Participants:    len(retailers),
	}
}
