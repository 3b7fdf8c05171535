// Package settlement converts a closed lot into exactly one fulfillable order.
package settlement

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/core/types"
	"lotpool/internal/domain/lot"
)

// OrderStatus of a materialized order.
type OrderStatus string

const (
	OrderPendingFulfillment OrderStatus = "pending_fulfillment"
)

// Order is the durable result of a closed lot.
type Order struct {
	ID            id.ID           `db:"id" json:"id"`
	Number        string          `db:"number" json:"number"`
	SourceLotID   id.ID           `db:"source_lot_id" json:"sourceLotId"`
	ProductID     string          `db:"product_id" json:"productId"`
	FactoryID     string          `db:"factory_id" json:"factoryId"`
	LotType       lot.Type        `db:"lot_type" json:"lotType"`
	TotalQty      int             `db:"total_qty" json:"totalQty"`
	ProductName   string          `db:"product_name" json:"productName"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unitPrice"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	ShippingTotal decimal.Decimal `db:"shipping_total" json:"shippingTotal"`
	Status        OrderStatus     `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	Lines         []OrderLine     `db:"-" json:"lines"`
}

// OrderLine is one retailer's attributable share of the order.
type OrderLine struct {
	LineNo       int             `db:"line_no" json:"lineNo"`
	RetailerID   string          `db:"retailer_id" json:"retailerId"`
	PaymentID    string          `db:"payment_id" json:"paymentId"`
	Qty          int             `db:"qty" json:"qty"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	ZoneKey      string          `db:"zone_key" json:"zoneKey"`
	ShippingCost decimal.Decimal `db:"shipping_cost" json:"shippingCost"`
}

// Repository persists orders. Create fails with CONFLICT when an order for
// the same source lot already exists.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// AssignNumber sets the document number of a created order.
	AssignNumber(ctx context.Context, orderID id.ID, number string) error
	GetBySourceLot(ctx context.Context, lotID id.ID) (*Order, error)
	GetByID(ctx context.Context, orderID id.ID) (*Order, error)
}

// ZoneResolver maps a retailer to its shipping zone key.
type ZoneResolver func(ctx context.Context, retailerID string) (string, error)

// ShippingQuote computes the whole cost of one zone.
type ShippingQuote func(factoryID, zoneKey string, units, buyers int) decimal.Decimal

// BuildOrder assembles the order for a closed lot: one line per contribution,
// amounts from the closure snapshot, and for shipping lots each zone's quoted
// cost split across that zone's lines by quantity.
func BuildOrder(ctx context.Context, l *lot.Lot, zoneOf ZoneResolver, quote ShippingQuote, now time.Time) (*Order, error) {
	if l == nil || !l.IsClosed() {
		return nil, apperror.NewValidation("order can only be materialized from a closed lot")
	}

	o := &Order{
		ID:            id.New(),
		SourceLotID:   l.ID,
		ProductID:     l.ProductID,
		FactoryID:     l.FactoryID,
		LotType:       l.Type,
		TotalQty:      l.AccumulatedQty,
		UnitPrice:     decimal.Zero,
		ShippingTotal: decimal.Zero,
		Status:        OrderPendingFulfillment,
		CreatedAt:     now.UTC(),
		Lines:         make([]OrderLine, 0, len(l.Contributions)),
	}
	if l.Snapshot != nil {
		o.ProductName = l.Snapshot.Name
		o.UnitPrice = l.Snapshot.UnitPrice
	}
	o.Subtotal = types.RoundMoney(o.UnitPrice.Mul(types.Units(o.TotalQty)))

	zones := map[string][]int{}
	for i, c := range l.Contributions {
		line := OrderLine{
			LineNo:       i + 1,
			RetailerID:   c.RetailerID,
			PaymentID:    c.PaymentID,
			Qty:          c.Qty,
			Amount:       types.RoundMoney(o.UnitPrice.Mul(types.Units(c.Qty))),
			ShippingCost: decimal.Zero,
		}
		if l.Type == lot.TypeShipping && zoneOf != nil {
			zone, err := zoneOf(ctx, c.RetailerID)
			if err != nil {
				return nil, err
			}
			line.ZoneKey = zone
			zones[zone] = append(zones[zone], i)
		}
		o.Lines = append(o.Lines, line)
	}

	if quote == nil {
		return o, nil
	}
	zoneKeys := make([]string, 0, len(zones))
	for z := range zones {
		zoneKeys = append(zoneKeys, z)
	}
	sort.Strings(zoneKeys)
	for _, z := range zoneKeys {
		idx := zones[z]
		weights := make([]int, len(idx))
		units := 0
		buyers := map[string]struct{}{}
		for j, i := range idx {
			weights[j] = o.Lines[i].Qty
			units += o.Lines[i].Qty
			buyers[o.Lines[i].RetailerID] = struct{}{}
		}
		cost := types.RoundMoney(quote(o.FactoryID, z, units, len(buyers)))
		for j, share := range types.SplitByWeight(cost, weights) {
			o.Lines[idx[j]].ShippingCost = share
		}
		o.ShippingTotal = o.ShippingTotal.Add(cost)
	}
	return o, nil
}
