package dto

import (
	"time"

	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/settlement"
)

// ProgressQuery selects the lot whose progress is requested.
type ProgressQuery struct {
	ProductID string `form:"productId" binding:"required"`
	FactoryID string `form:"factoryId" binding:"required"`
	LotType   string `form:"lotType" binding:"omitempty,oneof=pickup shipping"`
}

// Key converts the query into a lot key. Lot type defaults to pickup.
func (q ProgressQuery) Key() lot.Key {
	t := lot.Type(q.LotType)
	if t == "" {
		t = lot.TypePickup
	}
	return lot.Key{ProductID: q.ProductID, FactoryID: q.FactoryID, Type: t}
}

// ProgressResponse is the buyer-facing accumulation status.
type ProgressResponse struct {
	LotID           string `json:"lotId"`
	ProductID       string `json:"productId"`
	FactoryID       string `json:"factoryId"`
	LotType         string `json:"lotType"`
	Status          string `json:"status"`
	AccumulatedQty  int    `json:"accumulatedQty"`
	MinimumQuantity int    `json:"minimumQuantity"`
	Remaining       int    `json:"remaining"`
	Participants    int    `json:"participants"`
}

// FromProgress creates ProgressResponse from lot.Progress.
func FromProgress(p *lot.Progress) ProgressResponse {
	return ProgressResponse{
		LotID:           p.LotID.String(),
		ProductID:       p.Key.ProductID,
		FactoryID:       p.Key.FactoryID,
		LotType:         string(p.Key.Type),
		Status:          string(p.Status),
		AccumulatedQty:  p.AccumulatedQty,
		MinimumQuantity: p.MinimumQuantity,
		Remaining:       p.Remaining(),
		Participants:    p.Participants,
	}
}

// ContributionResponse is one applied payment.
type ContributionResponse struct {
	PaymentID  string    `json:"paymentId"`
	RetailerID string    `json:"retailerId"`
	Qty        int       `json:"qty"`
	AppliedAt  time.Time `json:"appliedAt"`
}

// LotResponse is the full lot view.
type LotResponse struct {
	ID              string                 `json:"id"`
	Version         int                    `json:"version"`
	ProductID       string                 `json:"productId"`
	FactoryID       string                 `json:"factoryId"`
	LotType         string                 `json:"lotType"`
	Status          string                 `json:"status"`
	MinimumQuantity int                    `json:"minimumQuantity"`
	AccumulatedQty  int                    `json:"accumulatedQty"`
	Contributions   []ContributionResponse `json:"contributions"`
	ClosedAt        *time.Time             `json:"closedAt,omitempty"`
	OrderID         *string                `json:"orderId,omitempty"`
	MaterializedAt  *time.Time             `json:"materializedAt,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// FromLot creates LotResponse from lot.Lot.
func FromLot(l *lot.Lot) LotResponse {
	resp := LotResponse{
		ID:              l.ID.String(),
		Version:         l.Version,
		ProductID:       l.ProductID,
		FactoryID:       l.FactoryID,
		LotType:         string(l.Type),
		Status:          string(l.Status),
		MinimumQuantity: l.MinimumQuantity,
		AccumulatedQty:  l.AccumulatedQty,
		Contributions:   make([]ContributionResponse, 0, len(l.Contributions)),
		ClosedAt:        l.ClosedAt,
		MaterializedAt:  l.MaterializedAt,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
	for _, c := range l.Contributions {
		resp.Contributions = append(resp.Contributions, ContributionResponse{
			PaymentID:  c.PaymentID,
			RetailerID: c.RetailerID,
			Qty:        c.Qty,
			AppliedAt:  c.AppliedAt,
		})
	}
	if l.OrderID != nil {
		s := l.OrderID.String()
		resp.OrderID = &s
	}
	return resp
}

// OrderLineResponse is one retailer's share of an order.
type OrderLineResponse struct {
	LineNo       int    `json:"lineNo"`
	RetailerID   string `json:"retailerId"`
	PaymentID    string `json:"paymentId"`
	Qty          int    `json:"qty"`
	Amount       string `json:"amount"`
	ZoneKey      string `json:"zoneKey,omitempty"`
	ShippingCost string `json:"shippingCost"`
}

// OrderResponse is the materialized factory order.
type OrderResponse struct {
	ID            string              `json:"id"`
	Number        string              `json:"number,omitempty"`
	SourceLotID   string              `json:"sourceLotId"`
	ProductID     string              `json:"productId"`
	FactoryID     string              `json:"factoryId"`
	LotType       string              `json:"lotType"`
	ProductName   string              `json:"productName"`
	TotalQty      int                 `json:"totalQty"`
	UnitPrice     string              `json:"unitPrice"`
	Subtotal      string              `json:"subtotal"`
	ShippingTotal string              `json:"shippingTotal"`
	Status        string              `json:"status"`
	CreatedAt     time.Time           `json:"createdAt"`
	Lines         []OrderLineResponse `json:"lines"`
}

// FromOrder creates OrderResponse from settlement.Order.
func FromOrder(o *settlement.Order) OrderResponse {
	resp := OrderResponse{
		ID:            o.ID.String(),
		Number:        o.Number,
		SourceLotID:   o.SourceLotID.String(),
		ProductID:     o.ProductID,
		FactoryID:     o.FactoryID,
		LotType:       string(o.LotType),
		ProductName:   o.ProductName,
		TotalQty:      o.TotalQty,
		UnitPrice:     o.UnitPrice.StringFixed(2),
		Subtotal:      o.Subtotal.StringFixed(2),
		ShippingTotal: o.ShippingTotal.StringFixed(2),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		Lines:         make([]OrderLineResponse, 0, len(o.Lines)),
	}
	for _, ln := range o.Lines {
		resp.Lines = append(resp.Lines, OrderLineResponse{
			LineNo:       ln.LineNo,
			RetailerID:   ln.RetailerID,
			PaymentID:    ln.PaymentID,
			Qty:          ln.Qty,
			Amount:       ln.Amount.StringFixed(2),
			ZoneKey:      ln.ZoneKey,
			ShippingCost: ln.ShippingCost.StringFixed(2),
		})
	}
	return resp
}
