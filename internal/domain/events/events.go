// Package events defines domain events written to the transactional outbox
// and the ports used to publish and consume them.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"lotpool/internal/core/id"
)

// Aggregate types
const (
	AggregateLot   = "Lot"
	AggregateOrder = "Order"
)

// Event types
const (
	LotClosed         = "lot.closed"
	OrderMaterialized = "order.materialized"
)

// Event is a domain event to be stored in the outbox.
type Event struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// Publisher writes events inside the caller's transaction.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Message is a stored outbox event handed to a Handler by the relay.
type Message struct {
	ID            id.ID     `db:"id" json:"id"`
	AggregateType string    `db:"aggregate_type" json:"aggregateType"`
	AggregateID   id.ID     `db:"aggregate_id" json:"aggregateId"`
	EventType     string    `db:"event_type" json:"eventType"`
	Payload       []byte    `db:"payload" json:"payload"`
	RetryCount    int       `db:"retry_count" json:"retryCount"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Handler processes one outbox message. A returned error schedules a retry.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// LotClosedPayload is emitted in the transaction that closes a lot.
type LotClosedPayload struct {
	LotID           id.ID     `json:"lotId"`
	ProductID       string    `json:"productId"`
	FactoryID       string    `json:"factoryId"`
	LotType         string    `json:"lotType"`
	AccumulatedQty  int       `json:"accumulatedQty"`
	MinimumQuantity int       `json:"minimumQuantity"`
	Contributions   int       `json:"contributions"`
	ClosedAt        time.Time `json:"closedAt"`
}

// OrderMaterializedPayload is emitted when settlement creates the order.
type OrderMaterializedPayload struct {
	OrderID       id.ID           `json:"orderId"`
	OrderNumber   string          `json:"orderNumber,omitempty"`
	SourceLotID   id.ID           `json:"sourceLotId"`
	ProductID     string          `json:"productId"`
	FactoryID     string          `json:"factoryId"`
	TotalQty      int             `json:"totalQty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingTotal decimal.Decimal `json:"shippingTotal"`
	Lines         int             `json:"lines"`
}
