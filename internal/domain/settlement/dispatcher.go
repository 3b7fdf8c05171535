package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"lotpool/internal/core/id"
	"lotpool/internal/domain/events"
	"lotpool/pkg/logger"
)

// LotMaterializer is the part of Materializer the dispatcher needs.
type LotMaterializer interface {
	MaterializeByID(ctx context.Context, lotID id.ID) (*Order, error)
}

var _ events.Handler = (*Dispatcher)(nil)

// Dispatcher consumes outbox messages. lot.closed drives settlement, so a
// closure whose inline materialization failed is retried by the relay.
// Every message is then handed to Forward when set.
type Dispatcher struct {
	materializer LotMaterializer
	forward      events.Handler
}

// NewDispatcher creates a Dispatcher. forward may be nil.
func NewDispatcher(materializer LotMaterializer, forward events.Handler) *Dispatcher {
	return &Dispatcher{materializer: materializer, forward: forward}
}

// Handle implements events.Handler.
func (d *Dispatcher) Handle(ctx context.Context, msg *events.Message) error {
	if msg.EventType == events.LotClosed {
		var payload events.LotClosedPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		lotID := payload.LotID
		if id.IsNil(lotID) {
			lotID = msg.AggregateID
		}
		order, err := d.materializer.MaterializeByID(ctx, lotID)
		if err != nil {
			return err
		}
		logger.Debug(ctx, "lot closure settled", "lot_id", lotID, "order_id", order.ID)
	}

	if d.forward != nil {
		return d.forward.Handle(ctx, msg)
	}
	return nil
}
