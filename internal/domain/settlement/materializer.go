package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/core/numerator"
	"lotpool/internal/core/tx"
	"lotpool/internal/domain/catalog"
	"lotpool/internal/domain/events"
	"lotpool/internal/domain/lot"
	"lotpool/pkg/logger"
)

var tracer = otel.Tracer("lotpool/settlement")

// ErrLocked is returned by a Locker when another instance holds the key.
var ErrLocked = errors.New("lock held by another worker")

// Locker serializes materialization of one lot across instances.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Materializer is the settlement trigger.
type Materializer struct {
	lots      lot.Repository
	orders    Repository
	addresses catalog.AddressBook
	quoter    catalog.ShippingQuoter
	publisher events.Publisher
	txManager tx.Manager
	locker    Locker
	numbers   numerator.Generator
	now       func() time.Time
}

// OrderNumbers is the series factory orders are numbered in.
var OrderNumbers = numerator.DefaultConfig("PO")

// MaterializerConfig configures the Materializer. Locker, Publisher and
// Numbers are optional; without Numbers orders carry no number.
type MaterializerConfig struct {
	Lots      lot.Repository
	Orders    Repository
	Addresses catalog.AddressBook
	Quoter    catalog.ShippingQuoter
	Publisher events.Publisher
	TxManager tx.Manager
	Locker    Locker
	Numbers   numerator.Generator
	Now       func() time.Time
}

// NewMaterializer creates a new Materializer.
func NewMaterializer(cfg MaterializerConfig) *Materializer {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Materializer{
		lots:      cfg.Lots,
		orders:    cfg.Orders,
		addresses: cfg.Addresses,
		quoter:    cfg.Quoter,
		publisher: cfg.Publisher,
		txManager: cfg.TxManager,
		locker:    cfg.Locker,
		numbers:   cfg.Numbers,
		now:       now,
	}
}

// MaterializeOrder creates the order for closedLot exactly once. An existing
// order for the lot is returned unchanged. Failures are reported as
// ORDER_MATERIALIZATION_FAILED and leave the lot closed.
func (m *Materializer) MaterializeOrder(ctx context.Context, closedLot *lot.Lot) (*Order, error) {
	if closedLot == nil || !closedLot.IsClosed() {
		return nil, apperror.NewValidation("order can only be materialized from a closed lot")
	}

	ctx, span := tracer.Start(ctx, "settlement.materialize")
	defer span.End()
	span.SetAttributes(attribute.String("lot.id", closedLot.ID.String()))

	order, err := m.materialize(ctx, closedLot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "materialization failed")
		return nil, apperror.NewOrderMaterializationFailed(closedLot.ID, err)
	}
	return order, nil
}

func (m *Materializer) materialize(ctx context.Context, l *lot.Lot) (*Order, error) {
	if m.locker != nil {
		release, err := m.locker.Acquire(ctx, "settlement:lot:"+l.ID.String())
		if err != nil {
			return nil, fmt.Errorf("acquire settlement lock: %w", err)
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				logger.Warn(ctx, "release settlement lock failed", "lot_id", l.ID, "error", err)
			}
		}()
	}

	existing, err := m.orders.GetBySourceLot(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup order by lot: %w", err)
	}
	if existing != nil {
		if !l.IsMaterialized() {
			// Order committed but marker missing from an earlier partial run.
			if err := m.lots.MarkOrderMaterialized(ctx, l.ID, existing.ID); err != nil {
				return nil, fmt.Errorf("repair lot marker: %w", err)
			}
		}
		return existing, nil
	}

	order, err := BuildOrder(ctx, l, m.zoneOf, m.quote(), m.now())
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	err = m.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := m.orders.Create(ctx, order); err != nil {
			return err
		}
		// Numbered only once the lot's order slot is won, so a lost race
		// never consumes a number.
		if err := m.assignNumber(ctx, order); err != nil {
			return err
		}
		if err := m.lots.MarkOrderMaterialized(ctx, l.ID, order.ID); err != nil {
			return fmt.Errorf("mark lot materialized: %w", err)
		}
		if m.publisher == nil {
			return nil
		}
		return m.publisher.Publish(ctx, events.Event{
			AggregateType: events.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     events.OrderMaterialized,
			Payload: events.OrderMaterializedPayload{
				OrderID:       order.ID,
				OrderNumber:   order.Number,
				SourceLotID:   order.SourceLotID,
				ProductID:     order.ProductID,
				FactoryID:     order.FactoryID,
				TotalQty:      order.TotalQty,
				Subtotal:      order.Subtotal,
				ShippingTotal: order.ShippingTotal,
				Lines:         len(order.Lines),
			},
		})
	})
	if err != nil {
		if apperror.IsCode(err, apperror.CodeConflict) {
			// Another instance created it between our lookup and insert.
			existing, getErr := m.orders.GetBySourceLot(ctx, l.ID)
			if getErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	logger.Info(ctx, "order materialized",
		"order_id", order.ID,
		"number", order.Number,
		"lot_id", l.ID,
		"total_qty", order.TotalQty,
		"lines", len(order.Lines),
	)
	return order, nil
}

func (m *Materializer) assignNumber(ctx context.Context, order *Order) error {
	if m.numbers == nil {
		return nil
	}
	number, err := m.numbers.Next(ctx, OrderNumbers, nil, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("allocate order number: %w", err)
	}
	if err := m.orders.AssignNumber(ctx, order.ID, number); err != nil {
		return fmt.Errorf("assign order number: %w", err)
	}
	order.Number = number
	return nil
}

func (m *Materializer) zoneOf(ctx context.Context, retailerID string) (string, error) {
	if m.addresses == nil {
		return "", nil
	}
	addr, err := m.addresses.GetAddress(ctx, retailerID)
	if err != nil {
		return "", fmt.Errorf("get address of %s: %w", retailerID, err)
	}
	return addr.ZoneKey(), nil
}

func (m *Materializer) quote() ShippingQuote {
	if m.quoter == nil {
		return nil
	}
	return m.quoter.Quote
}

// MaterializeByID loads the lot and materializes it. Used by the admin retry
// endpoint and the outbox handler.
func (m *Materializer) MaterializeByID(ctx context.Context, lotID id.ID) (*Order, error) {
	l, err := m.lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	return m.MaterializeOrder(ctx, l)
}

// RetryPending materializes closed lots that still lack an order.
// Returns how many orders were created or confirmed.
func (m *Materializer) RetryPending(ctx context.Context, limit int) (int, error) {
	pending, err := m.lots.ListClosedUnmaterialized(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unmaterialized lots: %w", err)
	}

	done := 0
	for _, l := range pending {
		if _, err := m.MaterializeOrder(ctx, l); err != nil {
			logger.Warn(ctx, "settlement retry failed", "lot_id", l.ID, "error", err)
			continue
		}
		done++
	}
	return done, nil
}
