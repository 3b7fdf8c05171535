// Package accumulation merges paid contributions into lots with exactly-once
// semantics and hands closed lots to settlement.
package accumulation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/tx"
	"lotpool/internal/domain/catalog"
	"lotpool/internal/domain/events"
	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/settlement"
	"lotpool/pkg/logger"
)

var tracer = otel.Tracer("lotpool/accumulation")

// OrderMaterializer is the settlement trigger invoked on closure.
type OrderMaterializer interface {
	MaterializeOrder(ctx context.Context, closedLot *lot.Lot) (*settlement.Order, error)
}

// Anomaly describes a contribution that could not be applied and needs a
// compensating action (refund) from a collaborator.
type Anomaly struct {
	Kind         string
	Key          lot.Key
	Contribution lot.Contribution
	Err          error
}

// AnomalyKindLateContribution marks a payment that arrived after closure.
const AnomalyKindLateContribution = "late_contribution"

// Details flattens the anomaly into the attributes stored with it.
func (a Anomaly) Details() map[string]any {
	d := map[string]any{
		"product_id":  a.Key.ProductID,
		"factory_id":  a.Key.FactoryID,
		"lot_type":    string(a.Key.Type),
		"retailer_id": a.Contribution.RetailerID,
		"qty":         a.Contribution.Qty,
	}
	if a.Err != nil {
		d["error"] = a.Err.Error()
		if appErr, ok := apperror.AsAppError(a.Err); ok {
			d["code"] = appErr.Code
			for k, v := range appErr.Details {
				d[k] = v
			}
		}
	}
	return d
}

// AnomalyRecorder stores anomalies for alerting and refunds.
type AnomalyRecorder interface {
	RecordAnomaly(ctx context.Context, a Anomaly) error
}

// AnomalyEntry is a recorded anomaly read back for reconciliation.
type AnomalyEntry struct {
	Kind       string
	PaymentID  string
	Details    map[string]any
	RecordedAt time.Time
}

// AnomalyReader lists the anomalies recorded for a payment, newest first.
type AnomalyReader interface {
	ListAnomalies(ctx context.Context, paymentID string) ([]AnomalyEntry, error)
}

// AnomalyStore records anomalies and reads them back.
type AnomalyStore interface {
	AnomalyRecorder
	AnomalyReader
}

// ProgressInvalidator drops cached lot progress once a contribution has committed.
type ProgressInvalidator interface {
	InvalidateProgress(ctx context.Context, key lot.Key)
}

// Input is one contribution to merge.
type Input struct {
	Key             lot.Key
	MinimumQuantity int
	Contribution    lot.Contribution
}

// Validate checks input constraints before any lot is touched.
func (in Input) Validate() error {
	if err := in.Key.Validate(); err != nil {
		return err
	}
	if in.MinimumQuantity <= 0 {
		return apperror.NewValidation("minimumQuantity must be greater than zero").
			WithDetail("minimum_quantity", in.MinimumQuantity)
	}
	return in.Contribution.Validate()
}

// ClosureResult is returned to the payment adapter.
type ClosureResult struct {
	Lot *lot.Lot
	// DidClose is true for exactly one contribution per lot.
	DidClose bool
	// Duplicate is true when the paymentId had already been applied.
	Duplicate bool
	// Order is set when settlement succeeded in this call.
	Order *settlement.Order
	// SettlementErr reports a settlement failure. The contribution and the
	// closure stand; the outbox and the worker sweep retry settlement.
	SettlementErr error
}

// Config tunes the optimistic retry loop.
type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, RetryBackoff: 10 * time.Millisecond}
}

// Engine is the lot accumulation engine.
type Engine struct {
	lots       lot.Repository
	txManager  tx.Manager
	publisher  events.Publisher
	products   catalog.ProductLookup
	settlement OrderMaterializer
	anomalies  AnomalyStore
	progress   ProgressInvalidator
	cfg        Config
}

// EngineConfig wires the engine. Only Lots and TxManager are required.
type EngineConfig struct {
	Lots       lot.Repository
	TxManager  tx.Manager
	Publisher  events.Publisher
	Products   catalog.ProductLookup
	Settlement OrderMaterializer
	Anomalies  AnomalyStore
	Progress   ProgressInvalidator
	Config     Config
}

// NewEngine creates a new Engine.
func NewEngine(cfg EngineConfig) *Engine {
	c := cfg.Config
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Engine{
		lots:       cfg.Lots,
		txManager:  cfg.TxManager,
		publisher:  cfg.Publisher,
		products:   cfg.Products,
		settlement: cfg.Settlement,
		anomalies:  cfg.Anomalies,
		progress:   cfg.Progress,
		cfg:        c,
	}
}

// AddContribution merges in.Contribution into the open lot for in.Key.
// Calling it again with the same paymentId is a no-op returning Duplicate.
func (e *Engine) AddContribution(ctx context.Context, in Input) (ClosureResult, error) {
	ctx, span := tracer.Start(ctx, "accumulation.add_contribution")
	defer span.End()
	span.SetAttributes(
		attribute.String("lot.key", in.Key.String()),
		attribute.String("payment.id", in.Contribution.PaymentID),
		attribute.Int("contribution.qty", in.Contribution.Qty),
	)

	result, err := e.addContribution(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contribution failed")
		return result, err
	}
	span.SetAttributes(
		attribute.Bool("lot.did_close", result.DidClose),
		attribute.Bool("contribution.duplicate", result.Duplicate),
	)
	return result, nil
}

func (e *Engine) addContribution(ctx context.Context, in Input) (ClosureResult, error) {
	if err := in.Validate(); err != nil {
		return ClosureResult{}, err
	}

	// Cheap global pre-check; the authoritative check runs inside the lot transaction.
	held, err := e.lots.FindLotByPayment(ctx, in.Contribution.PaymentID)
	if err != nil {
		return ClosureResult{}, fmt.Errorf("find lot by payment: %w", err)
	}
	if held != nil {
		logger.Info(ctx, "duplicate contribution ignored",
			"payment_id", in.Contribution.PaymentID,
			"lot_id", held.ID,
		)
		result := ClosureResult{Lot: held, Duplicate: true}
		e.settleLagging(ctx, &result)
		return result, nil
	}

	// A payment already flagged for refund must never reach a later lot.
	if err := e.refuseLate(ctx, in); err != nil {
		return ClosureResult{}, err
	}

	snapshot := e.snapshot(ctx, in.Key.ProductID)

	var res lot.ApplyResult
	for attempt := 1; ; attempt++ {
		res, err = e.applyOnce(ctx, in, snapshot)
		if err == nil {
			break
		}
		if apperror.IsConcurrentModification(err) && attempt < e.cfg.MaxAttempts {
			logger.Debug(ctx, "lot modified concurrently, retrying",
				"payment_id", in.Contribution.PaymentID,
				"attempt", attempt,
			)
			if !e.backoff(ctx, attempt) {
				return ClosureResult{}, ctx.Err()
			}
			continue
		}
		if apperror.IsLotAlreadyClosed(err) {
			e.recordLate(ctx, in, err)
		}
		return ClosureResult{}, err
	}

	result := ClosureResult{Lot: res.Lot, DidClose: res.DidClose, Duplicate: res.Duplicate}
	if res.DidClose {
		logger.Info(ctx, "lot closed",
			"lot_id", res.Lot.ID,
			"accumulated_qty", res.Lot.AccumulatedQty,
			"minimum_quantity", res.Lot.MinimumQuantity,
			"payment_id", in.Contribution.PaymentID,
		)
		e.settle(ctx, &result)
	}
	return result, nil
}

func (e *Engine) applyOnce(ctx context.Context, in Input, snapshot *lot.ProductSnapshot) (lot.ApplyResult, error) {
	target, err := e.lots.GetOrCreateOpenLot(ctx, in.Key, in.MinimumQuantity)
	if err != nil {
		return lot.ApplyResult{}, fmt.Errorf("resolve open lot: %w", err)
	}

	var res lot.ApplyResult
	err = e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.lots.ApplyContribution(ctx, target.ID, in.Contribution, snapshot)
		if err != nil {
			return err
		}
		if !res.DidClose || e.publisher == nil {
			return nil
		}
		closed := res.Lot
		return e.publisher.Publish(ctx, events.Event{
			AggregateType: events.AggregateLot,
			AggregateID:   closed.ID,
			EventType:     events.LotClosed,
			Payload: events.LotClosedPayload{
				LotID:           closed.ID,
				ProductID:       closed.ProductID,
				FactoryID:       closed.FactoryID,
				LotType:         string(closed.Type),
				AccumulatedQty:  closed.AccumulatedQty,
				MinimumQuantity: closed.MinimumQuantity,
				Contributions:   len(closed.Contributions),
				ClosedAt:        *closed.ClosedAt,
			},
		})
	})
	if err == nil && !res.Duplicate && e.progress != nil {
		e.progress.InvalidateProgress(ctx, in.Key)
	}
	return res, err
}

// settle hands a just-closed lot to settlement. A failure never undoes the contribution.
func (e *Engine) settle(ctx context.Context, result *ClosureResult) {
	if e.settlement == nil {
		return
	}
	order, err := e.settlement.MaterializeOrder(ctx, result.Lot)
	if err != nil {
		logger.Error(ctx, "order materialization failed, will retry",
			"lot_id", result.Lot.ID,
			"error", err,
		)
		result.SettlementErr = err
		return
	}
	result.Order = order
}

// settleLagging retries settlement when a redelivered payment points at a
// closed lot that still has no order.
func (e *Engine) settleLagging(ctx context.Context, result *ClosureResult) {
	if result.Lot.IsClosed() && !result.Lot.IsMaterialized() {
		e.settle(ctx, result)
	}
}

func (e *Engine) snapshot(ctx context.Context, productID string) *lot.ProductSnapshot {
	if e.products == nil {
		return nil
	}
	p, err := e.products.GetProduct(ctx, productID)
	if err != nil {
		logger.Warn(ctx, "product snapshot unavailable", "product_id", productID, "error", err)
		return nil
	}
	return p.Snapshot()
}

// refuseLate fails with LOT_ALREADY_CLOSED when paymentID already has a
// late-contribution anomaly on record.
func (e *Engine) refuseLate(ctx context.Context, in Input) error {
	if e.anomalies == nil {
		return nil
	}
	entries, err := e.anomalies.ListAnomalies(ctx, in.Contribution.PaymentID)
	if err != nil {
		return fmt.Errorf("list anomalies: %w", err)
	}
	for _, a := range entries {
		if a.Kind != AnomalyKindLateContribution {
			continue
		}
		logger.Info(ctx, "late contribution redelivered, refused",
			"payment_id", in.Contribution.PaymentID,
			"recorded_at", a.RecordedAt,
		)
		return apperror.NewLotAlreadyClosed(a.Details["lot_id"], in.Contribution.PaymentID).
			WithDetail("redelivered", true)
	}
	return nil
}

func (e *Engine) recordLate(ctx context.Context, in Input, cause error) {
	logger.Warn(ctx, "contribution arrived after lot closure",
		"payment_id", in.Contribution.PaymentID,
		"retailer_id", in.Contribution.RetailerID,
		"qty", in.Contribution.Qty,
		"lot_key", in.Key.String(),
	)
	if e.anomalies == nil {
		return
	}
	err := e.anomalies.RecordAnomaly(ctx, Anomaly{
		Kind:         AnomalyKindLateContribution,
		Key:          in.Key,
		Contribution: in.Contribution,
		Err:          cause,
	})
	if err != nil {
		logger.Error(ctx, "record anomaly failed", "payment_id", in.Contribution.PaymentID, "error", err)
	}
}

func (e *Engine) backoff(ctx context.Context, attempt int) bool {
	if e.cfg.RetryBackoff <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(time.Duration(attempt) * e.cfg.RetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
