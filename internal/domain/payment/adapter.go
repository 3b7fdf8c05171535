// Package payment normalizes payment-provider notifications into
// PaymentApprovedEvent and feeds them to the accumulation engine.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"lotpool/internal/core/apperror"
	"lotpool/internal/domain/accumulation"
	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/reservation"
	"lotpool/pkg/logger"
)

// StatusApproved is the only provider status that produces a contribution.
const StatusApproved = "approved"

// ApprovedEvent is the normalized "payment approved" event.
type ApprovedEvent struct {
	PaymentID       string   `json:"paymentId" validate:"required"`
	ProductID       string   `json:"productId" validate:"required"`
	FactoryID       string   `json:"factoryId" validate:"required"`
	RetailerID      string   `json:"retailerId" validate:"required"`
	LotType         lot.Type `json:"lotType" validate:"required,oneof=pickup shipping"`
	Qty             int      `json:"qty" validate:"gt=0"`
	MinimumQuantity int      `json:"minimumQuantity" validate:"gt=0"`
}

// Notification is the provider webhook payload. Metadata carries the order
// context attached when the payment was created.
type Notification struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

// Contributor is the accumulation entry point.
type Contributor interface {
	AddContribution(ctx context.Context, in accumulation.Input) (accumulation.ClosureResult, error)
}

// ReservationConverter marks the payer's pending reservation as paid.
type ReservationConverter interface {
	ConvertForPayment(ctx context.Context, retailerID, productID, paymentID string) (*reservation.Reservation, error)
}

// Adapter turns provider notifications into engine calls.
type Adapter struct {
	engine       Contributor
	reservations ReservationConverter
	validate     *validator.Validate
}

// NewAdapter creates a new Adapter. reservations may be nil.
func NewAdapter(engine Contributor, reservations ReservationConverter) *Adapter {
	return &Adapter{
		engine:       engine,
		reservations: reservations,
		validate:     validator.New(),
	}
}

// Normalize extracts the approved event. ok is false for non-approved
// statuses, which are acknowledged and ignored.
func (a *Adapter) Normalize(n Notification) (ev ApprovedEvent, ok bool, err error) {
	if !strings.EqualFold(strings.TrimSpace(n.Status), StatusApproved) {
		return ApprovedEvent{}, false, nil
	}

	md := n.Metadata
	ev = ApprovedEvent{
		PaymentID:  strings.TrimSpace(n.ID),
		ProductID:  metaString(md, "product_id"),
		FactoryID:  metaString(md, "factory_id"),
		RetailerID: metaString(md, "retailer_id"),
	}
	if ev.LotType, err = lot.ParseType(metaString(md, "lot_type")); err != nil {
		return ApprovedEvent{}, false, err
	}
	if ev.Qty, err = metaInt(md, "qty"); err != nil {
		return ApprovedEvent{}, false, err
	}
	if ev.MinimumQuantity, err = metaInt(md, "minimum_quantity"); err != nil {
		return ApprovedEvent{}, false, err
	}
	if err := a.Validate(ev); err != nil {
		return ApprovedEvent{}, false, err
	}
	return ev, true, nil
}

// Validate checks the event with struct tags and maps failures to VALIDATION_ERROR.
func (a *Adapter) Validate(ev ApprovedEvent) error {
	err := a.validate.Struct(ev)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.NewValidation(err.Error())
	}
	appErr := apperror.NewValidation("invalid payment event")
	for _, fe := range verrs {
		appErr.WithDetail(fe.Field(), fe.Tag())
	}
	return appErr
}

// HandleNotification normalizes n and applies it. Returns nil result for
// ignored statuses.
func (a *Adapter) HandleNotification(ctx context.Context, n Notification) (*accumulation.ClosureResult, error) {
	ev, ok, err := a.Normalize(n)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Debug(ctx, "payment notification ignored", "payment_id", n.ID, "status", n.Status)
		return nil, nil
	}
	res, err := a.HandleApproved(ctx, ev)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// HandleApproved calls the engine once for ev, without aggregating, then
// converts the payer's pending reservation.
func (a *Adapter) HandleApproved(ctx context.Context, ev ApprovedEvent) (accumulation.ClosureResult, error) {
	if err := a.Validate(ev); err != nil {
		return accumulation.ClosureResult{}, err
	}

	res, err := a.engine.AddContribution(ctx, accumulation.Input{
		Key: lot.Key{
			ProductID: ev.ProductID,
			FactoryID: ev.FactoryID,
			Type:      ev.LotType,
		},
		MinimumQuantity: ev.MinimumQuantity,
		Contribution: lot.Contribution{
			PaymentID:  ev.PaymentID,
			RetailerID: ev.RetailerID,
			Qty:        ev.Qty,
		},
	})
	if err != nil {
		return res, err
	}

	if a.reservations != nil {
		if _, err := a.reservations.ConvertForPayment(ctx, ev.RetailerID, ev.ProductID, ev.PaymentID); err != nil {
			logger.Warn(ctx, "reservation conversion failed",
				"payment_id", ev.PaymentID,
				"retailer_id", ev.RetailerID,
				"error", err,
			)
		}
	}
	return res, nil
}

func metaString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// metaInt accepts JSON numbers and numeric strings. Fractional units are rejected.
func metaInt(md map[string]any, key string) (int, error) {
	v, ok := md[key]
	if !ok || v == nil {
		return 0, apperror.NewValidation("missing metadata field").WithDetail("field", key)
	}
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return 0, apperror.NewValidation("quantity must be a whole number").WithDetail("field", key)
		}
		return int(t), nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case json.Number:
		n, err := strconv.Atoi(t.String())
		if err != nil {
			return 0, apperror.NewValidation("quantity must be a whole number").WithDetail("field", key)
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, apperror.NewValidation("metadata field is not an integer").WithDetail("field", key)
		}
		return n, nil
	default:
		return 0, apperror.NewValidation("metadata field is not an integer").WithDetail("field", key)
	}
}
