package dto

import (
	"fmt"
	"time"

	"lotpool/internal/core/apperror"
	"lotpool/internal/domain/accumulation"
)

// Webhook outcomes.
const (
	WebhookIgnored   = "ignored"
	WebhookApplied   = "applied"
	WebhookDuplicate = "duplicate"
	WebhookLate      = "late"
)

// WebhookResponse acknowledges a payment notification.
type WebhookResponse struct {
	Status         string         `json:"status"`
	LotID          string         `json:"lotId,omitempty"`
	AccumulatedQty int            `json:"accumulatedQty,omitempty"`
	DidClose       bool           `json:"didClose"`
	Order          *OrderResponse `json:"order,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// FromClosureResult builds the acknowledgement for an engine result.
// A nil result means the notification was not an approval.
func FromClosureResult(res *accumulation.ClosureResult) WebhookResponse {
	if res == nil || res.Lot == nil {
		return WebhookResponse{Status: WebhookIgnored}
	}
	resp := WebhookResponse{
		Status:         WebhookApplied,
		LotID:          res.Lot.ID.String(),
		AccumulatedQty: res.Lot.AccumulatedQty,
		DidClose:       res.DidClose,
	}
	if res.Duplicate {
		resp.Status = WebhookDuplicate
	}
	if res.Order != nil {
		o := FromOrder(res.Order)
		resp.Order = &o
	}
	return resp
}

// FromLateContribution acknowledges a payment refused because its lot had closed.
func FromLateContribution(err *apperror.AppError) WebhookResponse {
	resp := WebhookResponse{Status: WebhookLate, Message: err.Message}
	if v := err.Details["lot_id"]; v != nil {
		resp.LotID = fmt.Sprint(v)
	}
	return resp
}

// AnomalyResponse is a recorded payment anomaly.
type AnomalyResponse struct {
	Kind       string         `json:"kind"`
	PaymentID  string         `json:"paymentId"`
	Details    map[string]any `json:"details,omitempty"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// FromAnomalies converts recorded anomalies.
func FromAnomalies(entries []accumulation.AnomalyEntry) []AnomalyResponse {
	out := make([]AnomalyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AnomalyResponse{
			Kind:       e.Kind,
			PaymentID:  e.PaymentID,
			Details:    e.Details,
			RecordedAt: e.RecordedAt,
		})
	}
	return out
}
