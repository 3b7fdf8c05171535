package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"lotpool/internal/core/apperror"
	"lotpool/internal/domain/accumulation"
	"lotpool/internal/domain/payment"
	"lotpool/internal/infrastructure/http/v1/dto"
	"lotpool/pkg/logger"
)

const maxWebhookBodyBytes = 64 << 10

// NotificationHandler applies a payment processor notification.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n payment.Notification) (*accumulation.ClosureResult, error)
}

// PaymentHandler receives payment webhooks and serves payment reconciliation.
type PaymentHandler struct {
	*BaseHandler
	notifications NotificationHandler
	anomalies     accumulation.AnomalyReader
	secret        string
}

// NewPaymentHandler creates a new payment handler. An empty secret disables
// signature verification.
func NewPaymentHandler(base *BaseHandler, notifications NotificationHandler, anomalies accumulation.AnomalyReader, secret string) *PaymentHandler {
	return &PaymentHandler{BaseHandler: base, notifications: notifications, anomalies: anomalies, secret: secret}
}

// Webhook handles a payment notification. Non-approved statuses are
// acknowledged and ignored; redelivered payments answer "duplicate". A payment
// that arrived after its lot closed is acknowledged as "late" so the processor
// stops redelivering it; refunds are driven from the recorded anomaly.
// POST /webhooks/payments
func (h *PaymentHandler) Webhook(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		h.Error(c, apperror.NewValidation("unreadable body").WithCause(err))
		return
	}
	if len(body) > maxWebhookBodyBytes {
		h.Error(c, apperror.NewValidation("notification too large"))
		return
	}

	if h.secret != "" && !payment.VerifySignature(h.secret, body, c.GetHeader(payment.SignatureHeader)) {
		logger.Warn(ctx, "payment webhook signature mismatch", "client_ip", c.ClientIP())
		h.Error(c, apperror.NewUnauthorized("invalid signature"))
		return
	}

	var n payment.Notification
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		h.Error(c, apperror.NewValidation("invalid notification").WithDetail("error", err.Error()))
		return
	}

	res, err := h.notifications.HandleNotification(ctx, n)
	if appErr, ok := apperror.AsAppError(err); ok && appErr.Code == apperror.CodeLotAlreadyClosed {
		h.OK(c, dto.FromLateContribution(appErr))
		return
	}
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromClosureResult(res))
}

// Anomalies lists what went wrong applying a payment, e.g. a late arrival
// after its lot closed, so it can be refunded.
// GET /payments/:paymentId/anomalies
func (h *PaymentHandler) Anomalies(c *gin.Context) {
	entries, err := h.anomalies.ListAnomalies(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromAnomalies(entries)))
}
