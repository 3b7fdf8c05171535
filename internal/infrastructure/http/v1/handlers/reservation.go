package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/reservation"
	"lotpool/internal/infrastructure/http/v1/dto"
)

// ReservationService is the reservation use-case surface used over HTTP.
type ReservationService interface {
	Reserve(ctx context.Context, productID, retailerID string, qty int) (*reservation.Reservation, error)
	Cancel(ctx context.Context, reservationID id.ID, retailerID string) error
	ListByRetailer(ctx context.Context, retailerID string) ([]*reservation.Reservation, error)
	GetActive(ctx context.Context, retailerID, productID string) (*reservation.Reservation, error)
	Participation(ctx context.Context, retailerID, productID string) (*reservation.Participation, error)
	ZoneDemand(ctx context.Context, productID string) ([]reservation.ZoneCount, error)
}

// ReservationHandler handles retailer reservations and per-product views.
type ReservationHandler struct {
	*BaseHandler
	service ReservationService
}

// NewReservationHandler creates a new reservation handler.
func NewReservationHandler(base *BaseHandler, service ReservationService) *ReservationHandler {
	return &ReservationHandler{BaseHandler: base, service: service}
}

// Create reserves a slot for the caller.
// POST /reservations
func (h *ReservationHandler) Create(c *gin.Context) {
	var req dto.CreateReservationRequest
	if !h.BindJSON(c, &req) {
		return
	}
	r, err := h.service.Reserve(c.Request.Context(), req.ProductID, h.GetUserID(c), req.Qty)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromReservation(r))
}

// Cancel cancels one of the caller's pending reservations.
// DELETE /reservations/:id
func (h *ReservationHandler) Cancel(c *gin.Context) {
	reservationID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Cancel(c.Request.Context(), reservationID, h.GetUserID(c)); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// List returns the caller's reservations.
// GET /reservations
func (h *ReservationHandler) List(c *gin.Context) {
	items, err := h.service.ListByRetailer(c.Request.Context(), h.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromReservations(items)))
}

// Active returns the caller's pending reservation for the product.
// GET /products/:productId/reservation
func (h *ReservationHandler) Active(c *gin.Context) {
	productID := c.Param("productId")
	r, err := h.service.GetActive(c.Request.Context(), h.GetUserID(c), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if r == nil {
		h.Error(c, apperror.NewNotFound("pending reservation", productID))
		return
	}
	h.OK(c, dto.FromReservation(r))
}

// Participation reports whether the caller reserved or paid into the product.
// GET /products/:productId/participation
func (h *ReservationHandler) Participation(c *gin.Context) {
	p, err := h.service.Participation(c.Request.Context(), h.GetUserID(c), c.Param("productId"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromParticipation(p))
}

// ZoneDemand aggregates pending reservations by shipping zone.
// GET /products/:productId/zone-demand
func (h *ReservationHandler) ZoneDemand(c *gin.Context) {
	productID := c.Param("productId")
	zones, err := h.service.ZoneDemand(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if zones == nil {
		zones = []reservation.ZoneCount{}
	}
	h.OK(c, dto.ZoneDemandResponse{ProductID: productID, Zones: zones})
}
