package dto

import (
	"time"

	"lotpool/internal/domain/reservation"
)

// CreateReservationRequest reserves a slot in the next lot of a product.
type CreateReservationRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Qty       int    `json:"qty" binding:"required,min=1"`
}

// ReservationResponse is a retailer's reservation.
type ReservationResponse struct {
	ID           string    `json:"id"`
	RetailerID   string    `json:"retailerId"`
	ProductID    string    `json:"productId"`
	Qty          int       `json:"qty"`
	ZoneKey      string    `json:"zoneKey"`
	Status       string    `json:"status"`
	PaymentID    *string   `json:"paymentId,omitempty"`
	CancelReason *string   `json:"cancelReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FromReservation creates ReservationResponse from reservation.Reservation.
func FromReservation(r *reservation.Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:         r.ID.String(),
		RetailerID: r.RetailerID,
		ProductID:  r.ProductID,
		Qty:        r.Qty,
		ZoneKey:    r.ZoneKey,
		Status:     string(r.Status),
		PaymentID:  r.PaymentID,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.CancelReason != nil {
		s := string(*r.CancelReason)
		resp.CancelReason = &s
	}
	return resp
}

// FromReservations converts a slice.
func FromReservations(rs []*reservation.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromReservation(r))
	}
	return out
}

// ParticipationResponse tells a retailer whether they are in on a product.
type ParticipationResponse struct {
	ProductID   string               `json:"productId"`
	Reserved    bool                 `json:"reserved"`
	Contributed bool                 `json:"contributed"`
	Reservation *ReservationResponse `json:"reservation,omitempty"`
}

// FromParticipation creates ParticipationResponse from reservation.Participation.
func FromParticipation(p *reservation.Participation) ParticipationResponse {
	resp := ParticipationResponse{
		ProductID:   p.ProductID,
		Reserved:    p.Reserved,
		Contributed: p.Contributed,
	}
	if p.Reservation != nil {
		r := FromReservation(p.Reservation)
		resp.Reservation = &r
	}
	return resp
}

// ZoneDemandResponse lists pending demand per shipping zone.
type ZoneDemandResponse struct {
	ProductID string                  `json:"productId"`
	Zones     []reservation.ZoneCount `json:"zones"`
}
