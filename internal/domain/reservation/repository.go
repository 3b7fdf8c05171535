package reservation

import (
	"context"
	"time"

	"lotpool/internal/core/id"
)

// Repository persists reservations.
type Repository interface {
	// Create inserts a pending reservation. A concurrent pending reservation
	// for the same retailer and product fails with ALREADY_RESERVED.
	Create(ctx context.Context, r *Reservation) error

	// GetByID fails with NOT_FOUND when absent.
	GetByID(ctx context.Context, reservationID id.ID) (*Reservation, error)

	// FindPending returns the pending reservation for the pair or nil.
	FindPending(ctx context.Context, retailerID, productID string) (*Reservation, error)

	// Update saves r if its stored version is r.Version-1,
	// otherwise CONCURRENT_MODIFICATION.
	Update(ctx context.Context, r *Reservation) error

	ListByRetailer(ctx context.Context, retailerID string) ([]*Reservation, error)

	// ZoneDemand groups pending reservations of productID by zone.
	ZoneDemand(ctx context.Context, productID string) ([]ZoneCount, error)

	// ListPendingBefore returns pending reservations created before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Reservation, error)
}
