package lot

import (
	"context"

	"lotpool/internal/core/id"
)

// Repository is the only sanctioned read/write path to lots and their
// contributions. Implementations make ApplyContribution atomic per lot.
type Repository interface {
	// FindOpenLot returns the accumulating lot for key or nil.
	// More than one open lot for the key is an INVARIANT_VIOLATION.
	FindOpenLot(ctx context.Context, key Key) (*Lot, error)

	// GetOrCreateOpenLot returns the open lot for key, creating it with a
	// conditional insert when none exists.
	GetOrCreateOpenLot(ctx context.Context, key Key, minimumQuantity int) (*Lot, error)

	// ApplyContribution re-reads the lot under its row lock and merges c.
	// A paymentId already recorded in any lot is a Duplicate no-op returning
	// that lot. Fails with LOT_NOT_FOUND or LOT_ALREADY_CLOSED.
	ApplyContribution(ctx context.Context, lotID id.ID, c Contribution, snapshot *ProductSnapshot) (ApplyResult, error)

	// GetByID fails with LOT_NOT_FOUND when absent.
	GetByID(ctx context.Context, lotID id.ID) (*Lot, error)

	// FindLotByPayment returns the lot holding paymentID or nil.
	FindLotByPayment(ctx context.Context, paymentID string) (*Lot, error)

	// MarkOrderMaterialized writes the one-time settlement marker.
	MarkOrderMaterialized(ctx context.Context, lotID id.ID, orderID id.ID) error

	// Progress returns the most recent lot for key, or NOT_FOUND.
	Progress(ctx context.Context, key Key) (*Progress, error)

	// HasContribution reports whether retailerID paid into any lot of productID.
	HasContribution(ctx context.Context, retailerID, productID string) (bool, error)

	// ListClosedUnmaterialized returns closed lots still waiting for an order, oldest first.
	ListClosedUnmaterialized(ctx context.Context, limit int) ([]*Lot, error)
}
