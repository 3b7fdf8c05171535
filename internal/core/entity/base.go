// Package entity holds the building blocks shared by persisted aggregates.
package entity

import (
	"context"
	"time"

	"lotpool/internal/core/id"
)

// Validatable is implemented by entities that support self-validation.
// Validation checks internal invariants (without database access).
type Validatable interface {
	// Validate checks entity invariants.
	// Returns nil if valid, AppError with details otherwise.
	Validate(ctx context.Context) error
}

// BaseRecord contains the identity, optimistic-lock version and audit
// timestamps shared by lots, reservations and orders.
type BaseRecord struct {
	// ID is the primary key (UUIDv7)
	ID id.ID `db:"id" json:"id"`

	// Version for optimistic locking (incremented on each update)
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewBaseRecord creates a BaseRecord with generated ID and timestamps.
func NewBaseRecord(now time.Time) BaseRecord {
	now = now.UTC()
	return BaseRecord{
		ID:        id.New(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the UpdatedAt timestamp and increments version.
func (b *BaseRecord) Touch(now time.Time) {
	b.UpdatedAt = now.UTC()
	b.Version++
}
