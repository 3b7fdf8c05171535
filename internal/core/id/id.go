// Package id generates identifiers for lots, reservations, orders and
// outbox messages. Identifiers are UUIDv7, so they sort by creation time.
package id

import (
	"github.com/google/uuid"
)

// ID identifies a persisted record.
type ID = uuid.UUID

// New returns a fresh UUIDv7, falling back to a random UUID if the clock
// source fails.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse decodes a textual identifier.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil is the zero identifier.
func Nil() ID {
	return uuid.Nil
}

// IsNil reports whether v is the zero identifier.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
