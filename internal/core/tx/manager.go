// Package tx abstracts the unit of work so domain services can group lot,
// order, reservation and outbox writes without knowing the storage backend.
package tx

import (
	"context"
)

// Manager runs fn as one unit of work. An error from fn rolls it back.
// A call made with a context already inside a unit of work joins it.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
