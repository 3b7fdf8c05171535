// Package memory provides in-process storage backends used for local runs
// (STORAGE=memory) and tests. Each lot is guarded by its own mutex, which
// plays the role of the row lock in PostgreSQL.
package memory

import (
	"context"

	"lotpool/internal/core/tx"
)

var _ tx.Manager = (*TxManager)(nil)

type txKey struct{}

// TxManager marks the context as transactional. Writes are applied
// immediately; there is no rollback.
type TxManager struct{}

// NewTxManager creates a new TxManager.
func NewTxManager() *TxManager {
	return &TxManager{}
}

// RunInTransaction runs fn with a transactional context. Nested calls reuse it.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}
	return fn(context.WithValue(ctx, txKey{}, true))
}

// InTransaction reports whether ctx was produced by RunInTransaction.
func InTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}
