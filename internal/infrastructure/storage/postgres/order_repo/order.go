// Package order_repo provides the PostgreSQL repository for materialized orders.
package order_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/settlement"
	"lotpool/internal/infrastructure/storage/postgres"
)

const (
	ordersTable = "orders"
	linesTable  = "order_lines"

	sourceLotConstraint = "uq_orders_source_lot"
)

var (
	_ settlement.Repository = (*OrderRepo)(nil)

	orderCols = postgres.ExtractDBColumns[settlement.Order]()
	lineCols  = append([]string{"order_id"}, postgres.ExtractDBColumns[settlement.OrderLine]()...)
)

// OrderRepo implements settlement.Repository.
type OrderRepo struct {
	txManager *postgres.TxManager
	lines     *postgres.BatchInserter
}

// NewOrderRepo creates a new order repository.
func NewOrderRepo(txManager *postgres.TxManager) *OrderRepo {
	return &OrderRepo{
		txManager: txManager,
		lines:     postgres.NewBatchInserter(txManager),
	}
}

// Create inserts the order header and its lines. A second order for the
// same source lot fails with CONFLICT.
func (r *OrderRepo) Create(ctx context.Context, o *settlement.Order) error {
	return r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		sql, args, err := postgres.Builder().
			Insert(ordersTable).
			SetMap(postgres.StructToMap(o)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
			if postgres.IsUniqueViolation(err, sourceLotConstraint) {
				return apperror.NewConflict("order already exists for lot").
					WithDetail("lot_id", o.SourceLotID)
			}
			return fmt.Errorf("insert %s: %w", ordersTable, err)
		}

		_, err = r.lines.CopyFromSlice(ctx, linesTable, lineCols, lineRows(o))
		return err
	})
}

// AssignNumber sets the document number of a created order.
func (r *OrderRepo) AssignNumber(ctx context.Context, orderID id.ID, number string) error {
	sql, args, err := assignNumberQuery(orderID, number).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s number: %w", ordersTable, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("order", orderID)
	}
	return nil
}

func assignNumberQuery(orderID id.ID, number string) squirrel.UpdateBuilder {
	return postgres.Builder().
		Update(ordersTable).
		Set("number", number).
		Where(squirrel.Eq{"id": orderID})
}

func lineRows(o *settlement.Order) [][]any {
	rows := make([][]any, 0, len(o.Lines))
	for _, l := range o.Lines {
		rows = append(rows, []any{
			o.ID, l.LineNo, l.RetailerID, l.PaymentID, l.Qty, l.Amount, l.ZoneKey, l.ShippingCost,
		})
	}
	return rows
}

func (r *OrderRepo) get(ctx context.Context, where squirrel.Sqlizer) (*settlement.Order, error) {
	sql, args, err := postgres.Builder().
		Select(orderCols...).
		From(ordersTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var o settlement.Order
	q := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, q, &o, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	sql, args, err = postgres.Builder().
		Select(lineCols[1:]...).
		From(linesTable).
		Where(squirrel.Eq{"order_id": o.ID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lines query: %w", err)
	}
	o.Lines = make([]settlement.OrderLine, 0)
	if err := pgxscan.Select(ctx, q, &o.Lines, sql, args...); err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	return &o, nil
}

// GetBySourceLot returns the order created from lotID, or nil.
func (r *OrderRepo) GetBySourceLot(ctx context.Context, lotID id.ID) (*settlement.Order, error) {
	return r.get(ctx, squirrel.Eq{"source_lot_id": lotID})
}

// GetByID fails with NOT_FOUND when absent.
func (r *OrderRepo) GetByID(ctx context.Context, orderID id.ID) (*settlement.Order, error) {
	o, err := r.get(ctx, squirrel.Eq{"id": orderID})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperror.NewNotFound("order", orderID)
	}
	return o, nil
}
