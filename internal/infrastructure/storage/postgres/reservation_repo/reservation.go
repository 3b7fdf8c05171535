// Package reservation_repo provides the PostgreSQL reservation repository.
package reservation_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/reservation"
	"lotpool/internal/infrastructure/storage/postgres"
)

const (
	tableName = "reservations"

	// Partial unique index over (retailer_id, product_id) WHERE status = 'pending_lot'.
	pendingConstraint = "uq_reservations_pending"
)

var (
	_ reservation.Repository = (*ReservationRepo)(nil)

	selectCols = postgres.ExtractDBColumns[reservation.Reservation]()
)

// ReservationRepo implements reservation.Repository.
type ReservationRepo struct {
	txManager *postgres.TxManager
}

// NewReservationRepo creates a new reservation repository.
func NewReservationRepo(txManager *postgres.TxManager) *ReservationRepo {
	return &ReservationRepo{txManager: txManager}
}

func baseSelect() squirrel.SelectBuilder {
	return postgres.Builder().Select(selectCols...).From(tableName)
}

// Create implements reservation.Repository.
func (r *ReservationRepo) Create(ctx context.Context, res *reservation.Reservation) error {
	sql, args, err := postgres.Builder().
		Insert(tableName).
		SetMap(postgres.StructToMap(res)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err, pendingConstraint) {
			return apperror.NewAlreadyReserved(res.RetailerID, res.ProductID)
		}
		return fmt.Errorf("insert %s: %w", tableName, err)
	}
	return nil
}

func (r *ReservationRepo) get(ctx context.Context, q squirrel.SelectBuilder) (*reservation.Reservation, error) {
	sql, args, err := q.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var res reservation.Reservation
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &res, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return &res, nil
}

func (r *ReservationRepo) list(ctx context.Context, q squirrel.SelectBuilder) ([]*reservation.Reservation, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	out := make([]*reservation.Reservation, 0)
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}

// GetByID implements reservation.Repository.
func (r *ReservationRepo) GetByID(ctx context.Context, reservationID id.ID) (*reservation.Reservation, error) {
	res, err := r.get(ctx, baseSelect().Where(squirrel.Eq{"id": reservationID}))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, apperror.NewNotFound("reservation", reservationID)
	}
	return res, nil
}

// FindPending implements reservation.Repository.
func (r *ReservationRepo) FindPending(ctx context.Context, retailerID, productID string) (*reservation.Reservation, error) {
	return r.get(ctx, pendingQuery(retailerID, productID))
}

func pendingQuery(retailerID, productID string) squirrel.SelectBuilder {
	return baseSelect().Where(squirrel.Eq{
		"retailer_id": retailerID,
		"product_id":  productID,
		"status":      reservation.StatusPendingLot,
	})
}

// Update implements reservation.Repository.
func (r *ReservationRepo) Update(ctx context.Context, res *reservation.Reservation) error {
	sql, args, err := updateQuery(res).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", tableName, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, res.ID); getErr != nil {
			return getErr
		}
		return apperror.NewConcurrentModification(tableName, res.ID)
	}
	return nil
}

func updateQuery(res *reservation.Reservation) squirrel.UpdateBuilder {
	return postgres.Builder().
		Update(tableName).
		Set("status", res.Status).
		Set("payment_id", res.PaymentID).
		Set("cancel_reason", res.CancelReason).
		Set("updated_at", res.UpdatedAt).
		Set("version", res.Version).
		Where(squirrel.Eq{"id": res.ID}).
		Where(squirrel.Eq{"version": res.Version - 1})
}

// ListByRetailer implements reservation.Repository.
func (r *ReservationRepo) ListByRetailer(ctx context.Context, retailerID string) ([]*reservation.Reservation, error) {
	return r.list(ctx, baseSelect().
		Where(squirrel.Eq{"retailer_id": retailerID}).
		OrderBy("created_at DESC"))
}

// ZoneDemand implements reservation.Repository.
func (r *ReservationRepo) ZoneDemand(ctx context.Context, productID string) ([]reservation.ZoneCount, error) {
	sql, args, err := zoneDemandQuery(productID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	out := make([]reservation.ZoneCount, 0)
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("zone demand: %w", err)
	}
	return out, nil
}

func zoneDemandQuery(productID string) squirrel.SelectBuilder {
	return postgres.Builder().
		Select("zone_key", "COUNT(DISTINCT retailer_id) AS retailers", "SUM(qty) AS qty").
		From(tableName).
		Where(squirrel.Eq{"product_id": productID, "status": reservation.StatusPendingLot}).
		GroupBy("zone_key").
		OrderBy("zone_key")
}

// ListPendingBefore implements reservation.Repository.
func (r *ReservationRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*reservation.Reservation, error) {
	return r.list(ctx, baseSelect().
		Where(squirrel.Eq{"status": reservation.StatusPendingLot}).
		Where(squirrel.Lt{"created_at": cutoff}).
		OrderBy("created_at").
		Limit(uint64(limit)))
}
