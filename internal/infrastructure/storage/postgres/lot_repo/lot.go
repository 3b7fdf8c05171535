// Package lot_repo provides the PostgreSQL lot repository.
//
// One open lot per key is enforced by the partial unique index
// uq_lots_open_key; merges serialize on the lot row lock (SELECT ... FOR UPDATE);
// paymentId is unique across all lots via uq_lot_contributions_payment.
package lot_repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/lot"
	"lotpool/internal/infrastructure/storage/postgres"
)

const (
	lotsTable          = "lots"
	contributionsTable = "lot_contributions"

	paymentConstraint = "uq_lot_contributions_payment"

	// createAttempts bounds the insert/read loop when the open lot closes
	// between the conditional insert and the read.
	createAttempts = 3
)

var (
	_ lot.Repository = (*LotRepo)(nil)

	lotColumns = append(postgres.ExtractDBColumns[lot.Lot](), "snapshot")
)

// lotRow adds the JSON snapshot column to the scanned lot.
type lotRow struct {
	lot.Lot
	SnapshotJSON []byte `db:"snapshot"`
}

func (r *lotRow) toDomain() (*lot.Lot, error) {
	l := r.Lot
	if len(r.SnapshotJSON) > 0 {
		var snap lot.ProductSnapshot
		if err := json.Unmarshal(r.SnapshotJSON, &snap); err != nil {
			return nil, fmt.Errorf("decode lot snapshot: %w", err)
		}
		l.Snapshot = &snap
	}
	l.Contributions = []lot.Contribution{}
	return &l, nil
}

// LotRepo implements lot.Repository.
type LotRepo struct {
	txManager *postgres.TxManager
	now       func() time.Time
}

// NewLotRepo creates a new lot repository.
func NewLotRepo(txManager *postgres.TxManager) *LotRepo {
	return &LotRepo{txManager: txManager, now: time.Now}
}

func (r *LotRepo) baseSelect() squirrel.SelectBuilder {
	return postgres.Builder().Select(lotColumns...).From(lotsTable)
}

func openLotQuery(key lot.Key) squirrel.SelectBuilder {
	return postgres.Builder().
		Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{
			"product_id": key.ProductID,
			"factory_id": key.FactoryID,
			"lot_type":   key.Type,
			"status":     lot.StatusAccumulating,
		})
}

func insertLotQuery(l *lot.Lot) squirrel.InsertBuilder {
	data := postgres.StructToMap(l)
	data["snapshot"] = nil
	return postgres.Builder().
		Insert(lotsTable).
		SetMap(data).
		Suffix("ON CONFLICT (product_id, factory_id, lot_type) WHERE status = 'accumulating' DO NOTHING")
}

func updateLotQuery(l *lot.Lot, snapshot []byte) squirrel.UpdateBuilder {
	return postgres.Builder().
		Update(lotsTable).
		Set("accumulated_qty", l.AccumulatedQty).
		Set("status", l.Status).
		Set("closed_at", l.ClosedAt).
		Set("snapshot", snapshot).
		Set("order_id", l.OrderID).
		Set("materialized_at", l.MaterializedAt).
		Set("updated_at", l.UpdatedAt).
		Set("version", l.Version).
		Where(squirrel.Eq{"id": l.ID}).
		Where(squirrel.Eq{"version": l.Version - 1})
}

// selectLots loads lots and their contributions from one snapshot.
func (r *LotRepo) selectLots(ctx context.Context, q squirrel.Sqlizer) ([]*lot.Lot, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lots []*lot.Lot
	err = r.txManager.ReadOnly(ctx, func(ctx context.Context) error {
		var rows []*lotRow
		if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
			return fmt.Errorf("select lots: %w", err)
		}

		lots = make([]*lot.Lot, 0, len(rows))
		for _, row := range rows {
			l, err := row.toDomain()
			if err != nil {
				return err
			}
			lots = append(lots, l)
		}
		return r.loadContributions(ctx, lots)
	})
	if err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *LotRepo) loadContributions(ctx context.Context, lots []*lot.Lot) error {
	if len(lots) == 0 {
		return nil
	}
	byID := make(map[id.ID]*lot.Lot, len(lots))
	ids := make([]id.ID, 0, len(lots))
	for _, l := range lots {
		byID[l.ID] = l
		ids = append(ids, l.ID)
	}

	sql, args, err := postgres.Builder().
		Select("lot_id", "payment_id", "retailer_id", "qty", "applied_at").
		From(contributionsTable).
		Where("lot_id = ANY(?)", ids).
		OrderBy("lot_id", "seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build contributions query: %w", err)
	}

	var rows []struct {
		LotID id.ID `db:"lot_id"`
		lot.Contribution
	}
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return fmt.Errorf("select contributions: %w", err)
	}
	for _, row := range rows {
		l := byID[row.LotID]
		l.Contributions = append(l.Contributions, row.Contribution)
	}
	return nil
}

func (r *LotRepo) one(ctx context.Context, q squirrel.Sqlizer) (*lot.Lot, error) {
	lots, err := r.selectLots(ctx, q)
	if err != nil || len(lots) == 0 {
		return nil, err
	}
	return lots[0], nil
}

// FindOpenLot implements lot.Repository.
func (r *LotRepo) FindOpenLot(ctx context.Context, key lot.Key) (*lot.Lot, error) {
	lots, err := r.selectLots(ctx, openLotQuery(key))
	if err != nil {
		return nil, err
	}
	switch len(lots) {
	case 0:
		return nil, nil
	case 1:
		return lots[0], nil
	}
	return nil, apperror.NewInvariantViolation("more than one open lot for key").
		WithDetail("key", key.String()).
		WithDetail("count", len(lots))
}

// GetOrCreateOpenLot implements lot.Repository.
func (r *LotRepo) GetOrCreateOpenLot(ctx context.Context, key lot.Key, minimumQuantity int) (*lot.Lot, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		open, err := r.FindOpenLot(ctx, key)
		if err != nil || open != nil {
			return open, err
		}

		l, err := lot.New(key, minimumQuantity, r.now())
		if err != nil {
			return nil, err
		}
		sql, args, err := insertLotQuery(l).ToSql()
		if err != nil {
			return nil, fmt.Errorf("build insert: %w", err)
		}
		if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
			return nil, fmt.Errorf("insert lot: %w", err)
		}
	}
	return nil, apperror.NewConcurrentModification("lot", key.String())
}

// ApplyContribution implements lot.Repository.
func (r *LotRepo) ApplyContribution(ctx context.Context, lotID id.ID, c lot.Contribution, snapshot *lot.ProductSnapshot) (lot.ApplyResult, error) {
	var result lot.ApplyResult
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if held, err := r.FindLotByPayment(ctx, c.PaymentID); err != nil {
			return err
		} else if held != nil {
			result = lot.ApplyResult{Lot: held, Duplicate: true}
			return nil
		}

		l, err := r.one(ctx, r.baseSelect().Where(squirrel.Eq{"id": lotID}).Suffix("FOR UPDATE"))
		if err != nil {
			return err
		}
		if l == nil {
			return apperror.NewLotNotFound(lotID)
		}

		res, err := l.ApplyContribution(c, snapshot, r.now())
		result = res
		if err != nil || res.Duplicate {
			return err
		}
		applied := l.Contributions[len(l.Contributions)-1]

		if err := r.insertContribution(ctx, lotID, len(l.Contributions), applied); err != nil {
			return err
		}
		return r.save(ctx, l)
	})
	if err != nil {
		return lot.ApplyResult{}, err
	}
	return result, nil
}

func (r *LotRepo) insertContribution(ctx context.Context, lotID id.ID, seq int, c lot.Contribution) error {
	sql, args, err := postgres.Builder().
		Insert(contributionsTable).
		Columns("lot_id", "seq", "payment_id", "retailer_id", "qty", "applied_at").
		Values(lotID, seq, c.PaymentID, c.RetailerID, c.Qty, c.AppliedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build contribution insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err, paymentConstraint) {
			// Same payment committed concurrently into another lot; the
			// caller retries and then observes it as a duplicate.
			return apperror.NewConcurrentModification("lot", lotID)
		}
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

func (r *LotRepo) save(ctx context.Context, l *lot.Lot) error {
	var snapshot []byte
	if l.Snapshot != nil {
		b, err := json.Marshal(l.Snapshot)
		if err != nil {
			return fmt.Errorf("encode lot snapshot: %w", err)
		}
		snapshot = b
	}

	sql, args, err := updateLotQuery(l, snapshot).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("lot", l.ID)
	}
	return nil
}

// GetByID implements lot.Repository.
func (r *LotRepo) GetByID(ctx context.Context, lotID id.ID) (*lot.Lot, error) {
	l, err := r.one(ctx, r.baseSelect().Where(squirrel.Eq{"id": lotID}))
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, apperror.NewLotNotFound(lotID)
	}
	return l, nil
}

// FindLotByPayment implements lot.Repository.
func (r *LotRepo) FindLotByPayment(ctx context.Context, paymentID string) (*lot.Lot, error) {
	sub := postgres.Builder().
		Select("lot_id").
		From(contributionsTable).
		Where(squirrel.Eq{"payment_id": paymentID})
	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build payment lookup: %w", err)
	}
	return r.one(ctx, r.baseSelect().Where("id IN ("+subSQL+")", subArgs...))
}

// MarkOrderMaterialized implements lot.Repository.
func (r *LotRepo) MarkOrderMaterialized(ctx context.Context, lotID id.ID, orderID id.ID) error {
	return r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		l, err := r.one(ctx, r.baseSelect().Where(squirrel.Eq{"id": lotID}).Suffix("FOR UPDATE"))
		if err != nil {
			return err
		}
		if l == nil {
			return apperror.NewLotNotFound(lotID)
		}
		if l.OrderID != nil && *l.OrderID == orderID {
			return nil
		}
		if err := l.MarkMaterialized(orderID, r.now()); err != nil {
			return err
		}
		return r.save(ctx, l)
	})
}

// Progress implements lot.Repository.
func (r *LotRepo) Progress(ctx context.Context, key lot.Key) (*lot.Progress, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{
			"product_id": key.ProductID,
			"factory_id": key.FactoryID,
			"lot_type":   key.Type,
		}).
		OrderBy("(status = 'accumulating') DESC", "created_at DESC").
		Limit(1)
	l, err := r.one(ctx, q)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, apperror.NewNotFound("lot", key.String())
	}
	return lot.ProgressOf(l), nil
}

// HasContribution implements lot.Repository.
func (r *LotRepo) HasContribution(ctx context.Context, retailerID, productID string) (bool, error) {
	sql, args, err := hasContributionQuery(retailerID, productID).ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	var exists bool
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("has contribution: %w", err)
	}
	return exists, nil
}

func hasContributionQuery(retailerID, productID string) squirrel.SelectBuilder {
	return postgres.Builder().
		Select().
		Column(squirrel.Expr(
			"EXISTS (SELECT 1 FROM lot_contributions c JOIN lots l ON l.id = c.lot_id WHERE c.retailer_id = ? AND l.product_id = ?)",
			retailerID, productID,
		))
}

// ListClosedUnmaterialized implements lot.Repository.
func (r *LotRepo) ListClosedUnmaterialized(ctx context.Context, limit int) ([]*lot.Lot, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"status": lot.StatusClosed, "order_id": nil}).
		OrderBy("closed_at").
		Limit(uint64(limit))
	return r.selectLots(ctx, q)
}
