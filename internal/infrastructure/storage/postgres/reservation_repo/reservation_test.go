package reservation_repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotpool/internal/core/entity"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/reservation"
)

func TestPendingQuery(t *testing.T) {
	sql, args, err := pendingQuery("r1", "p1").ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, version, created_at, updated_at, retailer_id, product_id, qty, zone_key, status, payment_id, cancel_reason "+
			"FROM reservations WHERE product_id = $1 AND retailer_id = $2 AND status = $3",
		sql)
	assert.Equal(t, []any{"p1", "r1", reservation.StatusPendingLot}, args)
}

func TestUpdateQuery_OptimisticLock(t *testing.T) {
	res := &reservation.Reservation{BaseRecord: entity.BaseRecord{ID: id.New(), Version: 4}}

	sql, args, err := updateQuery(res).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"UPDATE reservations SET status = $1, payment_id = $2, cancel_reason = $3, updated_at = $4, version = $5 WHERE id = $6 AND version = $7",
		sql)
	assert.Equal(t, 4, args[4])
	assert.Equal(t, 3, args[6])
}

func TestZoneDemandQuery(t *testing.T) {
	sql, args, err := zoneDemandQuery("p1").ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT zone_key, COUNT(DISTINCT retailer_id) AS retailers, SUM(qty) AS qty FROM reservations "+
			"WHERE product_id = $1 AND status = $2 GROUP BY zone_key ORDER BY zone_key",
		sql)
	assert.Equal(t, []any{"p1", reservation.StatusPendingLot}, args)
}
