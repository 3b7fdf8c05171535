package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lotpool/internal/core/entity"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/reservation"
)

func TestExtractDBColumns_IncludesEmbeddedRecord(t *testing.T) {
	cols := ExtractDBColumns[lot.Lot]()

	assert.Equal(t, []string{
		"id", "version", "created_at", "updated_at",
		"product_id", "factory_id", "lot_type", "minimum_quantity", "accumulated_qty", "status",
		"closed_at", "order_id", "materialized_at",
	}, cols)
	assert.NotContains(t, cols, "-")
}

func TestStructToMap_Reservation(t *testing.T) {
	now := time.Now().UTC()
	payment := "pay-1"
	r := &reservation.Reservation{
		BaseRecord: entity.BaseRecord{ID: id.New(), Version: 3, CreatedAt: now, UpdatedAt: now},
		RetailerID: "ret-1",
		ProductID:  "prod-1",
		Qty:        4,
		ZoneKey:    "B1900",
		Status:     reservation.StatusConverted,
		PaymentID:  &payment,
	}

	m := StructToMap(r)

	assert.Equal(t, r.ID, m["id"])
	assert.Equal(t, 3, m["version"])
	assert.Equal(t, "ret-1", m["retailer_id"])
	assert.Equal(t, reservation.StatusConverted, m["status"])
	assert.Equal(t, &payment, m["payment_id"])
	assert.Nil(t, m["cancel_reason"])
	assert.Contains(t, m, "cancel_reason")
}

func TestStructToMap_NonStruct(t *testing.T) {
	assert.Nil(t, StructToMap(42))
}
