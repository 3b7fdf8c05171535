package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAddress_ZoneKey(t *testing.T) {
	a := &Address{PostalCode: " c1 425 "}
	assert.Equal(t, "C1425", a.ZoneKey())

	var missing *Address
	assert.Equal(t, "", missing.ZoneKey())
}

func TestFlatRate_PoolsBaseFee(t *testing.T) {
	q := FlatRate{Base: decimal.RequireFromString("20"), PerUnit: decimal.RequireFromString("0.5")}

	assert.Equal(t, "25", q.Quote("f", "Z", 10, 3).String())
	assert.True(t, q.Quote("f", "Z", 0, 0).IsZero())
}

func TestProduct_Snapshot(t *testing.T) {
	p := &Product{Name: "Yerba", UnitPrice: decimal.RequireFromString("3.10")}
	s := p.Snapshot()

	assert.Equal(t, "Yerba", s.Name)
	assert.True(t, s.UnitPrice.Equal(decimal.RequireFromString("3.1")))

	var none *Product
	assert.Nil(t, none.Snapshot())
}
