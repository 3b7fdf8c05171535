package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitByWeight_SumsToTotal(t *testing.T) {
	total := MustMoney("100.00")
	parts := SplitByWeight(total, []int{1, 1, 1})

	assert.True(t, parts[0].Equal(MustMoney("33.33")))
	assert.True(t, parts[1].Equal(MustMoney("33.33")))
	assert.True(t, parts[2].Equal(MustMoney("33.34")))

	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p)
	}
	assert.True(t, sum.Equal(total))
}

func TestSplitByWeight_Proportional(t *testing.T) {
	parts := SplitByWeight(MustMoney("30"), []int{5, 10})
	assert.True(t, parts[0].Equal(MustMoney("10")))
	assert.True(t, parts[1].Equal(MustMoney("20")))
}

func TestSplitByWeight_Empty(t *testing.T) {
	assert.Empty(t, SplitByWeight(MustMoney("10"), nil))
}
