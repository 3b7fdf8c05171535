// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// MoneyScale is the number of fractional digits kept for stored amounts.
const MoneyScale int32 = 2

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Units converts a unit count into Money for multiplication.
func Units(qty int) Money {
	return decimal.NewFromInt(int64(qty))
}

// RoundMoney rounds half away from zero to MoneyScale digits.
func RoundMoney(m Money) Money {
	return m.Round(MoneyScale)
}

// SplitByWeight divides total across weights proportionally.
// The rounding remainder is assigned to the last share so the parts always sum to total.
func SplitByWeight(total Money, weights []int) []Money {
	out := make([]Money, len(weights))
	if len(weights) == 0 {
		return out
	}
	sum := 0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		for i := range out {
			out[i] = decimal.Zero
		}
		out[len(out)-1] = total
		return out
	}

	allocated := decimal.Zero
	for i, w := range weights[:len(weights)-1] {
		share := RoundMoney(total.Mul(Units(w)).Div(Units(sum)))
		out[i] = share
		allocated = allocated.Add(share)
	}
	out[len(out)-1] = total.Sub(allocated)
	return out
}
