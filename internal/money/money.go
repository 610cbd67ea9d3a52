// Package money provides shared amount parsing, rounding and formatting.
//
// Amounts are shopspring decimals in major currency units (e.g. rupees)
// with a fixed scale of two fractional digits. Percentages share the same
// representation so a split never goes through float64.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits a settled amount carries.
const Scale = 2

// DefaultCurrency is the settlement currency when none is configured.
const DefaultCurrency = "INR"

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNegative      = errors.New("amount must not be negative")
	ErrTooPrecise    = errors.New("amount has more than two fractional digits")
)

var hundred = decimal.NewFromInt(100)

// Parse converts a decimal string (e.g. "1250.50") to an amount.
//
// Rules:
//   - Empty string is rejected
//   - Negative amounts are rejected
//   - More than Scale fractional digits is rejected (no silent truncation)
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegative
	}
	if !d.Equal(d.Truncate(Scale)) {
		return decimal.Zero, ErrTooPrecise
	}
	return d, nil
}

// Format renders an amount with exactly Scale fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// Floor truncates d to Scale fractional digits. Amounts are non-negative
// so truncation rounds down.
func Floor(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// Percent returns floor(total * pct / 100).
func Percent(total, pct decimal.Decimal) decimal.Decimal {
	return Floor(total.Mul(pct).Div(hundred))
}

// ValidPercentage reports whether pct lies within [0, 100].
func ValidPercentage(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
