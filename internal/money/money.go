// Package money provides fixed-point currency amounts.
//
// All balances, transfer amounts and limits carry exactly two decimal places.
// Values are held as decimal.Decimal so arithmetic never goes through float64.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every amount.
const Scale = 2

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrTooPrecise     = errors.New("amount has more than 2 decimal places")
)

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse converts a decimal string (e.g. "12.50") into an amount.
//
// Rules:
//   - Empty or malformed input is rejected
//   - Negative amounts are rejected
//   - More than two fractional digits is rejected rather than rounded
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
		return decimal.Zero, ErrNegativeAmount
	}
	if !d.Equal(d.Truncate(Scale)) {
		return decimal.Zero, ErrTooPrecise
	}
	return d.Truncate(Scale), nil
}

// ParsePositive is Parse plus a strictly-greater-than-zero check.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// MustParse is Parse for constants and tests. It panics on bad input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic("money: " + err.Error() + ": " + s)
	}
	return d
}

// Format renders an amount with exactly two decimal places (e.g. "9950.00").
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// Float returns the amount as float64. Only for risk-context rendering and
// metrics, never for arithmetic.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
