// Package money centralizes the fixed-precision decimal conventions used
// across the trading core: prices, quantities and balances are carried as
// decimal.Decimal end to end, never as floating binary.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale for monetary and quantity fields (4 fractional digits, per spec §4.A).
const MoneyScale = 4

// Scale for FX rates (6-8 fractional digits; 8 is used throughout this repo).
const FXScale = 8

// Zero is the canonical zero value, exported so callers don't repeatedly
// call decimal.Zero in hot paths.
var Zero = decimal.Zero

// Parse constructs a Decimal from its external string representation. All
// externally supplied numeric fields must cross the boundary this way
// rather than via float64, per spec §4.A.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: invalid decimal string %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse but panics on error; reserved for literal constants in
// tests and fixtures, never for externally supplied data.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// RoundQuantityDown truncates a quantity towards zero at MoneyScale digits.
// Used whenever a sizing calculation must never over-order (spec §4.A).
func RoundQuantityDown(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(MoneyScale)
}

// RoundQuantityDownTo truncates a quantity to an arbitrary precision, used
// by the Signal→Order converter's configurable quantity_precision.
func RoundQuantityDownTo(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Truncate(precision)
}

// RoundMoneyHalfEven rounds a monetary sum using banker's rounding at
// MoneyScale digits, per spec §4.A ("ROUND_HALF_EVEN for monetary
// summations").
func RoundMoneyHalfEven(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// RoundPriceTo rounds a price to an arbitrary precision using banker's
// rounding, used by the Signal→Order converter's price_precision.
func RoundPriceTo(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.RoundBank(precision)
}

// ParseFXRate parses an FX-rate field at FXScale precision and validates it
// is strictly positive (spec §3 Trade invariant: fx_rate>0).
func ParseFXRate(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("money: fx rate must be positive, got %s", d)
	}
	return d, nil
}

// IsZero reports whether d is exactly zero; shorthand for
// d.Equal(decimal.Zero).
func IsZero(d decimal.Decimal) bool {
	return d.Equal(decimal.Zero)
}
