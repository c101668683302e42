// Package money converts integer minor units to and from decimal amounts.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid_amount")

var hundred = decimal.NewFromInt(100)

// Decimal returns cents as a two-place decimal amount.
func Decimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format renders cents as "$62.50". Currencies other than USD are prefixed
// with their upper-cased ISO code.
func Format(cents int64, currency string) string {
	amount := Decimal(cents).StringFixed(2)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch currency {
	case "", "USD":
		if cents < 0 {
			return "-$" + strings.TrimPrefix(amount, "-")
		}
		return "$" + amount
	default:
		return currency + " " + amount
	}
}

// ParseCents parses "62.50" into 6250, rounding half away from zero.
func ParseCents(raw string) (int64, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return value.Mul(hundred).Round(0).IntPart(), nil
}

// Fraction returns cents multiplied by ratio, rounded half away from zero.
func Fraction(cents int64, ratio decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(ratio).Round(0).IntPart()
}
