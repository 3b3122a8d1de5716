package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits money is stored and rendered with.
const MoneyScale = 20

// ParseMoney parses an exact decimal string such as "0.0000015".
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return d, nil
}

// MustParseMoney is ParseMoney for compile-time constants.
func MustParseMoney(s string) decimal.Decimal {
	d, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatMoney renders an amount with exactly MoneyScale fractional digits.
// Digits beyond the scale are truncated, never rounded.
func FormatMoney(d decimal.Decimal) string {
	return d.Truncate(MoneyScale).StringFixed(MoneyScale)
}
