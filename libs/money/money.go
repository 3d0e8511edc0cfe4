// Package money holds the decimal helpers shared by pricing, payments and
// payroll. Amounts are VND-style decimals rounded to two places.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	Zero    = decimal.Zero
	Hundred = decimal.NewFromInt(100)
)

// Round2 rounds to two decimal places, half to even. Amounts shown on
// invoices were historically computed this way.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// Parse reads a decimal from user or database text. Empty input is zero.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// FromText is Parse for values that came out of a numeric::text column.
func FromText(s string) decimal.Decimal {
	d, _ := Parse(s)
	return d
}

// FromNullText maps a nullable numeric::text column.
func FromNullText(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(FromText(*s))
}

// Percent returns d * pct / 100.
func Percent(d, pct decimal.Decimal) decimal.Decimal {
	return d.Mul(pct).Div(Hundred)
}

func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// NonNegative returns max(d, 0).
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// ParsePercentLabel reads labels like "150%" or "150" into 150.
func ParsePercentLabel(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
