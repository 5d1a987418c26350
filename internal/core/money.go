// Package core holds the domain entities of the shared-household ledger and
// the money parsing rules every entry point goes through.
//
// Amounts are decimal.Decimal with two-digit precision. They are never held
// or summed as binary floats; storage persists the canonical string form.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-supplied decimal string to a 2-digit decimal.
//
// It accepts both dot (12.34) and comma (12,34) separators and rounds
// half-up on the third decimal place. Only strictly positive amounts are
// valid; signs, empty strings and malformed numbers return ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35 (rounds up)
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only positive values allowed
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount with exactly two decimals using the
// configured separator ("." or ",").
func FormatAmount(d decimal.Decimal, sep string) string {
	s := d.StringFixed(2)
	if sep != "" && sep != "." {
		s = strings.Replace(s, ".", sep, 1)
	}
	return s
}

// SumPrices adds up the prices of the given expense items.
func SumPrices(items []ExpenseItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}
	return total
}
