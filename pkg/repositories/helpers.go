package repositories

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// nullString returns nil if the string is empty, otherwise the string pointer.
// Empty optional text columns are stored as NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// decStr renders a decimal for a numeric column parameter.
func decStr(d decimal.Decimal) string {
	return d.String()
}

// nullDecStr renders an optional decimal, NULL when absent.
func nullDecStr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// parseDec converts a scanned numeric column back into a decimal.
func parseDec(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	return d, nil
}

// parseNullDec converts a scanned nullable numeric column.
func parseNullDec(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDec(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
