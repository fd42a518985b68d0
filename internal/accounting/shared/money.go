package shared

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is an amount in integer minor currency units read from JSON.
// Fractional or negative values are rejected at decode time.
type MinorUnits int64

// UnmarshalJSON accepts a JSON number or numeric string holding whole minor units.
func (m *MinorUnits) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*m = 0
		return nil
	}
	value, err := ParseMinorUnits("amount", raw)
	if err != nil {
		return err
	}
	*m = MinorUnits(value)
	return nil
}

// MarshalJSON writes the amount as a JSON integer.
func (m MinorUnits) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(m))
}

// ParseMinorUnits parses a decimal string that must be a non-negative integer.
func ParseMinorUnits(field, raw string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, Invalid(field, "must be numeric")
	}
	if d.IsNegative() {
		return 0, Invalid(field, "must not be negative")
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, Invalid(field, "must be whole minor units")
	}
	if !d.LessThanOrEqual(decimal.NewFromInt(MaxMinorUnits)) {
		return 0, Invalid(field, "is too large")
	}
	return d.IntPart(), nil
}

// FormatMajor renders minor units as a two-decimal major-unit string.
func FormatMajor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// MaxMinorUnits is the largest amount accepted, the float64-exact range
// JSON clients can represent.
const MaxMinorUnits = 1<<53 - 1
