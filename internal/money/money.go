// Package money converts between the integer minor units used by the ledger
// and the exact decimal representation used on the wire.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kittybank/kitty/internal/apperr"
)

// Amount is a wire amount. It decodes from a JSON number or string and
// encodes as a decimal string so no precision is lost in transit.
type Amount struct {
	decimal.Decimal
}

// FromMinor wraps a minor-unit integer.
func FromMinor(v int64) Amount {
	return Amount{Decimal: decimal.NewFromInt(v)}
}

// Minor returns the amount as an integer number of minor units.
func (a Amount) Minor() (int64, error) {
	if !a.IsInteger() {
		return 0, fmt.Errorf("amount %s has a fractional part: %w", a.String(), apperr.ErrInvalidAmount)
	}
	if !a.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range: %w", a.String(), apperr.ErrInvalidAmount)
	}
	return a.IntPart(), nil
}

// Positive is Minor with a strictly positive check.
func (a Amount) Positive() (int64, error) {
	v, err := a.Minor()
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("amount %d: %w", v, apperr.ErrInvalidAmount)
	}
	return v, nil
}

// MarshalJSON always renders a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Decimal.String())
}

// Format renders minor units as a decimal string.
func Format(v int64) string {
	return decimal.NewFromInt(v).String()
}

// FormatPtr renders an optional amount, nil stays nil.
func FormatPtr(v *int64) *string {
	if v == nil {
		return nil
	}
	s := Format(*v)
	return &s
}
