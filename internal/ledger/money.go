package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultMaxBalance caps any wallet at one billion dollars in cents.
const DefaultMaxBalance = int64(100_000_000_000)

// ParseAmount converts a decimal string ("250.00") into positive minor units.
// At most two decimal places are accepted; conversion rounds half-up, which
// after the precision check only normalizes trailing zeros.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a decimal number", ErrValidation, s)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("%w: amount %q has more than 2 decimal places", ErrValidation, s)
	}
	cents := d.Round(2).Shift(2)
	if !cents.IsInteger() || !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrValidation, s)
	}
	n := cents.IntPart()
	if n <= 0 || n > DefaultMaxBalance {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrValidation, s)
	}
	return n, nil
}

// FormatAmount renders minor units back as a two-decimal string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
