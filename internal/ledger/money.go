// Package ledger provides decimal money arithmetic shared by every
// money-moving operation. All amounts are shopspring decimals, never
// float64.
package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MinUnit is the smallest representable amount of currency (one cent).
var MinUnit = decimal.New(1, -2)

// Zero is the zero amount.
var Zero = decimal.Zero

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrNotFinite      = errors.New("amount must be finite")
)

// Parse converts a string into a validated non-negative amount,
// quantized to cents.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return d.Round(2), nil
}

// FromFloat converts a float into a validated non-negative amount.
// NaN and infinities are rejected rather than silently truncated.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrNotFinite
	}
	if f < 0 {
		return decimal.Zero, ErrNegativeAmount
	}
	return decimal.NewFromFloat(f).Round(2), nil
}

// SplitFee divides a gross amount into (net, fee) where fee is
// gross × feePct rounded down to cents. net + fee == gross exactly.
func SplitFee(gross decimal.Decimal, feePct decimal.Decimal) (net, fee decimal.Decimal) {
	fee = gross.Mul(feePct).RoundDown(2)
	net = gross.Sub(fee)
	return net, fee
}

// ClampNonNegative floors an amount at zero.
func ClampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// CanAfford reports whether balance covers cost.
func CanAfford(balance, cost decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(cost)
}

// ClampNeed bounds a need value to the [0, 100] range.
func ClampNeed(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
