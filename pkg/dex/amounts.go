package dex

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a human decimal amount into base units.
// Negative values and more fractional digits than decimals are rejected.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, amount, decimals)
	}

	return scaled.BigInt(), nil
}

// FormatUnits renders base units as a human decimal string
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// ValidSlippage reports whether slippagePercent is a finite value in 0..100
func ValidSlippage(slippagePercent float64) bool {
	if math.IsNaN(slippagePercent) || math.IsInf(slippagePercent, 0) {
		return false
	}
	return slippagePercent >= 0 && slippagePercent <= 100
}

// MinimumOut applies slippage to an expected output:
// floor(expected * (100 - slippage) / 100) in base units.
func MinimumOut(expected *big.Int, slippagePercent float64) (*big.Int, error) {
	if !ValidSlippage(slippagePercent) {
		return nil, fmt.Errorf("%w: slippage %v outside 0..100", ErrInvalidParams, slippagePercent)
	}
	if expected == nil || expected.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	keep := decimal.NewFromInt(100).Sub(decimal.NewFromFloat(slippagePercent))
	minOut := decimal.NewFromBigInt(expected, 0).Mul(keep).Shift(-2).Floor()

	return minOut.BigInt(), nil
}
