package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the decimal exponent of the settlement token (cUSD).
const TokenDecimals int32 = 18

// DisplayPlaces is the number of fractional digits shown to users.
const DisplayPlaces int32 = 2

// ErrInvalidAmount is returned when a human-entered amount cannot be converted to base units.
var ErrInvalidAmount = errors.New("invalid amount")

// ToDisplay scales a base-unit amount down by 10^decimals and renders it with
// DisplayPlaces fractional digits, rounding half away from zero.
// A nil amount renders as zero.
func ToDisplay(baseUnits *big.Int, decimals int32) string {
	if baseUnits == nil {
		return decimal.Zero.StringFixed(DisplayPlaces)
	}
	return decimal.NewFromBigInt(baseUnits, -decimals).StringFixed(DisplayPlaces)
}

// ToBaseUnits converts a human amount ("12.5") into base units by scaling up by 10^decimals.
// The amount must be positive and must not carry more precision than the token supports.
func ToBaseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, amount, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: %q must be positive", ErrInvalidAmount, amount)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q exceeds %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	return scaled.BigInt(), nil
}
