// Package units converts between human denominations and wei.
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const GweiDecimals = 9

// ToWei parses a decimal amount expressed with the given number of decimals
// ("50000" MATIC with 18 decimals, "20.5" gwei with 9) into base units.
func ToWei(amount string, decimals int32) (*big.Int, error) {
	if amount == "" {
		return new(big.Int), nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", amount)
	}
	return d.Shift(decimals).BigInt(), nil
}

// MustToWei is ToWei for constants known to be valid.
func MustToWei(amount string, decimals int32) *big.Int {
	v, err := ToWei(amount, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// GweiToWei converts a gwei amount to wei.
func GweiToWei(gwei string) (*big.Int, error) {
	return ToWei(gwei, GweiDecimals)
}

// FromWei formats a base-unit amount with the given decimals.
func FromWei(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// WeiToGwei returns v in gwei as a float, for metrics and logs only.
func WeiToGwei(v *big.Int) float64 {
	f, _ := FromWei(v, GweiDecimals).Float64()
	return f
}
