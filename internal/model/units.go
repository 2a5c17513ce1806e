package model

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of decimals of the chain's native token.
const NativeDecimals = 18

// FromWei converts an integer wei amount into native units.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -NativeDecimals)
}

// ToWei converts native units into an integer wei amount, truncating any
// precision below one wei.
func ToWei(value decimal.Decimal) *big.Int {
	return value.Shift(NativeDecimals).Truncate(0).BigInt()
}

// NormalizeAddress lowercases an address for use as a map or storage key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
