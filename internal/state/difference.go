package state

import "github.com/shopspring/decimal"

// Bounds clamps the floor difference.
type Bounds struct {
	Lower float64
	Upper float64
}

// DefaultBounds is the clamp used when none is configured.
var DefaultBounds = Bounds{Lower: -1e9, Upper: 1e9}

// FloorDifference returns (price-floor)/floor clamped to bounds. A zero
// price is -1 and an unknown (zero) floor is +1; positive means priced above
// the floor.
func FloorDifference(price, floor decimal.Decimal, bounds Bounds) float64 {
	if price.IsZero() {
		return -1
	}
	if floor.IsZero() {
		return 1
	}
	diff, _ := price.Sub(floor).Div(floor).Float64()
	if diff < bounds.Lower {
		return bounds.Lower
	}
	if diff > bounds.Upper {
		return bounds.Upper
	}
	return diff
}
