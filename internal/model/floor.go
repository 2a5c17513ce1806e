package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollectionFloor is the lowest live listing known for a collection.
type CollectionFloor struct {
	Collection  string          `json:"collection"`
	Price       decimal.Decimal `json:"price"`
	EndsAt      time.Time       `json:"ends_at"`
	Marketplace Marketplace     `json:"marketplace"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// Live reports whether the floor listing has not expired at now.
func (f CollectionFloor) Live(now time.Time) bool {
	return f.Price.Sign() > 0 && f.EndsAt.After(now)
}

// Current returns the floor price, or zero if the listing expired.
func (f CollectionFloor) Current(now time.Time) decimal.Decimal {
	if !f.Live(now) {
		return decimal.Zero
	}
	return f.Price
}

// CollectionOffer is the highest live bid for a collection or token. A zero
// price with EndsAt in the past means no offer is known.
type CollectionOffer struct {
	Collection  string          `json:"collection"`
	TokenID     string          `json:"token_id,omitempty"`
	Price       decimal.Decimal `json:"price"`
	EndsAt      time.Time       `json:"ends_at"`
	Marketplace Marketplace     `json:"marketplace"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// Expired reports whether the offer is no longer valid at now.
func (o CollectionOffer) Expired(now time.Time) bool {
	return !o.EndsAt.After(now)
}

// Current returns the offer price, or zero if the offer expired.
func (o CollectionOffer) Current(now time.Time) decimal.Decimal {
	if o.Expired(now) {
		return decimal.Zero
	}
	return o.Price
}
