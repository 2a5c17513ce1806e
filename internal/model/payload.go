package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Payload is the event-type specific part of a CanonicalEvent.
type Payload interface {
	payloadKind() string
}

// OrderPayload describes an open offer or listing.
type OrderPayload struct {
	Price          decimal.Decimal `json:"price"`
	Maker          string          `json:"maker,omitempty"`
	StartsAt       *time.Time      `json:"starts_at,omitempty"`
	EndsAt         *time.Time      `json:"ends_at,omitempty"`
	Amount         *int64          `json:"amount,omitempty"`
	IsNewFloor     bool            `json:"is_new_floor,omitempty"`
	IsHighestOffer bool            `json:"is_highest_offer,omitempty"`
}

// TradePayload describes an accepted offer or ask.
type TradePayload struct {
	Price  decimal.Decimal  `json:"price"`
	Buyer  string           `json:"buyer,omitempty"`
	Seller string           `json:"seller,omitempty"`
	Gas    *decimal.Decimal `json:"gas,omitempty"`
	Amount *int64           `json:"amount,omitempty"`
}

// AuctionPayload describes a reserve auction lifecycle step.
type AuctionPayload struct {
	Price     decimal.Decimal `json:"price"`
	AuctionID string          `json:"auction_id"`
	Seller    string          `json:"seller,omitempty"`
	Bidder    string          `json:"bidder,omitempty"`
	EndsAt    *time.Time      `json:"ends_at,omitempty"`
}

// CancelPayload describes a cancelled order. It carries no price.
type CancelPayload struct {
	Maker string `json:"maker,omitempty"`
}

func (OrderPayload) payloadKind() string   { return "order" }
func (TradePayload) payloadKind() string   { return "trade" }
func (AuctionPayload) payloadKind() string { return "auction" }
func (CancelPayload) payloadKind() string  { return "cancel" }

// PayloadFor returns an empty payload of the kind used by eventType.
func PayloadFor(eventType EventType) (Payload, error) {
	switch eventType {
	case EventOffer, EventListing:
		return OrderPayload{}, nil
	case EventAcceptOffer, EventAcceptAsk:
		return TradePayload{}, nil
	case EventCreateAuction, EventPlaceBid, EventSettleAuction:
		return AuctionPayload{}, nil
	case EventCancelOrder:
		return CancelPayload{}, nil
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
}

// UnmarshalJSON restores the concrete payload type from event_type.
func (e *CanonicalEvent) UnmarshalJSON(data []byte) error {
	type Alias CanonicalEvent
	aux := struct {
		*Alias
		Payload json.RawMessage `json:"payload"`
	}{Alias: (*Alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	empty, err := PayloadFor(e.Type)
	if err != nil {
		return err
	}
	if len(aux.Payload) == 0 || string(aux.Payload) == "null" {
		e.Payload = empty
		return nil
	}

	switch empty.(type) {
	case OrderPayload:
		var p OrderPayload
		err = json.Unmarshal(aux.Payload, &p)
		e.Payload = p
	case TradePayload:
		var p TradePayload
		err = json.Unmarshal(aux.Payload, &p)
		e.Payload = p
	case AuctionPayload:
		var p AuctionPayload
		err = json.Unmarshal(aux.Payload, &p)
		e.Payload = p
	case CancelPayload:
		var p CancelPayload
		err = json.Unmarshal(aux.Payload, &p)
		e.Payload = p
	}
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
