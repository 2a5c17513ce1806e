package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType is the canonical action kind shared by every marketplace.
type EventType string

const (
	EventOffer         EventType = "offer"
	EventListing       EventType = "listing"
	EventAcceptOffer   EventType = "acceptOffer"
	EventAcceptAsk     EventType = "acceptAsk"
	EventCancelOrder   EventType = "cancelOrder"
	EventCreateAuction EventType = "createAuction"
	EventPlaceBid      EventType = "placeBid"
	EventSettleAuction EventType = "settleAuction"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventOffer, EventListing, EventAcceptOffer, EventAcceptAsk,
		EventCancelOrder, EventCreateAuction, EventPlaceBid, EventSettleAuction:
		return true
	default:
		return false
	}
}

// Marketplace identifies the venue an event came from.
type Marketplace string

const (
	MarketplaceOpenSea    Marketplace = "opensea"
	MarketplaceLooksRare  Marketplace = "looksrare"
	MarketplaceRarible    Marketplace = "rarible"
	MarketplaceFoundation Marketplace = "foundation"
	MarketplaceX2Y2       Marketplace = "x2y2"
)

// Standard is the token standard of the traded item.
type Standard string

const (
	StandardUnknown Standard = "unknown"
	StandardERC721  Standard = "ERC721"
	StandardERC1155 Standard = "ERC1155"
)

// CanonicalEvent is the normalized marketplace action. The common core is
// filled by the producer, Payload carries the fields specific to Type, and
// Valuation is attached once by the state engine.
type CanonicalEvent struct {
	ID              uuid.UUID   `json:"id"`
	Type            EventType   `json:"event_type"`
	Marketplace     Marketplace `json:"marketplace"`
	Network         string      `json:"network"`
	Collection      string      `json:"collection"`
	TokenID         string      `json:"token_id,omitempty"`
	Standard        Standard    `json:"standard"`
	TransactionHash string      `json:"transaction_hash,omitempty"`
	OrderHash       string      `json:"order_hash,omitempty"`
	Initiator       string      `json:"initiator,omitempty"`
	MetadataURI     string      `json:"metadata_uri,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
	Payload         Payload     `json:"payload"`
	Valuation       *Valuation  `json:"valuation,omitempty"`
}

// NewEvent builds an event with a fresh id and the given core fields.
func NewEvent(eventType EventType, marketplace Marketplace, network string, payload Payload) CanonicalEvent {
	return CanonicalEvent{
		ID:          uuid.New(),
		Type:        eventType,
		Marketplace: marketplace,
		Network:     network,
		Standard:    StandardUnknown,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
}

// Price returns the payload price, if the payload carries one.
func (e CanonicalEvent) Price() (decimal.Decimal, bool) {
	switch p := e.Payload.(type) {
	case OrderPayload:
		return p.Price, true
	case TradePayload:
		return p.Price, true
	case AuctionPayload:
		return p.Price, true
	default:
		return decimal.Zero, false
	}
}

// Order returns the order payload for offer and listing events.
func (e CanonicalEvent) Order() (OrderPayload, bool) {
	p, ok := e.Payload.(OrderPayload)
	return p, ok
}

// WithReceipt copies the resolved receipt fields into the event core. Fields
// already set by the producer are kept.
func (e CanonicalEvent) WithReceipt(info ReceiptInfo) CanonicalEvent {
	if !info.Timestamp.IsZero() {
		e.Timestamp = info.Timestamp
	}
	if e.Initiator == "" {
		e.Initiator = info.Initiator
	}
	if e.Collection == "" {
		e.Collection = info.Collection
	}
	if e.TokenID == "" {
		e.TokenID = info.TokenID
	}
	if info.Standard != "" && (e.Standard == "" || e.Standard == StandardUnknown) {
		e.Standard = info.Standard
	}
	if e.MetadataURI == "" {
		e.MetadataURI = info.MetadataURI
	}
	if trade, ok := e.Payload.(TradePayload); ok && trade.Gas == nil && info.Gas != nil {
		gas := *info.Gas
		trade.Gas = &gas
		e.Payload = trade
	}
	return e
}

// Valuation is the floor context the state engine attaches to an event.
type Valuation struct {
	CollectionFloor decimal.Decimal `json:"collection_floor"`
	FloorDifference float64         `json:"floor_difference"`
	IsHighestOffer  *bool           `json:"is_highest_offer,omitempty"`
}
