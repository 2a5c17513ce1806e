package storage

import (
	"context"
	"strings"

	"floorScope/internal/model"
)

// StateStore holds collection floors and highest offers. A missing record
// reads as the zero value without error.
type StateStore interface {
	GetCollectionFloor(ctx context.Context, collection string) (model.CollectionFloor, error)
	SetCollectionFloor(ctx context.Context, floor model.CollectionFloor) error
	GetOffer(ctx context.Context, collection, tokenID string) (model.CollectionOffer, error)
	SetOffer(ctx context.Context, offer model.CollectionOffer) error
}

// EventStore persists finalized canonical events.
type EventStore interface {
	AddNFTEvent(ctx context.Context, event model.CanonicalEvent) error
}

// AlertStore lists alerts and records refreshed wallet holdings.
type AlertStore interface {
	GetAllAlerts(ctx context.Context) ([]model.Alert, error)
	SetAlertTokens(ctx context.Context, id int64, tokens []string) error
}

// Store is implemented by backends that cover every collaborator.
type Store interface {
	StateStore
	EventStore
	AlertStore
}

// MultiEventStore fans an event out to several stores, stopping at the
// first failure.
type MultiEventStore []EventStore

// AddNFTEvent writes event to every store in order.
func (m MultiEventStore) AddNFTEvent(ctx context.Context, event model.CanonicalEvent) error {
	for _, store := range m {
		if store == nil {
			continue
		}
		if err := store.AddNFTEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// CollectionKey normalizes a collection address for use as a key.
func CollectionKey(collection string) string {
	return strings.ToLower(strings.TrimSpace(collection))
}

// OfferKey is the key of a collection or token level offer.
func OfferKey(collection, tokenID string) string {
	return CollectionKey(collection) + "/" + strings.TrimSpace(tokenID)
}
