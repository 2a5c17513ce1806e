package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"floorScope/internal/model"
)

// MemoryStore keeps all state in process. It backs tests and single-process
// runs without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	floors map[string]model.CollectionFloor
	offers map[string]model.CollectionOffer
	events []model.CanonicalEvent
	alerts map[int64]model.Alert
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		floors: make(map[string]model.CollectionFloor),
		offers: make(map[string]model.CollectionOffer),
		alerts: make(map[int64]model.Alert),
		now:    time.Now,
	}
}

func (s *MemoryStore) GetCollectionFloor(_ context.Context, collection string) (model.CollectionFloor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.floors[CollectionKey(collection)], nil
}

func (s *MemoryStore) SetCollectionFloor(_ context.Context, floor model.CollectionFloor) error {
	key := CollectionKey(floor.Collection)
	if key == "" {
		return fmt.Errorf("collection is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	floor.Collection = key
	s.floors[key] = floor
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, collection, tokenID string) (model.CollectionOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offers[OfferKey(collection, tokenID)], nil
}

func (s *MemoryStore) SetOffer(_ context.Context, offer model.CollectionOffer) error {
	if CollectionKey(offer.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	offer.Collection = CollectionKey(offer.Collection)
	s.offers[OfferKey(offer.Collection, offer.TokenID)] = offer
	return nil
}

func (s *MemoryStore) AddNFTEvent(_ context.Context, event model.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of every stored event in insertion order.
func (s *MemoryStore) Events() []model.CanonicalEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CanonicalEvent, len(s.events))
	copy(out, s.events)
	return out
}

// PutAlert inserts or replaces an alert.
func (s *MemoryStore) PutAlert(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = alert
}

func (s *MemoryStore) GetAllAlerts(_ context.Context) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		alert.Tokens = append([]string(nil), alert.Tokens...)
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SetAlertTokens(_ context.Context, id int64, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %d not found", id)
	}
	synced := s.now().UTC()
	alert.Tokens = append([]string(nil), tokens...)
	alert.SyncedAt = &synced
	s.alerts[id] = alert
	return nil
}
