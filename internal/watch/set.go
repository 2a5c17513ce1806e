package watch

import (
	"sort"
	"sync/atomic"

	"floorScope/internal/model"
	"floorScope/internal/storage"
)

// Set publishes the current collection to watchers snapshot. Snapshots are
// replaced whole and never patched.
type Set struct {
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	watchers    map[string][]model.Watcher
	collections []string
}

func NewSet() *Set {
	s := &Set{}
	s.Replace(nil)
	return s
}

// Replace publishes a new snapshot.
func (s *Set) Replace(watchers map[string][]model.Watcher) {
	snap := &snapshot{
		watchers:    make(map[string][]model.Watcher, len(watchers)),
		collections: make([]string, 0, len(watchers)),
	}
	for collection, list := range watchers {
		key := storage.CollectionKey(collection)
		if key == "" || len(list) == 0 {
			continue
		}
		snap.watchers[key] = append(snap.watchers[key], list...)
	}
	for collection := range snap.watchers {
		snap.collections = append(snap.collections, collection)
	}
	sort.Strings(snap.collections)
	s.current.Store(snap)
}

// Watchers returns the watchers of collection.
func (s *Set) Watchers(collection string) []model.Watcher {
	list := s.current.Load().watchers[storage.CollectionKey(collection)]
	return append([]model.Watcher(nil), list...)
}

// Watched reports whether any alert watches collection.
func (s *Set) Watched(collection string) bool {
	return len(s.current.Load().watchers[storage.CollectionKey(collection)]) > 0
}

// Collections returns the distinct watched collections in order.
func (s *Set) Collections() []string {
	return append([]string(nil), s.current.Load().collections...)
}

// Len returns the number of watched collections.
func (s *Set) Len() int {
	return len(s.current.Load().collections)
}

// Build maps every collection referenced by alerts to its watchers. Wallet
// alerts contribute the collections of their tokens, collection alerts their
// own address.
func Build(alerts []model.Alert) map[string][]model.Watcher {
	out := make(map[string][]model.Watcher)
	for _, alert := range alerts {
		seen := make(map[string]struct{})
		add := func(collection string) {
			if collection == "" {
				return
			}
			if _, ok := seen[collection]; ok {
				return
			}
			seen[collection] = struct{}{}
			out[collection] = append(out[collection], model.WatcherOf(alert))
		}

		switch alert.Kind {
		case model.AlertCollection:
			add(storage.CollectionKey(alert.Address))
		case model.AlertWallet:
			for _, token := range alert.Tokens {
				add(model.TokenCollection(token))
			}
		}
	}
	return out
}
