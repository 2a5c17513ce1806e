package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEmitted tracks canonical events produced per source and type
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorscope_events_emitted_total",
			Help: "Total number of canonical events emitted",
		},
		[]string{"marketplace", "event_type"},
	)

	// ListenerErrors tracks log handler failures per marketplace
	ListenerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorscope_listener_errors_total",
			Help: "Total number of marketplace log handler failures",
		},
		[]string{"marketplace"},
	)

	// ReceiptResolutions tracks receipt lookups by outcome
	ReceiptResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorscope_receipt_resolutions_total",
			Help: "Total number of receipt resolutions by token format",
		},
		[]string{"format"},
	)

	// OrderBookRequests tracks order book calls by result
	OrderBookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorscope_orderbook_requests_total",
			Help: "Total number of order book requests",
		},
		[]string{"result"},
	)

	// StateUpdates tracks floor and offer writes
	StateUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floorscope_state_updates_total",
			Help: "Total number of floor and offer state updates",
		},
		[]string{"kind"},
	)

	// WatchedCollections is the size of the current watch set
	WatchedCollections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floorscope_watched_collections",
			Help: "Number of collections in the current watch set",
		},
	)

	// TimestampCacheEntries is the size of the block timestamp cache
	TimestampCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "floorscope_timestamp_cache_entries",
			Help: "Number of cached block timestamps",
		},
	)
)
