package model

import (
	"strings"
	"time"
)

// AlertKind distinguishes wallet watches from collection watches.
type AlertKind string

const (
	AlertWallet     AlertKind = "wallet"
	AlertCollection AlertKind = "collection"
)

// Alert is a user or server subscription owned by the persistence layer.
// Tokens holds "collection/tokenId" identifiers for wallet alerts.
type Alert struct {
	ID       int64      `json:"id"`
	Kind     AlertKind  `json:"kind"`
	Address  string     `json:"address"`
	Tokens   []string   `json:"tokens,omitempty"`
	UserID   string     `json:"user_id,omitempty"`
	ServerID string     `json:"server_id,omitempty"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// Watcher references the alert interested in a collection.
type Watcher struct {
	AlertID  int64  `json:"alert_id"`
	UserID   string `json:"user_id,omitempty"`
	ServerID string `json:"server_id,omitempty"`
}

// WatcherOf returns the watcher reference for an alert.
func WatcherOf(alert Alert) Watcher {
	return Watcher{AlertID: alert.ID, UserID: alert.UserID, ServerID: alert.ServerID}
}

// TokenCollection returns the collection part of a "collection/tokenId" id.
func TokenCollection(token string) string {
	collection, _, _ := strings.Cut(token, "/")
	return strings.ToLower(strings.TrimSpace(collection))
}

// Notification pairs a finalized event with the watchers interested in it.
type Notification struct {
	Event    CanonicalEvent `json:"event"`
	Watchers []Watcher      `json:"watchers"`
}
