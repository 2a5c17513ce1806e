package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"floorScope/internal/model"
	"floorScope/internal/storage"
)

// Store provides Postgres persistence for floors, offers, events and alerts.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS collection_floors (
	collection  TEXT PRIMARY KEY,
	price       NUMERIC NOT NULL,
	ends_at     TIMESTAMPTZ NOT NULL,
	marketplace TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS collection_offers (
	collection  TEXT NOT NULL,
	token_id    TEXT NOT NULL DEFAULT '',
	price       NUMERIC NOT NULL,
	ends_at     TIMESTAMPTZ NOT NULL,
	marketplace TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, token_id)
);
CREATE TABLE IF NOT EXISTS nft_events (
	id               UUID PRIMARY KEY,
	event_type       TEXT NOT NULL,
	marketplace      TEXT NOT NULL,
	network          TEXT NOT NULL,
	collection       TEXT NOT NULL,
	token_id         TEXT NOT NULL DEFAULT '',
	transaction_hash TEXT,
	order_hash       TEXT,
	price            NUMERIC,
	floor_difference DOUBLE PRECISION,
	occurred_at      TIMESTAMPTZ NOT NULL,
	body             JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS nft_events_collection_idx ON nft_events (collection, occurred_at);
CREATE TABLE IF NOT EXISTS alerts (
	id        BIGSERIAL PRIMARY KEY,
	kind      TEXT NOT NULL,
	address   TEXT NOT NULL,
	tokens    TEXT[] NOT NULL DEFAULT '{}',
	user_id   TEXT NOT NULL DEFAULT '',
	server_id TEXT NOT NULL DEFAULT '',
	synced_at TIMESTAMPTZ
);
`

// EnsureSchema creates the tables the store needs if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetCollectionFloor returns the stored floor, or the zero value if none.
func (s *Store) GetCollectionFloor(ctx context.Context, collection string) (model.CollectionFloor, error) {
	key := storage.CollectionKey(collection)
	var (
		price       string
		marketplace string
		floor       = model.CollectionFloor{Collection: key}
	)
	row := s.pool.QueryRow(ctx, `
		SELECT price::text, ends_at, marketplace, observed_at
		FROM collection_floors WHERE collection=$1
	`, key)
	if err := row.Scan(&price, &floor.EndsAt, &marketplace, &floor.ObservedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CollectionFloor{}, nil
		}
		return model.CollectionFloor{}, fmt.Errorf("get floor %s: %w", key, err)
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return model.CollectionFloor{}, fmt.Errorf("parse floor price %q: %w", price, err)
	}
	floor.Price = parsed
	floor.Marketplace = model.Marketplace(marketplace)
	return floor, nil
}

// SetCollectionFloor upserts the floor of a collection.
func (s *Store) SetCollectionFloor(ctx context.Context, floor model.CollectionFloor) error {
	key := storage.CollectionKey(floor.Collection)
	if key == "" {
		return fmt.Errorf("collection is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collection_floors (collection, price, ends_at, marketplace, observed_at, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5, now())
		ON CONFLICT (collection) DO UPDATE SET
			price = EXCLUDED.price,
			ends_at = EXCLUDED.ends_at,
			marketplace = EXCLUDED.marketplace,
			observed_at = EXCLUDED.observed_at,
			updated_at = now()
	`, key, floor.Price.String(), floor.EndsAt.UTC(), string(floor.Marketplace), observedAt(floor.ObservedAt))
	if err != nil {
		return fmt.Errorf("set floor %s: %w", key, err)
	}
	return nil
}

// GetOffer returns the stored highest offer, or the zero value if none.
func (s *Store) GetOffer(ctx context.Context, collection, tokenID string) (model.CollectionOffer, error) {
	key := storage.CollectionKey(collection)
	var (
		price       string
		marketplace string
		offer       = model.CollectionOffer{Collection: key, TokenID: tokenID}
	)
	row := s.pool.QueryRow(ctx, `
		SELECT price::text, ends_at, marketplace, observed_at
		FROM collection_offers WHERE collection=$1 AND token_id=$2
	`, key, tokenID)
	if err := row.Scan(&price, &offer.EndsAt, &marketplace, &offer.ObservedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CollectionOffer{}, nil
		}
		return model.CollectionOffer{}, fmt.Errorf("get offer %s/%s: %w", key, tokenID, err)
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return model.CollectionOffer{}, fmt.Errorf("parse offer price %q: %w", price, err)
	}
	offer.Price = parsed
	offer.Marketplace = model.Marketplace(marketplace)
	return offer, nil
}

// SetOffer upserts the highest offer of a collection or token.
func (s *Store) SetOffer(ctx context.Context, offer model.CollectionOffer) error {
	key := storage.CollectionKey(offer.Collection)
	if key == "" {
		return fmt.Errorf("collection is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collection_offers (collection, token_id, price, ends_at, marketplace, observed_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, now())
		ON CONFLICT (collection, token_id) DO UPDATE SET
			price = EXCLUDED.price,
			ends_at = EXCLUDED.ends_at,
			marketplace = EXCLUDED.marketplace,
			observed_at = EXCLUDED.observed_at,
			updated_at = now()
	`, key, offer.TokenID, offer.Price.String(), offer.EndsAt.UTC(), string(offer.Marketplace), observedAt(offer.ObservedAt))
	if err != nil {
		return fmt.Errorf("set offer %s/%s: %w", key, offer.TokenID, err)
	}
	return nil
}

// AddNFTEvent stores one finalized event.
func (s *Store) AddNFTEvent(ctx context.Context, event model.CanonicalEvent) error {
	return s.AddNFTEvents(ctx, []model.CanonicalEvent{event})
}

// AddNFTEvents inserts events in one batch. Re-inserting an event id is a no-op.
func (s *Store) AddNFTEvents(ctx context.Context, events []model.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		var price *string
		if p, ok := ev.Price(); ok {
			v := p.String()
			price = &v
		}
		var floorDifference *float64
		if ev.Valuation != nil {
			v := ev.Valuation.FloorDifference
			floorDifference = &v
		}
		batch.Queue(`
			INSERT INTO nft_events (
				id, event_type, marketplace, network, collection, token_id,
				transaction_hash, order_hash, price, floor_difference, occurred_at, body, created_at
			) VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9::numeric,$10,$11,$12::jsonb,now())
			ON CONFLICT (id) DO NOTHING
		`,
			ev.ID.String(),
			string(ev.Type),
			string(ev.Marketplace),
			ev.Network,
			storage.CollectionKey(ev.Collection),
			ev.TokenID,
			nullable(ev.TransactionHash),
			nullable(ev.OrderHash),
			price,
			floorDifference,
			ev.Timestamp.UTC(),
			string(body),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

// GetAllAlerts lists every alert ordered by id.
func (s *Store) GetAllAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, address, tokens, user_id, server_id, synced_at
		FROM alerts ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			alert model.Alert
			kind  string
		)
		if err := rows.Scan(&alert.ID, &kind, &alert.Address, &alert.Tokens, &alert.UserID, &alert.ServerID, &alert.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Kind = model.AlertKind(kind)
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// SetAlertTokens replaces the holdings of an alert and stamps its sync time.
func (s *Store) SetAlertTokens(ctx context.Context, id int64, tokens []string) error {
	if tokens == nil {
		tokens = []string{}
	}
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET tokens=$2, synced_at=now() WHERE id=$1`, id, tokens)
	if err != nil {
		return fmt.Errorf("set alert tokens %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %d not found", id)
	}
	return nil
}

func observedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
