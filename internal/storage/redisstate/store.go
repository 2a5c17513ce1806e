package redisstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"floorScope/internal/model"
	"floorScope/internal/storage"
)

// Store keeps floors and offers in Redis hashes.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// NewStore connects to the Redis instance at url.
func NewStore(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewStoreFromClient(rdb, prefix), nil
}

// NewStoreFromClient wraps an existing client.
func NewStoreFromClient(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "floorscope"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Key helpers
func (s *Store) floorKey(collection string) string {
	return fmt.Sprintf("%s:floor:%s", s.prefix, storage.CollectionKey(collection))
}

func (s *Store) offerKey(collection, tokenID string) string {
	return fmt.Sprintf("%s:offer:%s", s.prefix, storage.OfferKey(collection, tokenID))
}

func (s *Store) GetCollectionFloor(ctx context.Context, collection string) (model.CollectionFloor, error) {
	fields, err := s.rdb.HGetAll(ctx, s.floorKey(collection)).Result()
	if err != nil {
		return model.CollectionFloor{}, fmt.Errorf("hgetall floor: %w", err)
	}
	if len(fields) == 0 {
		return model.CollectionFloor{}, nil
	}
	rec, err := parseRecord(fields)
	if err != nil {
		return model.CollectionFloor{}, fmt.Errorf("floor %s: %w", collection, err)
	}
	return model.CollectionFloor{
		Collection:  storage.CollectionKey(collection),
		Price:       rec.price,
		EndsAt:      rec.endsAt,
		Marketplace: rec.marketplace,
		ObservedAt:  rec.observedAt,
	}, nil
}

func (s *Store) SetCollectionFloor(ctx context.Context, floor model.CollectionFloor) error {
	if storage.CollectionKey(floor.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	values := recordValues(floor.Price, floor.EndsAt, floor.Marketplace, floor.ObservedAt)
	if err := s.rdb.HSet(ctx, s.floorKey(floor.Collection), values).Err(); err != nil {
		return fmt.Errorf("hset floor: %w", err)
	}
	return nil
}

func (s *Store) GetOffer(ctx context.Context, collection, tokenID string) (model.CollectionOffer, error) {
	fields, err := s.rdb.HGetAll(ctx, s.offerKey(collection, tokenID)).Result()
	if err != nil {
		return model.CollectionOffer{}, fmt.Errorf("hgetall offer: %w", err)
	}
	if len(fields) == 0 {
		return model.CollectionOffer{}, nil
	}
	rec, err := parseRecord(fields)
	if err != nil {
		return model.CollectionOffer{}, fmt.Errorf("offer %s/%s: %w", collection, tokenID, err)
	}
	return model.CollectionOffer{
		Collection:  storage.CollectionKey(collection),
		TokenID:     tokenID,
		Price:       rec.price,
		EndsAt:      rec.endsAt,
		Marketplace: rec.marketplace,
		ObservedAt:  rec.observedAt,
	}, nil
}

func (s *Store) SetOffer(ctx context.Context, offer model.CollectionOffer) error {
	if storage.CollectionKey(offer.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	values := recordValues(offer.Price, offer.EndsAt, offer.Marketplace, offer.ObservedAt)
	if err := s.rdb.HSet(ctx, s.offerKey(offer.Collection, offer.TokenID), values).Err(); err != nil {
		return fmt.Errorf("hset offer: %w", err)
	}
	return nil
}

type record struct {
	price       decimal.Decimal
	endsAt      time.Time
	marketplace model.Marketplace
	observedAt  time.Time
}

func recordValues(price decimal.Decimal, endsAt time.Time, marketplace model.Marketplace, observedAt time.Time) map[string]interface{} {
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	return map[string]interface{}{
		"price":       price.String(),
		"ends_at":     strconv.FormatInt(endsAt.Unix(), 10),
		"marketplace": string(marketplace),
		"observed_at": strconv.FormatInt(observedAt.Unix(), 10),
	}
}

func parseRecord(fields map[string]string) (record, error) {
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return record{}, fmt.Errorf("parse price: %w", err)
	}
	endsAt, err := parseUnix(fields["ends_at"])
	if err != nil {
		return record{}, fmt.Errorf("parse ends_at: %w", err)
	}
	observedAt, err := parseUnix(fields["observed_at"])
	if err != nil {
		return record{}, fmt.Errorf("parse observed_at: %w", err)
	}
	return record{
		price:       price,
		endsAt:      endsAt,
		marketplace: model.Marketplace(fields["marketplace"]),
		observedAt:  observedAt,
	}, nil
}

func parseUnix(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
