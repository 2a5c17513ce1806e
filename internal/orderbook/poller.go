package orderbook

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"floorScope/internal/metrics"
	"floorScope/internal/model"
	"floorScope/internal/storage"
)

const (
	DefaultSliceSize  = 60
	DefaultSliceDelay = 60 * time.Second
)

// OrderBook answers top-of-book queries for a collection.
type OrderBook interface {
	TopBid(ctx context.Context, collection string) (*Order, error)
	LowestAsk(ctx context.Context, collection string) (*Order, error)
}

// CollectionState is what the poller knows about a collection before a pass.
type CollectionState struct {
	HighestOffer decimal.Decimal
	OfferEndsAt  time.Time
	Floor        decimal.Decimal
	FloorEndsAt  time.Time
	Watchers     []model.Watcher
}

// StateSource builds the collection map for one polling pass.
type StateSource func(ctx context.Context) (map[string]CollectionState, error)

// PollerConfig holds poller settings.
type PollerConfig struct {
	Network    string
	SliceSize  int
	SliceDelay time.Duration
	// SkipAsks disables the lowest-ask query.
	SkipAsks bool
}

// Poller walks the watched collections and emits top-of-book orders.
type Poller struct {
	book       OrderBook
	network    string
	sliceSize  int
	sliceDelay time.Duration
	skipAsks   bool
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

func NewPoller(book OrderBook, cfg PollerConfig, logger *zap.Logger) (*Poller, error) {
	if book == nil {
		return nil, fmt.Errorf("order book is nil")
	}
	if cfg.SliceSize <= 0 {
		cfg.SliceSize = DefaultSliceSize
	}
	if cfg.SliceDelay < 0 {
		return nil, fmt.Errorf("slice delay must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		book:       book,
		network:    cfg.Network,
		sliceSize:  cfg.SliceSize,
		sliceDelay: cfg.SliceDelay,
		skipAsks:   cfg.SkipAsks,
		logger:     logger,
		sleep:      sleepContext,
		now:        time.Now,
	}, nil
}

// Run polls until ctx is done, rebuilding the collection map before each pass.
func (p *Poller) Run(ctx context.Context, source StateSource, emit func(model.CanonicalEvent)) error {
	for {
		collections, err := source(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("build poll set failed", zap.Error(err))
			collections = nil
		}

		if err := p.PollCollectionOffers(ctx, collections, emit); err != nil {
			return err
		}

		// An empty pass still waits so an unwatched process does not spin.
		if err := p.sleep(ctx, p.sliceDelay); err != nil {
			return err
		}
	}
}

// PollCollectionOffers queries every collection once, sliceSize at a time,
// pausing between slices. Failures are logged per collection.
func (p *Poller) PollCollectionOffers(ctx context.Context, collections map[string]CollectionState, emit func(model.CanonicalEvent)) error {
	keys := make([]string, 0, len(collections))
	for collection := range collections {
		keys = append(keys, collection)
	}
	sort.Strings(keys)

	for start := 0; start < len(keys); start += p.sliceSize {
		end := start + p.sliceSize
		if end > len(keys) {
			end = len(keys)
		}
		for _, collection := range keys[start:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			state := collections[collection]
			if err := p.pollBid(ctx, collection, state, emit); err != nil {
				p.logger.Warn("poll top bid failed", zap.String("collection", collection), zap.Error(err))
			}
			if p.skipAsks {
				continue
			}
			if err := p.pollAsk(ctx, collection, state, emit); err != nil {
				p.logger.Warn("poll lowest ask failed", zap.String("collection", collection), zap.Error(err))
			}
		}

		if end < len(keys) {
			p.logger.Debug("poll slice done", zap.Int("done", end), zap.Int("total", len(keys)))
			if err := p.sleep(ctx, p.sliceDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Poller) pollBid(ctx context.Context, collection string, state CollectionState, emit func(model.CanonicalEvent)) error {
	order, err := p.book.TopBid(ctx, collection)
	if err != nil || order == nil {
		return err
	}
	price, ok := order.PriceWei()
	if !ok {
		return fmt.Errorf("invalid bid price %q", order.Price)
	}

	expired := !state.OfferEndsAt.After(p.now())
	if price.Cmp(model.ToWei(state.HighestOffer)) <= 0 && !expired {
		return nil
	}

	ev := p.orderEvent(model.EventOffer, collection, order, price)
	// The top bid is tracked per collection, the same key NewStoreSource reads.
	ev.TokenID = ""
	payload := ev.Payload.(model.OrderPayload)
	payload.IsHighestOffer = true
	ev.Payload = payload
	emit(ev)
	return nil
}

func (p *Poller) pollAsk(ctx context.Context, collection string, state CollectionState, emit func(model.CanonicalEvent)) error {
	order, err := p.book.LowestAsk(ctx, collection)
	if err != nil || order == nil {
		return err
	}
	price, ok := order.PriceWei()
	if !ok {
		return fmt.Errorf("invalid ask price %q", order.Price)
	}

	floor := model.ToWei(state.Floor)
	expired := !state.FloorEndsAt.After(p.now())
	if floor.Sign() > 0 && price.Cmp(floor) >= 0 && !expired {
		return nil
	}

	ev := p.orderEvent(model.EventListing, collection, order, price)
	payload := ev.Payload.(model.OrderPayload)
	payload.IsNewFloor = true
	ev.Payload = payload
	emit(ev)
	return nil
}

func (p *Poller) orderEvent(eventType model.EventType, collection string, order *Order, price *big.Int) model.CanonicalEvent {
	payload := model.OrderPayload{
		Price: model.FromWei(price),
		Maker: model.NormalizeAddress(order.Signer),
	}
	if order.StartTime > 0 {
		startsAt := time.Unix(order.StartTime, 0).UTC()
		payload.StartsAt = &startsAt
	}
	if order.EndTime > 0 {
		endsAt := time.Unix(order.EndTime, 0).UTC()
		payload.EndsAt = &endsAt
	}
	if order.Amount > 0 {
		amount := order.Amount
		payload.Amount = &amount
	}

	ev := model.NewEvent(eventType, model.MarketplaceLooksRare, p.network, payload)
	ev.Collection = model.NormalizeAddress(collection)
	ev.TokenID = strings.TrimSpace(order.TokenID)
	ev.OrderHash = order.Hash
	ev.Initiator = payload.Maker
	ev.Timestamp = p.now().UTC()
	metrics.EventsEmitted.WithLabelValues(string(ev.Marketplace), string(ev.Type)).Inc()
	return ev
}

// WatchedCollections lists the collections to poll.
type WatchedCollections interface {
	Collections() []string
	Watchers(collection string) []model.Watcher
}

// NewStoreSource joins the watch set with stored floor and offer state.
// Collection-level offers are stored under an empty token id.
func NewStoreSource(watched WatchedCollections, store storage.StateStore) StateSource {
	return func(ctx context.Context) (map[string]CollectionState, error) {
		collections := watched.Collections()
		out := make(map[string]CollectionState, len(collections))
		for _, collection := range collections {
			floor, err := store.GetCollectionFloor(ctx, collection)
			if err != nil {
				return nil, fmt.Errorf("get floor %s: %w", collection, err)
			}
			offer, err := store.GetOffer(ctx, collection, "")
			if err != nil {
				return nil, fmt.Errorf("get offer %s: %w", collection, err)
			}
			out[collection] = CollectionState{
				HighestOffer: offer.Price,
				OfferEndsAt:  offer.EndsAt,
				Floor:        floor.Price,
				FloorEndsAt:  floor.EndsAt,
				Watchers:     watched.Watchers(collection),
			}
		}
		return out, nil
	}
}
