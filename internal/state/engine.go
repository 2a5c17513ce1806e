package state

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"floorScope/internal/metrics"
	"floorScope/internal/model"
	"floorScope/internal/storage"
)

// DefaultOpenOrderTTL is how long an order without an end time is kept live.
const DefaultOpenOrderTTL = 7 * 24 * time.Hour

// Engine decides floor and offer updates for each canonical event and
// attaches the floor valuation. It must be driven by a single goroutine so
// the read and write for one event are not interleaved with another.
type Engine struct {
	store   storage.StateStore
	bounds  Bounds
	openTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine builds an Engine over store.
func NewEngine(store storage.StateStore, bounds Bounds, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is nil")
	}
	if bounds.Lower >= bounds.Upper {
		return nil, fmt.Errorf("invalid floor difference bounds [%v, %v]", bounds.Lower, bounds.Upper)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   store,
		bounds:  bounds,
		openTTL: DefaultOpenOrderTTL,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Process returns ev with its valuation attached, updating stored state when
// the event moves the floor or the highest offer. On a store failure the
// event is returned unvalued together with the error.
func (e *Engine) Process(ctx context.Context, ev model.CanonicalEvent) (model.CanonicalEvent, error) {
	if ev.Type == model.EventCancelOrder {
		return ev, nil
	}
	now := e.now()

	floor, err := e.floor(ctx, ev.Collection)
	if err != nil {
		return ev, err
	}

	switch ev.Type {
	case model.EventOffer:
		return e.offer(ctx, ev, floor, now)
	case model.EventListing:
		return e.listing(ctx, ev, floor, now)
	default:
		price, _ := ev.Price()
		ev.Valuation = e.valuation(price, floor.Current(now), nil)
		return ev, nil
	}
}

func (e *Engine) floor(ctx context.Context, collection string) (model.CollectionFloor, error) {
	if collection == "" {
		return model.CollectionFloor{}, nil
	}
	floor, err := e.store.GetCollectionFloor(ctx, collection)
	if err != nil {
		return model.CollectionFloor{}, fmt.Errorf("get floor %s: %w", collection, err)
	}
	return floor, nil
}

func (e *Engine) offer(ctx context.Context, ev model.CanonicalEvent, floor model.CollectionFloor, now time.Time) (model.CanonicalEvent, error) {
	order, ok := ev.Order()
	if !ok {
		return ev, fmt.Errorf("offer event %s has %T payload", ev.ID, ev.Payload)
	}

	highest := order.IsHighestOffer
	if ev.Collection != "" {
		stored, err := e.store.GetOffer(ctx, ev.Collection, ev.TokenID)
		if err != nil {
			return ev, fmt.Errorf("get offer %s/%s: %w", ev.Collection, ev.TokenID, err)
		}
		highest = highest || order.Price.GreaterThan(stored.Price) || stored.Expired(now)

		if highest {
			next := model.CollectionOffer{
				Collection:  ev.Collection,
				TokenID:     ev.TokenID,
				Price:       order.Price,
				EndsAt:      e.endsAt(order.EndsAt, now),
				Marketplace: ev.Marketplace,
				ObservedAt:  now,
			}
			if err := e.store.SetOffer(ctx, next); err != nil {
				return ev, fmt.Errorf("set offer %s/%s: %w", ev.Collection, ev.TokenID, err)
			}
			metrics.StateUpdates.WithLabelValues("offer").Inc()
			e.logger.Debug("highest offer updated",
				zap.String("collection", ev.Collection),
				zap.String("token_id", ev.TokenID),
				zap.String("price", order.Price.String()),
				zap.String("marketplace", string(ev.Marketplace)),
			)
		}
	}

	order.IsHighestOffer = highest
	ev.Payload = order
	ev.Valuation = e.valuation(order.Price, floor.Current(now), &highest)
	return ev, nil
}

func (e *Engine) listing(ctx context.Context, ev model.CanonicalEvent, floor model.CollectionFloor, now time.Time) (model.CanonicalEvent, error) {
	order, ok := ev.Order()
	if !ok {
		return ev, fmt.Errorf("listing event %s has %T payload", ev.ID, ev.Payload)
	}

	endsAt := e.endsAt(order.EndsAt, now)
	// TODO: confirm with marketplace owners whether the first clause should
	// OR its conditions instead of ANDing them.
	update := (order.IsNewFloor && !endsAt.Equal(floor.EndsAt) && !order.Price.Equal(floor.Price)) ||
		floor.Price.IsZero() ||
		order.Price.LessThan(floor.Price) ||
		!floor.EndsAt.After(now)

	if update && ev.Collection != "" {
		next := model.CollectionFloor{
			Collection:  ev.Collection,
			Price:       order.Price,
			EndsAt:      endsAt,
			Marketplace: ev.Marketplace,
			ObservedAt:  now,
		}
		if err := e.store.SetCollectionFloor(ctx, next); err != nil {
			return ev, fmt.Errorf("set floor %s: %w", ev.Collection, err)
		}
		metrics.StateUpdates.WithLabelValues("floor").Inc()
		e.logger.Debug("collection floor updated",
			zap.String("collection", ev.Collection),
			zap.String("previous", floor.Price.String()),
			zap.String("price", order.Price.String()),
		)
	}

	ev.Valuation = e.valuation(order.Price, floor.Current(now), nil)
	return ev, nil
}

func (e *Engine) endsAt(endsAt *time.Time, now time.Time) time.Time {
	if endsAt == nil || endsAt.IsZero() {
		return now.Add(e.openTTL).UTC()
	}
	return endsAt.UTC()
}

func (e *Engine) valuation(price, floor decimal.Decimal, highest *bool) *model.Valuation {
	return &model.Valuation{
		CollectionFloor: floor,
		FloorDifference: FloorDifference(price, floor, e.bounds),
		IsHighestOffer:  highest,
	}
}
