package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"floorScope/internal/model"
	"floorScope/internal/storage"
)

// Processor values an event against floor and offer state.
type Processor interface {
	Process(ctx context.Context, ev model.CanonicalEvent) (model.CanonicalEvent, error)
}

// Watchers resolves the alerts interested in a collection.
type Watchers interface {
	Watchers(collection string) []model.Watcher
}

// Pipeline is the single consumer of canonical events. Every event is
// valued, persisted, and then announced to watchers of its collection.
type Pipeline struct {
	engine   Processor
	events   storage.EventStore
	watchers Watchers
	notify   chan<- model.Notification
	logger   *zap.Logger
}

// New builds a Pipeline. notify may be nil when nothing consumes
// notifications.
func New(engine Processor, events storage.EventStore, watchers Watchers, notify chan<- model.Notification, logger *zap.Logger) (*Pipeline, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event store is nil")
	}
	if watchers == nil {
		return nil, fmt.Errorf("watch set is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		engine:   engine,
		events:   events,
		watchers: watchers,
		notify:   notify,
		logger:   logger,
	}, nil
}

// Run consumes in until it is closed or ctx is done.
func (p *Pipeline) Run(ctx context.Context, in <-chan model.CanonicalEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.Handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Handle finalizes one event. State and persistence failures are logged and
// never stop the stream; only context cancellation is returned.
func (p *Pipeline) Handle(ctx context.Context, ev model.CanonicalEvent) error {
	final, err := p.engine.Process(ctx, ev)
	if err != nil {
		p.logger.Warn("state update failed",
			zap.String("event_id", ev.ID.String()),
			zap.String("event_type", string(ev.Type)),
			zap.String("collection", ev.Collection),
			zap.Error(err),
		)
	}

	if err := p.events.AddNFTEvent(ctx, final); err != nil {
		p.logger.Error("persist event failed",
			zap.String("event_id", final.ID.String()),
			zap.String("tx", final.TransactionHash),
			zap.Error(err),
		)
	}

	if p.notify == nil {
		return ctx.Err()
	}
	watchers := p.watchers.Watchers(final.Collection)
	if len(watchers) == 0 {
		return ctx.Err()
	}

	select {
	case p.notify <- model.Notification{Event: final, Watchers: watchers}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
