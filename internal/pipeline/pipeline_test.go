package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorScope/internal/model"
	"floorScope/internal/state"
	"floorScope/internal/storage"
	"floorScope/internal/watch"
)

type failingEngine struct{}

func (failingEngine) Process(_ context.Context, ev model.CanonicalEvent) (model.CanonicalEvent, error) {
	return ev, errors.New("state store down")
}

func listing(collection, price string) model.CanonicalEvent {
	ends := time.Now().Add(time.Hour)
	ev := model.NewEvent(model.EventListing, model.MarketplaceOpenSea, "1", model.OrderPayload{
		Price:      decimal.RequireFromString(price),
		EndsAt:     &ends,
		IsNewFloor: true,
	})
	ev.Collection = collection
	return ev
}

func newSet(collections ...string) *watch.Set {
	watchers := make(map[string][]model.Watcher)
	for i, c := range collections {
		watchers[c] = []model.Watcher{{AlertID: int64(i + 1)}}
	}
	set := watch.NewSet()
	set.Replace(watchers)
	return set
}

func TestPipelineValuesPersistsAndNotifiesWatched(t *testing.T) {
	store := storage.NewMemoryStore()
	engine, err := state.NewEngine(store, state.DefaultBounds, nil)
	require.NoError(t, err)

	notify := make(chan model.Notification, 4)
	p, err := New(engine, store, newSet("0xaaa"), notify, nil)
	require.NoError(t, err)

	in := make(chan model.CanonicalEvent, 2)
	in <- listing("0xaaa", "1.5")
	in <- listing("0xbbb", "2")
	close(in)

	require.NoError(t, p.Run(context.Background(), in))

	events := store.Events()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.NotNil(t, ev.Valuation)
	}

	require.Len(t, notify, 1)
	n := <-notify
	assert.Equal(t, "0xaaa", n.Event.Collection)
	assert.Equal(t, []model.Watcher{{AlertID: 1}}, n.Watchers)
}

func TestPipelinePersistsWhenEngineFails(t *testing.T) {
	store := storage.NewMemoryStore()
	notify := make(chan model.Notification, 1)
	p, err := New(failingEngine{}, store, newSet("0xaaa"), notify, nil)
	require.NoError(t, err)

	require.NoError(t, p.Handle(context.Background(), listing("0xaaa", "1")))
	assert.Len(t, store.Events(), 1)
	assert.Len(t, notify, 1)
}

func TestPipelineStopsOnCancel(t *testing.T) {
	store := storage.NewMemoryStore()
	p, err := New(failingEngine{}, store, newSet(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Run(ctx, make(chan model.CanonicalEvent)), context.Canceled)
}

func TestNewValidates(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := New(nil, store, newSet(), nil, nil)
	assert.Error(t, err)
	_, err = New(failingEngine{}, nil, newSet(), nil, nil)
	assert.Error(t, err)
}
