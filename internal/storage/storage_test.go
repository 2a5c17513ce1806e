package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorScope/internal/model"
)

func TestMemoryStoreFloorAndOffer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	missing, err := s.GetCollectionFloor(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, missing.Price.IsZero())

	endsAt := time.Now().Add(time.Hour)
	require.NoError(t, s.SetCollectionFloor(ctx, model.CollectionFloor{
		Collection: "0xABC",
		Price:      decimal.RequireFromString("1.5"),
		EndsAt:     endsAt,
	}))
	floor, err := s.GetCollectionFloor(ctx, " 0xabc")
	require.NoError(t, err)
	assert.True(t, floor.Price.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "0xabc", floor.Collection)

	require.NoError(t, s.SetOffer(ctx, model.CollectionOffer{Collection: "0xABC", TokenID: "7", Price: decimal.NewFromInt(2), EndsAt: endsAt}))
	offer, err := s.GetOffer(ctx, "0xabc", "7")
	require.NoError(t, err)
	assert.True(t, offer.Price.Equal(decimal.NewFromInt(2)))

	collectionOffer, err := s.GetOffer(ctx, "0xabc", "")
	require.NoError(t, err)
	assert.True(t, collectionOffer.Price.IsZero(), "token offers must not leak into the collection offer")

	assert.Error(t, s.SetCollectionFloor(ctx, model.CollectionFloor{}))
}

func TestMemoryStoreAlerts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	synced := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return synced }

	s.PutAlert(model.Alert{ID: 2, Kind: model.AlertWallet, Address: "0xw"})
	s.PutAlert(model.Alert{ID: 1, Kind: model.AlertCollection, Address: "0xc"})

	require.NoError(t, s.SetAlertTokens(ctx, 2, []string{"0xc/1"}))
	assert.Error(t, s.SetAlertTokens(ctx, 9, nil))

	alerts, err := s.GetAllAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, int64(1), alerts[0].ID)
	assert.Equal(t, []string{"0xc/1"}, alerts[1].Tokens)
	require.NotNil(t, alerts[1].SyncedAt)
	assert.Equal(t, synced, *alerts[1].SyncedAt)
}

func TestJsonlEventLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	log := NewJsonlEventLog(path)

	offer := model.NewEvent(model.EventOffer, model.MarketplaceLooksRare, "1", model.OrderPayload{Price: decimal.RequireFromString("0.9"), IsHighestOffer: true})
	offer.Collection = "0xabc"
	cancel := model.NewEvent(model.EventCancelOrder, model.MarketplaceX2Y2, "1", model.CancelPayload{Maker: "0xm"})

	require.NoError(t, log.AddNFTEvent(context.Background(), offer))
	require.NoError(t, log.AddNFTEvent(context.Background(), cancel))

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	order, ok := events[0].Order()
	require.True(t, ok)
	assert.True(t, order.IsHighestOffer)
	assert.Equal(t, offer.ID, events[0].ID)
	_, ok = events[1].Payload.(model.CancelPayload)
	assert.True(t, ok)
}

func TestJsonlDecodeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	sink := NewJsonlDecodeErrors(path)

	lg := types.Log{Topics: []common.Hash{common.HexToHash("0x01")}, BlockNumber: 5}
	require.NoError(t, sink.PutDecodeErrors([]model.DecodeError{
		model.DecodeErrorFromLog(model.MarketplaceRarible, lg, errors.New("boom")),
	}))
	require.NoError(t, sink.PutDecodeErrors(nil))
	assert.FileExists(t, path)
}

type failingStore struct{ calls int }

func (f *failingStore) AddNFTEvent(context.Context, model.CanonicalEvent) error {
	f.calls++
	return errors.New("down")
}

func TestMultiEventStoreStopsOnFailure(t *testing.T) {
	mem := NewMemoryStore()
	failing := &failingStore{}
	after := NewMemoryStore()

	err := MultiEventStore{mem, failing, after}.AddNFTEvent(context.Background(), model.CanonicalEvent{})
	assert.Error(t, err)
	assert.Len(t, mem.Events(), 1)
	assert.Empty(t, after.Events())
}
