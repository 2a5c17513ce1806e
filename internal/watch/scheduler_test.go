package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorScope/internal/model"
	"floorScope/internal/ownership"
	"floorScope/internal/storage"
)

type fakeHoldings struct {
	byAddress map[string][]string
	failing   map[string]bool
	calls     []string
}

func (f *fakeHoldings) GetAddressNFTs(_ context.Context, address string) ([]string, error) {
	f.calls = append(f.calls, address)
	if f.failing[address] {
		return nil, errors.New("provider down")
	}
	return f.byAddress[address], nil
}

func TestBuildWatchSet(t *testing.T) {
	alerts := []model.Alert{
		{ID: 1, Kind: model.AlertWallet, Address: "0xw1", UserID: "u1", Tokens: []string{"0xAAA/1", "0xaaa/2", "0xbbb/3"}},
		{ID: 2, Kind: model.AlertCollection, Address: "0xAAA", ServerID: "s1"},
		{ID: 3, Kind: model.AlertWallet, Address: "0xw2", Tokens: []string{"/9", ""}},
	}

	got := Build(alerts)

	require.Len(t, got, 2)
	assert.Equal(t, []model.Watcher{{AlertID: 1, UserID: "u1"}, {AlertID: 2, ServerID: "s1"}}, got["0xaaa"])
	assert.Equal(t, []model.Watcher{{AlertID: 1, UserID: "u1"}}, got["0xbbb"])
}

func TestSetSnapshots(t *testing.T) {
	set := NewSet()
	assert.Equal(t, 0, set.Len())
	assert.False(t, set.Watched("0xaaa"))

	set.Replace(map[string][]model.Watcher{"0xBBB": {{AlertID: 1}}, "0xaaa": {{AlertID: 2}}, "0xccc": nil})
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, set.Collections())
	assert.True(t, set.Watched("0xBbB"))

	watchers := set.Watchers("0xbbb")
	watchers[0].AlertID = 99
	assert.Equal(t, int64(1), set.Watchers("0xbbb")[0].AlertID, "callers get copies")
}

func TestRefreshOnceSyncsStaleWallets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)
	old := now.Add(-time.Hour)

	store := storage.NewMemoryStore()
	store.PutAlert(model.Alert{ID: 1, Kind: model.AlertWallet, Address: "0xnew"})
	store.PutAlert(model.Alert{ID: 2, Kind: model.AlertWallet, Address: "0xfresh", SyncedAt: &fresh, Tokens: []string{"0xccc/1"}})
	store.PutAlert(model.Alert{ID: 3, Kind: model.AlertWallet, Address: "0xold", SyncedAt: &old, Tokens: []string{"0xddd/1"}})
	store.PutAlert(model.Alert{ID: 4, Kind: model.AlertWallet, Address: "0xbroken", Tokens: []string{"0xeee/1"}})
	store.PutAlert(model.Alert{ID: 5, Kind: model.AlertCollection, Address: "0xfff"})

	holdings := &fakeHoldings{
		byAddress: map[string][]string{"0xnew": {"0xaaa/1"}, "0xold": {"0xbbb/2"}},
		failing:   map[string]bool{"0xbroken": true},
	}
	set := NewSet()
	scheduler, err := NewScheduler(store, holdings, set, 5*time.Minute, nil)
	require.NoError(t, err)
	scheduler.now = func() time.Time { return now }

	require.NoError(t, scheduler.RefreshOnce(ctx))

	assert.ElementsMatch(t, []string{"0xnew", "0xold", "0xbroken"}, holdings.calls)
	assert.Equal(t, []string{"0xaaa", "0xbbb", "0xccc", "0xeee", "0xfff"}, set.Collections())

	alerts, err := store.GetAllAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xbbb/2"}, alerts[2].Tokens)
	assert.NotNil(t, alerts[0].SyncedAt)
	assert.Nil(t, alerts[3].SyncedAt, "failed lookups are not marked synced")
}

type downProvider struct{}

func (downProvider) Name() string { return "down" }

func (downProvider) GetAddressNFTs(context.Context, string) ([]string, error) {
	return nil, errors.New("503 service unavailable")
}

func TestRefreshOnceKeepsHoldingsDuringProviderOutage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.PutAlert(model.Alert{ID: 1, Kind: model.AlertWallet, Address: "0xw1", Tokens: []string{"0xaaa/1"}})

	for name, holdings := range map[string]Holdings{
		"all providers down":     ownership.NewCascade(nil, downProvider{}, downProvider{}),
		"no provider configured": ownership.NewCascade(nil),
	} {
		t.Run(name, func(t *testing.T) {
			set := NewSet()
			scheduler, err := NewScheduler(store, holdings, set, 5*time.Minute, nil)
			require.NoError(t, err)

			require.NoError(t, scheduler.RefreshOnce(ctx))

			assert.Equal(t, []string{"0xaaa"}, set.Collections())
			alerts, err := store.GetAllAlerts(ctx)
			require.NoError(t, err)
			require.Len(t, alerts, 1)
			assert.Equal(t, []string{"0xaaa/1"}, alerts[0].Tokens)
			assert.Nil(t, alerts[0].SyncedAt)
		})
	}
}

type failingAlerts struct{ storage.AlertStore }

func (failingAlerts) GetAllAlerts(context.Context) ([]model.Alert, error) {
	return nil, errors.New("db down")
}

func TestRefreshOnceKeepsPreviousSetOnStoreFailure(t *testing.T) {
	set := NewSet()
	set.Replace(map[string][]model.Watcher{"0xaaa": {{AlertID: 1}}})
	scheduler, err := NewScheduler(failingAlerts{}, &fakeHoldings{}, set, 0, nil)
	require.NoError(t, err)

	assert.Error(t, scheduler.RefreshOnce(context.Background()))
	assert.Equal(t, []string{"0xaaa"}, set.Collections())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := storage.NewMemoryStore()
	store.PutAlert(model.Alert{ID: 1, Kind: model.AlertCollection, Address: "0xaaa"})
	set := NewSet()
	scheduler, err := NewScheduler(store, &fakeHoldings{}, set, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	require.Eventually(t, func() bool { return set.Len() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
