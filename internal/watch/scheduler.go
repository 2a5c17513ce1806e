package watch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"floorScope/internal/metrics"
	"floorScope/internal/model"
	"floorScope/internal/storage"
)

// DefaultPeriod is the refresh interval of the watch set.
const DefaultPeriod = 5 * time.Minute

// Holdings resolves a wallet to its "collection/tokenId" ids.
type Holdings interface {
	GetAddressNFTs(ctx context.Context, address string) ([]string, error)
}

// Scheduler refreshes stale wallet alerts and rebuilds the watch set.
type Scheduler struct {
	alerts   storage.AlertStore
	holdings Holdings
	set      *Set
	period   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewScheduler(alerts storage.AlertStore, holdings Holdings, set *Set, period time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if alerts == nil {
		return nil, fmt.Errorf("alert store is nil")
	}
	if holdings == nil {
		return nil, fmt.Errorf("holdings provider is nil")
	}
	if set == nil {
		return nil, fmt.Errorf("watch set is nil")
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		alerts:   alerts,
		holdings: holdings,
		set:      set,
		period:   period,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run refreshes immediately and then once per period until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		if err := s.RefreshOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("watch set refresh failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshOnce syncs stale wallet alerts and publishes a rebuilt watch set.
// A failed wallet keeps its previous tokens.
func (s *Scheduler) RefreshOnce(ctx context.Context) error {
	alerts, err := s.alerts.GetAllAlerts(ctx)
	if err != nil {
		return fmt.Errorf("get alerts: %w", err)
	}

	now := s.now()
	refreshed := 0
	for i, alert := range alerts {
		if alert.Kind != model.AlertWallet || !s.stale(alert, now) {
			continue
		}
		tokens, err := s.holdings.GetAddressNFTs(ctx, alert.Address)
		if err != nil {
			s.logger.Warn("wallet holdings lookup failed", zap.Int64("alert_id", alert.ID), zap.String("address", alert.Address), zap.Error(err))
			continue
		}
		if err := s.alerts.SetAlertTokens(ctx, alert.ID, tokens); err != nil {
			s.logger.Warn("persist wallet holdings failed", zap.Int64("alert_id", alert.ID), zap.Error(err))
			continue
		}
		alerts[i].Tokens = tokens
		synced := now
		alerts[i].SyncedAt = &synced
		refreshed++
	}

	s.set.Replace(Build(alerts))
	metrics.WatchedCollections.Set(float64(s.set.Len()))
	s.logger.Info("watch set rebuilt",
		zap.Int("alerts", len(alerts)),
		zap.Int("wallets_refreshed", refreshed),
		zap.Int("collections", s.set.Len()),
	)
	return nil
}

func (s *Scheduler) stale(alert model.Alert, now time.Time) bool {
	return alert.SyncedAt == nil || now.Sub(*alert.SyncedAt) > s.period
}
