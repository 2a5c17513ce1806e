package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"floorScope/internal/chain"
	"floorScope/internal/config"
	"floorScope/internal/indexer"
	"floorScope/internal/marketplace"
	"floorScope/internal/model"
	"floorScope/internal/orderbook"
	"floorScope/internal/ownership"
	"floorScope/internal/pipeline"
	"floorScope/internal/receipt"
	"floorScope/internal/state"
	"floorScope/internal/storage"
	"floorScope/internal/storage/postgres"
	"floorScope/internal/storage/redisstate"
	"floorScope/internal/watch"
)

const eventBuffer = 1024

func runFloorscope(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if chainID.String() != cfg.Network {
		logger.Warn("network does not match rpc chain id", zap.String("network", cfg.Network), zap.String("chain_id", chainID.String()))
	}

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	timestamps := chain.NewTimestampCache(chainClient, cfg.TimestampCacheSize, logger)
	resolver, err := receipt.NewResolver(chainClient, timestamps, logger)
	if err != nil {
		return err
	}

	listeners, err := marketplace.Select(marketplace.Deps{
		Network:  cfg.Network,
		Resolver: resolver,
		Logger:   logger,
	}, cfg.Marketplaces)
	if err != nil {
		return err
	}

	var decodeErrs indexer.DecodeErrorSink
	if cfg.DecodeErrors != "" {
		decodeErrs = storage.NewJsonlDecodeErrors(cfg.DecodeErrors)
	}
	runner, err := indexer.NewRunner(indexer.RunConfig{
		Backfill:          cfg.Backfill,
		FromBlock:         cfg.FromBlock,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, chainClient, listeners, decodeErrs, logger)
	if err != nil {
		return err
	}

	engine, err := state.NewEngine(stores.state, state.Bounds{Lower: cfg.FloorDiffLower, Upper: cfg.FloorDiffUpper}, logger)
	if err != nil {
		return err
	}

	set := watch.NewSet()
	scheduler, err := watch.NewScheduler(stores.alerts, holdingsProvider(cfg, logger), set, cfg.WatchPeriod, logger)
	if err != nil {
		return err
	}

	book := orderbook.NewClient(orderbook.ClientConfig{
		BaseURL:    cfg.OrderBookURL,
		RatePerSec: cfg.OrderBookRate,
		Retries:    cfg.OrderBookRetries,
		MaxJitter:  cfg.OrderBookJitter,
	}, logger)
	poller, err := orderbook.NewPoller(book, orderbook.PollerConfig{
		Network:    cfg.Network,
		SliceSize:  cfg.PollSliceSize,
		SliceDelay: cfg.PollSliceDelay,
		SkipAsks:   !cfg.PollAsks,
	}, logger)
	if err != nil {
		return err
	}

	notifications := make(chan model.Notification, eventBuffer)
	consumer, err := pipeline.New(engine, stores.events, set, notifications, logger)
	if err != nil {
		return err
	}

	logger.Info("floorscope start",
		zap.String("network", cfg.Network),
		zap.Int("listeners", len(listeners)),
		zap.String("state_backend", cfg.StateBackend),
		zap.String("pg_dsn", redactSecret(cfg.PGDSN)),
		zap.String("redis_url", redactSecret(cfg.RedisURL)),
		zap.Bool("backfill", cfg.Backfill),
		zap.String("event_log", cfg.EventLog),
		zap.Duration("watch_period", cfg.WatchPeriod),
	)

	events := make(chan model.CanonicalEvent, eventBuffer)
	emit := func(ev model.CanonicalEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return runner.Run(ctx, events) })
	group.Go(func() error { return scheduler.Run(ctx) })
	group.Go(func() error {
		return poller.Run(ctx, orderbook.NewStoreSource(set, stores.state), emit)
	})
	group.Go(func() error { return consumer.Run(ctx, events) })
	group.Go(func() error { return logNotifications(ctx, notifications, logger) })
	if cfg.MetricsAddr != "" {
		group.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, logger) })
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("floorscope stopped")
		return nil
	}
	return err
}

type backends struct {
	state  storage.StateStore
	alerts storage.AlertStore
	events storage.EventStore
	closer []func()
}

func (s *backends) close() {
	for i := len(s.closer) - 1; i >= 0; i-- {
		s.closer[i]()
	}
}

// openStores picks the state backend. Alerts and events live in Postgres
// whenever a DSN is configured, otherwise in memory.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	out := &backends{}
	memory := storage.NewMemoryStore()
	out.state, out.alerts, out.events = memory, memory, memory

	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		out.closer = append(out.closer, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			out.close()
			return nil, err
		}
		out.alerts, out.events = pg, pg
		if cfg.StateBackend == config.BackendPostgres {
			out.state = pg
		}
	}

	if cfg.StateBackend == config.BackendRedis {
		rs, err := redisstate.NewStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			out.close()
			return nil, err
		}
		out.closer = append(out.closer, func() {
			if err := rs.Close(); err != nil {
				logger.Warn("close redis", zap.Error(err))
			}
		})
		out.state = rs
	}

	if cfg.EventLog != "" {
		out.events = storage.MultiEventStore{out.events, storage.NewJsonlEventLog(cfg.EventLog)}
	}
	return out, nil
}

func holdingsProvider(cfg config.Config, logger *zap.Logger) *ownership.Cascade {
	var providers []ownership.Provider
	if cfg.AlchemyKey != "" {
		providers = append(providers, ownership.NewAlchemy(cfg.AlchemyURL, cfg.AlchemyKey, 0))
	}
	if cfg.MoralisKey != "" {
		providers = append(providers, ownership.NewMoralis(cfg.MoralisURL, cfg.MoralisKey, "", 0))
	}
	if len(providers) == 0 {
		logger.Warn("no ownership provider configured, wallet alerts keep their stored tokens")
	}
	return ownership.NewCascade(logger, providers...)
}

// logNotifications drains finalized events bound for watchers. Delivery to
// users happens outside this process.
func logNotifications(ctx context.Context, notifications <-chan model.Notification, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-notifications:
			logger.Info("notify",
				zap.String("event_id", n.Event.ID.String()),
				zap.String("event_type", string(n.Event.Type)),
				zap.String("collection", n.Event.Collection),
				zap.Int("watchers", len(n.Watchers)),
			)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return ctx.Err()
}

func redactSecret(value string) string {
	if value == "" {
		return value
	}
	return "***"
}
