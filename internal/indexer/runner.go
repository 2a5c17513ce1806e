package indexer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"floorScope/internal/chain"
	"floorScope/internal/marketplace"
	"floorScope/internal/metrics"
	"floorScope/internal/model"
)

const (
	defaultSeenSize   = 100_000
	defaultMaxBackoff = time.Minute
	logBuffer         = 256
)

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	// Backfill replays history from FromBlock (or the checkpoint) before
	// subscribing.
	Backfill          bool
	FromBlock         uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	MaxBackoff        time.Duration
	SeenSize          int
}

// LogSource is the chain access the runner needs.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// DecodeErrorSink receives listener failures.
type DecodeErrorSink interface {
	PutDecodeErrors(errs []model.DecodeError) error
}

// Runner feeds contract logs to the marketplace listeners and forwards the
// resulting canonical events.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	listeners  []marketplace.Listener
	byAddress  map[common.Address]marketplace.Listener
	decodeErrs DecodeErrorSink
	logger     *zap.Logger
	seen       *lru.Cache[string, struct{}]
	progress   *Progress
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a Runner with its dependencies. decodeErrs may be nil.
func NewRunner(cfg RunConfig, source LogSource, listeners []marketplace.Listener, decodeErrs DecodeErrorSink, logger *zap.Logger) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if len(listeners) == 0 {
		return nil, fmt.Errorf("at least one listener is required")
	}
	if cfg.Backfill && cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if cfg.SeenSize <= 0 {
		cfg.SeenSize = defaultSeenSize
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byAddress := make(map[common.Address]marketplace.Listener, len(listeners))
	for _, l := range listeners {
		if _, ok := byAddress[l.Address()]; ok {
			return nil, fmt.Errorf("duplicate listener for %s", l.Address().Hex())
		}
		byAddress[l.Address()] = l
	}

	seen, err := lru.New[string, struct{}](cfg.SeenSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}

	return &Runner{
		cfg:        cfg,
		source:     source,
		listeners:  listeners,
		byAddress:  byAddress,
		decodeErrs: decodeErrs,
		logger:     logger,
		seen:       seen,
		progress:   NewProgress(cfg.CheckpointPath, cfg.CheckpointEnabled),
		sleep:      sleepContext,
	}, nil
}

// Run backfills when configured, then streams live logs into out until ctx
// is done. Blocks mined between the backfill and the subscriptions coming up
// are fetched by a second catch-up pass once every stream is subscribed.
func (r *Runner) Run(ctx context.Context, out chan<- model.CanonicalEvent) error {
	if r.cfg.Backfill {
		if err := r.Backfill(ctx, out); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
	} else if err := r.progress.StartLive(); err != nil {
		r.logger.Warn("save checkpoint failed", zap.Error(err))
	}

	ready := make(chan struct{}, len(r.listeners))
	group, ctx := errgroup.WithContext(ctx)
	for _, l := range r.listeners {
		l := l
		group.Go(func() error {
			return r.subscribe(ctx, l, out, ready)
		})
	}
	if r.cfg.Backfill {
		group.Go(func() error {
			return r.fillGap(ctx, out, ready)
		})
	}
	return group.Wait()
}

func (r *Runner) fillGap(ctx context.Context, out chan<- model.CanonicalEvent, ready <-chan struct{}) error {
	for range r.listeners {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}
	if err := r.Backfill(ctx, out); err != nil {
		return fmt.Errorf("backfill gap: %w", err)
	}
	if err := r.progress.StartLive(); err != nil {
		r.logger.Warn("save checkpoint failed", zap.Error(err))
	}
	return nil
}

// Backfill replays historical logs up to the latest block in batches,
// recording progress after each batch. It resumes after the recorded
// position, or at FromBlock when that is further ahead.
func (r *Runner) Backfill(ctx context.Context, out chan<- model.CanonicalEvent) error {
	latest, err := r.latestWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}

	from, err := r.progress.Next(r.cfg.FromBlock)
	if err != nil {
		return err
	}
	if from != r.cfg.FromBlock {
		r.logger.Info("resume from checkpoint", zap.Uint64("from", from))
	}
	if from == 0 || from > latest {
		r.logger.Info("nothing to backfill", zap.Uint64("from", from), zap.Uint64("to", latest))
		return nil
	}

	spans, err := CatchUp(from, latest, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	addresses, topics := r.filter()
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}

		logs, err := r.filterLogsWithRetry(ctx, chain.RangeQuery(span.From, span.To, addresses, topics))
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}
		sort.SliceStable(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		for _, lg := range logs {
			l, ok := r.byAddress[lg.Address]
			if !ok {
				continue
			}
			if err := r.dispatch(ctx, l, lg, out); err != nil {
				return err
			}
		}

		if err := r.progress.Complete(span.To); err != nil {
			return err
		}
		r.logger.Info("backfill batch complete", zap.Int("logs", len(logs)), zap.Uint64("from", span.From), zap.Uint64("to", span.To))
	}
	return nil
}

// subscribe keeps a live log subscription for one listener, reconnecting
// with exponential backoff when it drops. ready gets one value after the
// first successful subscribe.
func (r *Runner) subscribe(ctx context.Context, l marketplace.Listener, out chan<- model.CanonicalEvent, ready chan<- struct{}) error {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{l.Address()},
		Topics:    [][]common.Hash{l.Topics()},
	}
	logger := r.logger.With(zap.String("marketplace", string(l.Marketplace())))
	delay := r.cfg.RetryBackoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for {
		logs := make(chan types.Log, logBuffer)
		sub, err := r.source.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("subscribe failed", zap.Duration("retry_in", delay), zap.Error(err))
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
			delay = nextBackoff(delay, r.cfg.MaxBackoff)
			continue
		}
		logger.Info("subscribed", zap.String("address", l.Address().Hex()))
		if ready != nil {
			ready <- struct{}{}
			ready = nil
		}
		delay = r.cfg.RetryBackoff
		if delay <= 0 {
			delay = 100 * time.Millisecond
		}

		err = r.consume(ctx, l, sub, logs, out)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Warn("subscription dropped", zap.Error(err))
		}
	}
}

func (r *Runner) consume(ctx context.Context, l marketplace.Listener, sub ethereum.Subscription, logs <-chan types.Log, out chan<- model.CanonicalEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return fmt.Errorf("subscription closed")
			}
			return err
		case lg := <-logs:
			if err := r.progress.Observe(l.Address().Hex(), lg.BlockNumber); err != nil {
				r.logger.Warn("save checkpoint failed", zap.Uint64("block", lg.BlockNumber), zap.Error(err))
			}
			if err := r.dispatch(ctx, l, lg, out); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes one log and forwards the event. Handler failures are
// recorded and never stop the stream.
func (r *Runner) dispatch(ctx context.Context, l marketplace.Listener, lg types.Log, out chan<- model.CanonicalEvent) error {
	if lg.Removed || r.isDuplicate(lg) {
		return nil
	}
	if len(lg.Topics) == 0 || !l.CanDecode(lg.Topics[0]) {
		return nil
	}

	ev, err := r.handle(ctx, l, lg)
	if err != nil {
		metrics.ListenerErrors.WithLabelValues(string(l.Marketplace())).Inc()
		r.logger.Warn("handle log failed",
			zap.String("marketplace", string(l.Marketplace())),
			zap.Uint64("block", lg.BlockNumber),
			zap.String("tx", lg.TxHash.Hex()),
			zap.Uint("log_index", lg.Index),
			zap.Error(err),
		)
		r.recordDecodeError(l, lg, err)
		return nil
	}
	if ev == nil {
		return nil
	}

	metrics.EventsEmitted.WithLabelValues(string(ev.Marketplace), string(ev.Type)).Inc()
	select {
	case out <- *ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) handle(ctx context.Context, l marketplace.Listener, lg types.Log) (ev *model.CanonicalEvent, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ev = nil
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return l.Handle(ctx, lg)
}

func (r *Runner) recordDecodeError(l marketplace.Listener, lg types.Log, err error) {
	if r.decodeErrs == nil {
		return
	}
	record := model.DecodeErrorFromLog(l.Marketplace(), lg, err)
	if err := r.decodeErrs.PutDecodeErrors([]model.DecodeError{record}); err != nil {
		r.logger.Warn("store decode error failed", zap.Error(err))
	}
}

func (r *Runner) filter() ([]common.Address, []common.Hash) {
	addresses := make([]common.Address, 0, len(r.listeners))
	var topics []common.Hash
	for _, l := range r.listeners {
		addresses = append(addresses, l.Address())
		topics = append(topics, l.Topics()...)
	}
	return addresses, topics
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, query)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Stringer("from", query.FromBlock), zap.Stringer("to", query.ToBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) latestWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = r.source.LatestBlockNumber(ctx)
		return err
	})
	return latest, err
}

// isDuplicate reports whether the log was already dispatched. Live and
// backfilled logs overlap around the switchover block.
func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	found, _ := r.seen.ContainsOrAdd(id, struct{}{})
	return found
}
