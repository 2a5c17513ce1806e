package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"floorScope/internal/config"
	"floorScope/internal/model"
	"floorScope/internal/orderbook"
)

// runPoll queries the order book once with no known state, so every
// collection with a live bid or ask yields an event.
func runPoll(cmd *cobra.Command, _ []string) error {
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

	raw, _ := cmd.Flags().GetStringSlice("collection")
	collections, err := parseAddresses(raw)
	if err != nil {
		return err
	}
	if len(collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	states := make(map[string]orderbook.CollectionState, len(collections))
	for _, collection := range collections {
		states[collection] = orderbook.CollectionState{}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	emitted := 0
	var encodeErr error
	err = poller.PollCollectionOffers(ctx, states, func(ev model.CanonicalEvent) {
		emitted++
		if encodeErr == nil {
			encodeErr = encoder.Encode(ev)
		}
	})
	if err != nil {
		return err
	}
	logger.Info("poll complete", zap.Int("collections", len(collections)), zap.Int("events", emitted))
	return encodeErr
}
