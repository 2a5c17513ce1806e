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

	"floorScope/internal/chain"
	"floorScope/internal/config"
	"floorScope/internal/model"
	"floorScope/internal/receipt"
)

func runResolve(cmd *cobra.Command, args []string) error {
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
	txHash, err := parseTxHash(args[0])
	if err != nil {
		return err
	}
	rawType, _ := cmd.Flags().GetString("event-type")
	eventType := model.EventType(rawType)
	if !eventType.Valid() {
		return fmt.Errorf("unknown event type: %s", rawType)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	resolver, err := receipt.NewResolver(chainClient, chain.NewTimestampCache(chainClient, cfg.TimestampCacheSize, logger), logger)
	if err != nil {
		return err
	}

	info := resolver.Resolve(ctx, txHash, eventType)
	logger.Debug("resolved", zap.String("tx_hash", txHash.Hex()), zap.String("standard", string(info.Standard)))

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}
