package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "floorscope",
		Short:        "NFT marketplace event normalizer with floor and offer tracking",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Listen to marketplaces, poll the order book and track floors",
		RunE:  runFloorscope,
	}

	runCmd.Flags().String("rpc", "", "websocket RPC URL")
	runCmd.Flags().String("network", "1", "network id stamped on events")
	runCmd.Flags().StringSlice("marketplaces", nil, "marketplaces to listen to (default all)")
	runCmd.Flags().String("state-backend", "memory", "floor and offer state backend (memory, postgres, redis)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("redis-url", "", "Redis URL")
	runCmd.Flags().String("redis-prefix", "floorscope", "Redis key prefix")
	runCmd.Flags().String("event-log", "./data/events.jsonl", "event archive JSONL path, empty to disable")
	runCmd.Flags().String("decode-errors", "./data/decode_errors.jsonl", "decode errors JSONL path, empty to disable")
	runCmd.Flags().Float64("orderbook-rate", 1, "order book requests per second")
	runCmd.Flags().Int("poll-slice-size", 60, "collections per poll slice")
	runCmd.Flags().Duration("poll-slice-delay", 60*time.Second, "delay between poll slices")
	runCmd.Flags().Bool("poll-asks", true, "also poll lowest asks")
	runCmd.Flags().Duration("watch-period", 5*time.Minute, "watch set refresh period")
	runCmd.Flags().String("alchemy-key", "", "Alchemy API key")
	runCmd.Flags().String("moralis-key", "", "Moralis API key")
	runCmd.Flags().Bool("backfill", false, "replay history before subscribing")
	runCmd.Flags().Uint64("from", 0, "backfill start block (inclusive)")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per backfill batch")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("metrics-addr", "", "prometheus listen address, empty to disable")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	resolveCmd := &cobra.Command{
		Use:   "resolve <txhash>",
		Short: "Resolve the token transfer of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	}

	resolveCmd.Flags().String("rpc", "", "RPC URL")
	resolveCmd.Flags().String("event-type", "acceptAsk", "event type the receipt belongs to")
	resolveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(resolveCmd)

	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Query the order book once for the given collections",
		RunE:  runPoll,
	}

	pollCmd.Flags().StringSlice("collection", nil, "collection addresses (comma-separated)")
	pollCmd.Flags().String("orderbook-url", "https://api.looksrare.org", "order book base URL")
	pollCmd.Flags().Float64("orderbook-rate", 1, "order book requests per second")
	pollCmd.Flags().Bool("poll-asks", true, "also poll lowest asks")
	pollCmd.Flags().String("network", "1", "network id stamped on events")
	pollCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(pollCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
