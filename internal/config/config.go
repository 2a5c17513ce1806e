package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FLOORSCOPE"

// State backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL       string
	Network      string
	Marketplaces []string

	StateBackend string
	PGDSN        string
	RedisURL     string
	RedisPrefix  string

	EventLog     string
	DecodeErrors string

	OrderBookURL     string
	OrderBookRate    float64
	OrderBookRetries int
	OrderBookJitter  time.Duration
	PollSliceSize    int
	PollSliceDelay   time.Duration
	PollAsks         bool

	WatchPeriod time.Duration
	AlchemyURL  string
	AlchemyKey  string
	MoralisURL  string
	MoralisKey  string

	FloorDiffLower     float64
	FloorDiffUpper     float64
	TimestampCacheSize int

	Backfill          bool
	FromBlock         uint64
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration

	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:       v.GetString("rpc"),
		Network:      v.GetString("network"),
		Marketplaces: getStringSlice(v, "marketplaces"),

		StateBackend: strings.ToLower(v.GetString("state-backend")),
		PGDSN:        v.GetString("pg-dsn"),
		RedisURL:     v.GetString("redis-url"),
		RedisPrefix:  v.GetString("redis-prefix"),

		EventLog:     v.GetString("event-log"),
		DecodeErrors: v.GetString("decode-errors"),

		OrderBookURL:     v.GetString("orderbook-url"),
		OrderBookRate:    v.GetFloat64("orderbook-rate"),
		OrderBookRetries: v.GetInt("orderbook-retries"),
		OrderBookJitter:  v.GetDuration("orderbook-jitter"),
		PollSliceSize:    v.GetInt("poll-slice-size"),
		PollSliceDelay:   v.GetDuration("poll-slice-delay"),
		PollAsks:         v.GetBool("poll-asks"),

		WatchPeriod: v.GetDuration("watch-period"),
		AlchemyURL:  v.GetString("alchemy-url"),
		AlchemyKey:  v.GetString("alchemy-key"),
		MoralisURL:  v.GetString("moralis-url"),
		MoralisKey:  v.GetString("moralis-key"),

		FloorDiffLower:     v.GetFloat64("floor-diff-lower"),
		FloorDiffUpper:     v.GetFloat64("floor-diff-upper"),
		TimestampCacheSize: v.GetInt("timestamp-cache-size"),

		Backfill:          v.GetBool("backfill"),
		FromBlock:         v.GetUint64("from"),
		BatchSize:         v.GetUint64("batch-size"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),

		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "1")
	v.SetDefault("state-backend", BackendMemory)
	v.SetDefault("redis-prefix", "floorscope")
	v.SetDefault("event-log", "./data/events.jsonl")
	v.SetDefault("decode-errors", "./data/decode_errors.jsonl")
	v.SetDefault("orderbook-url", "https://api.looksrare.org")
	v.SetDefault("orderbook-rate", 1.0)
	v.SetDefault("orderbook-retries", 3)
	v.SetDefault("orderbook-jitter", 30*time.Second)
	v.SetDefault("poll-slice-size", 60)
	v.SetDefault("poll-slice-delay", 60*time.Second)
	v.SetDefault("poll-asks", true)
	v.SetDefault("watch-period", 5*time.Minute)
	v.SetDefault("floor-diff-lower", -1e9)
	v.SetDefault("floor-diff-upper", 1e9)
	v.SetDefault("timestamp-cache-size", 10000)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
}

// Validate checks values that would only fail later at runtime.
func (c Config) Validate() error {
	switch c.StateBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres state backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis-url is required for the redis state backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.StateBackend)
	}
	if c.FloorDiffLower > c.FloorDiffUpper {
		return fmt.Errorf("floor-diff-lower %v exceeds floor-diff-upper %v", c.FloorDiffLower, c.FloorDiffUpper)
	}
	if c.PollSliceSize <= 0 {
		return fmt.Errorf("poll-slice-size must be greater than zero")
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
