package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"floorScope/internal/metrics"
)

// DefaultTimestampCacheSize bounds the block timestamp cache.
const DefaultTimestampCacheSize = 10000

// HeaderReader fetches block headers.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// TimestampCache memoizes block number to block time. When an insert would
// exceed capacity the cache is reset to hold only the new entry.
type TimestampCache struct {
	reader   HeaderReader
	capacity int
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.RWMutex
	data map[uint64]time.Time
}

// NewTimestampCache builds a cache backed by reader.
func NewTimestampCache(reader HeaderReader, capacity int, logger *zap.Logger) *TimestampCache {
	if capacity <= 0 {
		capacity = DefaultTimestampCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimestampCache{
		reader:   reader,
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
		data:     make(map[uint64]time.Time),
	}
}

// Get returns the timestamp of blockNumber. A nil block or a failed fetch
// yields the current time.
func (c *TimestampCache) Get(ctx context.Context, blockNumber *uint64) time.Time {
	if blockNumber == nil {
		return c.now().UTC()
	}

	c.mu.RLock()
	ts, ok := c.data[*blockNumber]
	c.mu.RUnlock()
	if ok {
		return ts
	}

	if c.reader == nil {
		return c.now().UTC()
	}
	header, err := c.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(*blockNumber))
	if err != nil || header == nil {
		c.logger.Warn("block timestamp fetch failed", zap.Uint64("block_number", *blockNumber), zap.Error(err))
		return c.now().UTC()
	}

	ts = time.Unix(int64(header.Time), 0).UTC()
	c.put(*blockNumber, ts)
	return ts
}

// Len returns the number of cached entries.
func (c *TimestampCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *TimestampCache) put(blockNumber uint64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[blockNumber]; !ok && len(c.data) >= c.capacity {
		c.data = make(map[uint64]time.Time, 1)
	}
	c.data[blockNumber] = ts
	metrics.TimestampCacheEntries.Set(float64(len(c.data)))
}
