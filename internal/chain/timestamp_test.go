package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

type fakeHeaders struct {
	calls int
	fail  bool
}

func (f *fakeHeaders) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("rpc down")
	}
	return &types.Header{Number: number, Time: 1700000000 + number.Uint64()}, nil
}

func TestTimestampCacheHit(t *testing.T) {
	reader := &fakeHeaders{}
	cache := NewTimestampCache(reader, 10, nil)

	block := uint64(5)
	first := cache.Get(context.Background(), &block)
	second := cache.Get(context.Background(), &block)

	if !first.Equal(time.Unix(1700000005, 0)) || !second.Equal(first) {
		t.Fatalf("timestamp mismatch: %v %v", first, second)
	}
	if reader.calls != 1 {
		t.Fatalf("expected one fetch, got %d", reader.calls)
	}
}

func TestTimestampCacheCollapsesOnOverflow(t *testing.T) {
	cache := NewTimestampCache(&fakeHeaders{}, 3, nil)

	for i := uint64(1); i <= 3; i++ {
		block := i
		cache.Get(context.Background(), &block)
	}
	if cache.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", cache.Len())
	}

	block := uint64(4)
	cache.Get(context.Background(), &block)
	if cache.Len() != 1 {
		t.Fatalf("expected cache to collapse to 1 entry, got %d", cache.Len())
	}

	reader := cache.reader.(*fakeHeaders)
	before := reader.calls
	cache.Get(context.Background(), &block)
	if reader.calls != before {
		t.Fatalf("newest entry should survive the collapse")
	}
}

func TestTimestampCacheFallsBackToNow(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewTimestampCache(&fakeHeaders{fail: true}, 10, nil)
	cache.now = func() time.Time { return fixed }

	block := uint64(9)
	if got := cache.Get(context.Background(), &block); !got.Equal(fixed) {
		t.Fatalf("expected wall clock on failure, got %v", got)
	}
	if cache.Len() != 0 {
		t.Fatalf("failed fetch must not be cached")
	}
	if got := cache.Get(context.Background(), nil); !got.Equal(fixed) {
		t.Fatalf("expected wall clock for nil block, got %v", got)
	}
}
