package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"floorScope/internal/marketplace"
	"floorScope/internal/model"
)

var (
	listenerAddress = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	topicTrade      = common.HexToHash("0x01")
	topicBroken     = common.HexToHash("0x02")
	topicPanic      = common.HexToHash("0x03")
	topicIgnored    = common.HexToHash("0x04")
	topicForeign    = common.HexToHash("0x05")
)

type fakeListener struct{}

func (fakeListener) Marketplace() model.Marketplace { return model.MarketplaceLooksRare }
func (fakeListener) Address() common.Address         { return listenerAddress }
func (fakeListener) Topics() []common.Hash {
	return []common.Hash{topicTrade, topicBroken, topicPanic, topicIgnored}
}

func (fakeListener) CanDecode(topic common.Hash) bool { return topic != topicForeign }

func (fakeListener) Handle(_ context.Context, lg types.Log) (*model.CanonicalEvent, error) {
	switch lg.Topics[0] {
	case topicBroken:
		return nil, errors.New("bad data")
	case topicPanic:
		panic("index out of range")
	case topicIgnored:
		return nil, nil
	}
	ev := model.NewEvent(model.EventAcceptAsk, model.MarketplaceLooksRare, "1", model.TradePayload{})
	ev.TransactionHash = lg.TxHash.Hex()
	return &ev, nil
}

type fakeSub struct {
	errc chan error
	once sync.Once
}

func (s *fakeSub) Err() <-chan error { return s.errc }
func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }

type fakeSource struct {
	mu          sync.Mutex
	latest      uint64
	logs        []types.Log
	queries     []ethereum.FilterQuery
	subFailures int
	subscribed  int
	live        []types.Log

	// headOnSubscribe moves the chain head when a subscription is made.
	headOnSubscribe uint64
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeSource) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subFailures > 0 {
		f.subFailures--
		return nil, errors.New("dial failed")
	}
	f.subscribed++
	if f.headOnSubscribe > f.latest {
		f.latest = f.headOnSubscribe
	}
	for _, lg := range f.live {
		ch <- lg
	}
	return &fakeSub{errc: make(chan error, 1)}, nil
}

type decodeErrors struct {
	mu      sync.Mutex
	records []model.DecodeError
}

func (d *decodeErrors) PutDecodeErrors(errs []model.DecodeError) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, errs...)
	return nil
}

func testLog(block uint64, index uint, topic common.Hash, tx byte) types.Log {
	return types.Log{
		Address:     listenerAddress,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BytesToHash([]byte{tx}),
		Topics:      []common.Hash{topic},
	}
}

func TestBackfillDispatchesInOrder(t *testing.T) {
	source := &fakeSource{
		latest: 14,
		logs: []types.Log{
			testLog(12, 0, topicTrade, 3),
			testLog(10, 1, topicTrade, 2),
			testLog(10, 0, topicTrade, 1),
			testLog(10, 0, topicTrade, 1),
			testLog(11, 0, topicBroken, 4),
			testLog(11, 1, topicPanic, 5),
			testLog(11, 2, topicIgnored, 6),
			testLog(13, 0, topicForeign, 7),
		},
	}
	sink := &decodeErrors{}
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	runner, err := NewRunner(RunConfig{
		Backfill:          true,
		FromBlock:         10,
		BatchSize:         2,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}, source, []marketplace.Listener{fakeListener{}}, sink, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	out := make(chan model.CanonicalEvent, 16)
	if err := runner.Backfill(context.Background(), out); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	close(out)

	var txs []string
	for ev := range out {
		txs = append(txs, ev.TransactionHash)
	}
	want := []string{
		common.BytesToHash([]byte{1}).Hex(),
		common.BytesToHash([]byte{2}).Hex(),
		common.BytesToHash([]byte{3}).Hex(),
	}
	if len(txs) != len(want) {
		t.Fatalf("events mismatch: got %v want %v", txs, want)
	}
	for i := range want {
		if txs[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, txs[i], want[i])
		}
	}

	if len(source.queries) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(source.queries))
	}
	if len(sink.records) != 2 {
		t.Fatalf("expected 2 decode errors, got %d", len(sink.records))
	}
	if sink.records[1].Error != "handler panic: index out of range" {
		t.Fatalf("unexpected panic record: %q", sink.records[1].Error)
	}

	cp, ok, err := NewProgress(cpPath, true).Load()
	if err != nil || !ok {
		t.Fatalf("load checkpoint: ok=%v err=%v", ok, err)
	}
	if cp.LastProcessedBlock != 14 {
		t.Fatalf("checkpoint mismatch: %d", cp.LastProcessedBlock)
	}
}

func TestBackfillResumesFromCheckpoint(t *testing.T) {
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := NewProgress(cpPath, true).Complete(19); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	source := &fakeSource{latest: 20}
	runner, err := NewRunner(RunConfig{
		Backfill:          true,
		FromBlock:         1,
		BatchSize:         100,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}, source, []marketplace.Listener{fakeListener{}}, nil, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	if err := runner.Backfill(context.Background(), make(chan model.CanonicalEvent, 1)); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if len(source.queries) != 1 || source.queries[0].FromBlock.Uint64() != 20 {
		t.Fatalf("expected a single query from block 20, got %+v", source.queries)
	}
}

func waitForCheckpoint(t *testing.T, path string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cp, ok, err := NewProgress(path, true).Load()
		if err == nil && ok && cp.LastProcessedBlock == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("checkpoint never reached block %d", want)
}

func receive(t *testing.T, out <-chan model.CanonicalEvent, n int) []string {
	t.Helper()
	var txs []string
	for len(txs) < n {
		select {
		case ev := <-out:
			txs = append(txs, ev.TransactionHash)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", len(txs), n)
		}
	}
	return txs
}

func TestRunFetchesBlocksMinedDuringBackfill(t *testing.T) {
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	source := &fakeSource{
		latest:          14,
		headOnSubscribe: 17,
		logs:            []types.Log{testLog(12, 0, topicTrade, 1), testLog(16, 0, topicTrade, 2)},
	}
	runner, err := NewRunner(RunConfig{
		Backfill:          true,
		FromBlock:         10,
		BatchSize:         100,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}, source, []marketplace.Listener{fakeListener{}}, nil, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.CanonicalEvent, 16)
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, out) }()

	txs := receive(t, out, 2)
	waitForCheckpoint(t, cpPath, 17)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if txs[1] != common.BytesToHash([]byte{2}).Hex() {
		t.Fatalf("block mined during backfill was not fetched: %v", txs)
	}
	if len(source.queries) != 2 || source.queries[1].FromBlock.Uint64() != 15 {
		t.Fatalf("expected a gap query from block 15, got %+v", source.queries)
	}
}

func TestLiveProgressSurvivesRestart(t *testing.T) {
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	cfg := RunConfig{
		Backfill:          true,
		FromBlock:         10,
		BatchSize:         100,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}

	first := &fakeSource{
		latest: 14,
		logs:   []types.Log{testLog(12, 0, topicTrade, 1)},
		live:   []types.Log{testLog(20, 0, topicTrade, 2), testLog(21, 0, topicTrade, 3)},
	}
	runner, err := NewRunner(cfg, first, []marketplace.Listener{fakeListener{}}, nil, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.CanonicalEvent, 16)
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, out) }()

	receive(t, out, 3)
	// Block 21 may still have logs in flight, so only block 20 is complete.
	waitForCheckpoint(t, cpPath, 20)
	cancel()
	<-done

	restarted := &fakeSource{
		latest: 25,
		logs: []types.Log{
			testLog(12, 0, topicTrade, 1),
			testLog(20, 0, topicTrade, 2),
			testLog(21, 0, topicTrade, 3),
			testLog(24, 0, topicTrade, 4),
		},
	}
	runner, err = NewRunner(cfg, restarted, []marketplace.Listener{fakeListener{}}, nil, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	replay := make(chan model.CanonicalEvent, 16)
	if err := runner.Backfill(context.Background(), replay); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	close(replay)

	var txs []string
	for ev := range replay {
		txs = append(txs, ev.TransactionHash)
	}
	want := []string{common.BytesToHash([]byte{3}).Hex(), common.BytesToHash([]byte{4}).Hex()}
	if len(txs) != len(want) || txs[0] != want[0] || txs[1] != want[1] {
		t.Fatalf("replayed %v, want %v", txs, want)
	}
	if restarted.queries[0].FromBlock.Uint64() != 21 {
		t.Fatalf("expected resume from block 21, got %v", restarted.queries[0].FromBlock)
	}
}

func TestSubscribeRetriesAndDedupes(t *testing.T) {
	source := &fakeSource{
		subFailures: 2,
		live:        []types.Log{testLog(50, 0, topicTrade, 9), testLog(50, 0, topicTrade, 9)},
	}
	runner, err := NewRunner(RunConfig{RetryBackoff: time.Millisecond}, source, []marketplace.Listener{fakeListener{}}, nil, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	var delays []time.Duration
	runner.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.CanonicalEvent, 4)
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, out) }()

	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("duplicate log was emitted twice")
	}
	if len(delays) != 2 || delays[1] != 2*time.Millisecond {
		t.Fatalf("unexpected backoff delays: %v", delays)
	}
}

func TestNewRunnerValidates(t *testing.T) {
	if _, err := NewRunner(RunConfig{}, nil, []marketplace.Listener{fakeListener{}}, nil, nil); err == nil {
		t.Fatalf("expected error for nil source")
	}
	if _, err := NewRunner(RunConfig{}, &fakeSource{}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for no listeners")
	}
	if _, err := NewRunner(RunConfig{Backfill: true}, &fakeSource{}, []marketplace.Listener{fakeListener{}}, nil, nil); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
	if _, err := NewRunner(RunConfig{}, &fakeSource{}, []marketplace.Listener{fakeListener{}, fakeListener{}}, nil, nil); err == nil {
		t.Fatalf("expected error for duplicate listener address")
	}
}
