package receipt

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"floorScope/internal/chain"
	"floorScope/internal/model"
)

type fakeChain struct {
	receipts map[common.Hash]*chain.Receipt
	uris     map[string]string
	uriLogs  []types.Log
	failCall bool
	calls    int
}

func (f *fakeChain) TransactionReceipt(_ context.Context, txHash common.Hash) (*chain.Receipt, error) {
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, chain.ErrReceiptNotFound
	}
	return receipt, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.failCall {
		return nil, errors.New("execution reverted")
	}
	parsed, _ := TokenABI()
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(f.uris[method.Name])
}

func (f *fakeChain) FilterLogs(_ context.Context, _ ethereum.FilterQuery) ([]types.Log, error) {
	return f.uriLogs, nil
}

type fixedTimestamps struct{ ts time.Time }

func (f fixedTimestamps) Get(context.Context, *uint64) time.Time { return f.ts }

var (
	testTx     = common.HexToHash("0x01")
	testSender = common.HexToAddress("0x5555555555555555555555555555555555555555")
	testFrom   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testTo     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testTS     = time.Unix(1700000000, 0).UTC()
)

func newTestResolver(t *testing.T, fc *fakeChain) *Resolver {
	t.Helper()
	resolver, err := NewResolver(fc, fixedTimestamps{ts: testTS}, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return resolver
}

func buildReceipt(logs ...*types.Log) *chain.Receipt {
	return &chain.Receipt{
		TxHash:            testTx,
		From:              testSender,
		BlockNumber:       (*hexutil.Big)(big.NewInt(100)),
		GasUsed:           hexutil.Uint64(100000),
		EffectiveGasPrice: (*hexutil.Big)(big.NewInt(20000000000)),
		Logs:              logs,
	}
}

func erc721Log(contract common.Address, tokenID int64) *types.Log {
	parsed, _ := TokenABI()
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			parsed.Events["Transfer"].ID,
			common.BytesToHash(testFrom.Bytes()),
			common.BytesToHash(testTo.Bytes()),
			common.BigToHash(big.NewInt(tokenID)),
		},
	}
}

func transferSingleLog(t *testing.T, contract common.Address, tokenID *big.Int) *types.Log {
	t.Helper()
	parsed, _ := TokenABI()
	event := parsed.Events["TransferSingle"]
	data, err := event.Inputs.NonIndexed().Pack(tokenID, big.NewInt(1))
	if err != nil {
		t.Fatalf("pack transfer single: %v", err)
	}
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(testSender.Bytes()),
			common.BytesToHash(testFrom.Bytes()),
			common.BytesToHash(testTo.Bytes()),
		},
		Data: data,
	}
}

func TestResolveERC721(t *testing.T) {
	collection := common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	fc := &fakeChain{
		receipts: map[common.Hash]*chain.Receipt{testTx: buildReceipt(erc721Log(collection, 42))},
		uris:     map[string]string{"tokenURI": "ipfs://meta/42"},
	}

	info := newTestResolver(t, fc).Resolve(context.Background(), testTx, model.EventAcceptAsk)

	if info.Collection != model.NormalizeAddress(collection.Hex()) || info.TokenID != "42" {
		t.Fatalf("token mismatch: %+v", info)
	}
	if info.Standard != model.StandardERC721 || info.MetadataURI != "ipfs://meta/42" {
		t.Fatalf("standard/metadata mismatch: %+v", info)
	}
	if info.From != model.NormalizeAddress(testFrom.Hex()) || info.To != model.NormalizeAddress(testTo.Hex()) {
		t.Fatalf("participants not unpadded: %s %s", info.From, info.To)
	}
	if info.Initiator != model.NormalizeAddress(testSender.Hex()) || !info.Timestamp.Equal(testTS) {
		t.Fatalf("initiator/timestamp mismatch: %+v", info)
	}
	if info.Gas == nil || !info.Gas.Equal(decimal.RequireFromString("0.002")) {
		t.Fatalf("gas mismatch: %v", info.Gas)
	}
}

func TestResolveSharedStorefrontTakesPriority(t *testing.T) {
	tokenID, _ := new(big.Int).SetString("ff00000000000000000000000000000000000000000000000000000000000001", 16)
	fc := &fakeChain{
		receipts: map[common.Hash]*chain.Receipt{testTx: buildReceipt(
			erc721Log(common.HexToAddress("0x9999999999999999999999999999999999999999"), 1),
			transferSingleLog(t, SharedStorefront, tokenID),
		)},
		uris: map[string]string{"uri": "https://api.opensea.io/api/v1/metadata/0x495f/{id}"},
	}

	info := newTestResolver(t, fc).Resolve(context.Background(), testTx, model.EventAcceptOffer)

	if info.Standard != model.StandardERC1155 || info.TokenID != tokenID.String() {
		t.Fatalf("shared storefront not preferred: %+v", info)
	}
	want := "https://api.opensea.io/api/v1/metadata/0x495f/ff00000000000000000000000000000000000000000000000000000000000001"
	if info.MetadataURI != want {
		t.Fatalf("uri substitution mismatch: %s", info.MetadataURI)
	}
}

func TestResolveLegacyERC1155UsesURILog(t *testing.T) {
	parsed, _ := TokenABI()
	uriData, err := parsed.Events["URI"].Inputs.NonIndexed().Pack("ipfs://legacy/7")
	if err != nil {
		t.Fatalf("pack uri: %v", err)
	}
	fc := &fakeChain{
		receipts: map[common.Hash]*chain.Receipt{testTx: buildReceipt(transferSingleLog(t, LegacyRaribleERC1155, big.NewInt(7)))},
		uriLogs:  []types.Log{{Data: uriData}},
	}

	info := newTestResolver(t, fc).Resolve(context.Background(), testTx, model.EventAcceptAsk)

	if info.MetadataURI != "ipfs://legacy/7" {
		t.Fatalf("metadata mismatch: %s", info.MetadataURI)
	}
	if fc.calls != 0 {
		t.Fatalf("legacy contract should not be called directly")
	}
}

func TestResolveMetadataFailureKeepsToken(t *testing.T) {
	fc := &fakeChain{
		receipts: map[common.Hash]*chain.Receipt{testTx: buildReceipt(erc721Log(testTo, 3))},
		failCall: true,
	}

	info := newTestResolver(t, fc).Resolve(context.Background(), testTx, model.EventAcceptAsk)

	if info.TokenID != "3" || info.MetadataURI != "" {
		t.Fatalf("expected token without metadata: %+v", info)
	}
}

func TestResolveCancelStopsEarly(t *testing.T) {
	fc := &fakeChain{
		receipts: map[common.Hash]*chain.Receipt{testTx: buildReceipt(erc721Log(testTo, 3))},
	}

	info := newTestResolver(t, fc).Resolve(context.Background(), testTx, model.EventCancelOrder)

	if info.Collection != "" || info.Gas != nil {
		t.Fatalf("cancel should only carry timestamp and initiator: %+v", info)
	}
	if info.Initiator == "" || info.Timestamp.IsZero() {
		t.Fatalf("cancel missing initiator/timestamp: %+v", info)
	}
}

func TestResolveUnknownFormat(t *testing.T) {
	erc20 := &types.Log{
		Address: testTo,
		Topics: []common.Hash{
			common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
			common.BytesToHash(testFrom.Bytes()),
			common.BytesToHash(testTo.Bytes()),
		},
		Data: common.BigToHash(big.NewInt(5)).Bytes(),
	}
	fc := &fakeChain{receipts: map[common.Hash]*chain.Receipt{testTx: buildReceipt(erc20)}}

	info := newTestResolver(t, fc).Resolve(context.Background(), testTx, model.EventAcceptAsk)

	want := model.ReceiptInfo{Timestamp: testTS, Initiator: model.NormalizeAddress(testSender.Hex())}
	if info.Timestamp != want.Timestamp || info.Initiator != want.Initiator || info.Collection != "" || info.Gas != nil || info.Standard != "" {
		t.Fatalf("expected bare info, got %+v", info)
	}
}

func TestResolveMissingReceipt(t *testing.T) {
	info := newTestResolver(t, &fakeChain{}).Resolve(context.Background(), testTx, model.EventAcceptAsk)
	if info.Initiator != "" || !info.Timestamp.IsZero() {
		t.Fatalf("expected empty info, got %+v", info)
	}
}

func TestTopicAddressUnpads(t *testing.T) {
	topic := common.BytesToHash(bytes.Repeat([]byte{0xab}, 20))
	if got := TopicAddress(topic); got != "0xabababababababababababababababababababab" {
		t.Fatalf("unpadded address mismatch: %s", got)
	}
}
