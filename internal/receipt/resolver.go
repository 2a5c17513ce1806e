package receipt

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"floorScope/internal/chain"
	"floorScope/internal/metrics"
	"floorScope/internal/model"
)

// ErrUnknownTokenFormat marks a receipt without a recognizable token transfer.
var ErrUnknownTokenFormat = errors.New("unknown token format")

// ChainReader is the chain access the resolver needs.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*chain.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// TimestampSource resolves block numbers to block times.
type TimestampSource interface {
	Get(ctx context.Context, blockNumber *uint64) time.Time
}

// Resolver extracts token transfer detail from transaction receipts.
type Resolver struct {
	chain      ChainReader
	timestamps TimestampSource
	tokenABI   abi.ABI
	logger     *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(chainReader ChainReader, timestamps TimestampSource, logger *zap.Logger) (*Resolver, error) {
	if chainReader == nil {
		return nil, fmt.Errorf("chain reader is nil")
	}
	if timestamps == nil {
		return nil, fmt.Errorf("timestamp source is nil")
	}
	parsed, err := TokenABI()
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		chain:      chainReader,
		timestamps: timestamps,
		tokenABI:   parsed,
		logger:     logger,
	}, nil
}

// Resolve returns the standardized transfer info of txHash. It never fails:
// a missing receipt yields an empty ReceiptInfo and unrecognized logs yield
// only the timestamp and initiator.
func (r *Resolver) Resolve(ctx context.Context, txHash common.Hash, eventType model.EventType) model.ReceiptInfo {
	receipt, err := r.chain.TransactionReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		r.logger.Warn("receipt unavailable", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		metrics.ReceiptResolutions.WithLabelValues("missing").Inc()
		return model.ReceiptInfo{}
	}

	var blockPtr *uint64
	if block, ok := receipt.Block(); ok {
		blockPtr = &block
	}
	info := model.ReceiptInfo{
		Timestamp: r.timestamps.Get(ctx, blockPtr),
		Initiator: model.NormalizeAddress(receipt.From.Hex()),
	}

	if eventType == model.EventCancelOrder {
		metrics.ReceiptResolutions.WithLabelValues("cancel").Inc()
		return info
	}

	info.Gas = gasCost(receipt)

	if lg := r.findSharedStorefront(receipt.Logs); lg != nil {
		metrics.ReceiptResolutions.WithLabelValues("shared_storefront").Inc()
		return r.fromSharedStorefront(ctx, info, lg)
	}
	if lg := r.findERC721(receipt.Logs); lg != nil {
		metrics.ReceiptResolutions.WithLabelValues("erc721").Inc()
		return r.fromERC721(ctx, info, lg)
	}
	if lg := r.findERC1155(receipt.Logs); lg != nil {
		metrics.ReceiptResolutions.WithLabelValues("erc1155").Inc()
		return r.fromERC1155(ctx, info, lg)
	}

	r.logger.Warn("receipt has no token transfer",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("event_type", string(eventType)),
		zap.Int("logs", len(receipt.Logs)),
		zap.Error(ErrUnknownTokenFormat),
	)
	metrics.ReceiptResolutions.WithLabelValues("unknown").Inc()
	return model.ReceiptInfo{Timestamp: info.Timestamp, Initiator: info.Initiator}
}

func (r *Resolver) findSharedStorefront(logs []*types.Log) *types.Log {
	topic := r.tokenABI.Events["TransferSingle"].ID
	for _, lg := range logs {
		if lg == nil || lg.Address != SharedStorefront {
			continue
		}
		if len(lg.Topics) == 4 && lg.Topics[0] == topic && len(lg.Data) >= 32 {
			return lg
		}
	}
	return nil
}

func (r *Resolver) findERC721(logs []*types.Log) *types.Log {
	topic := r.tokenABI.Events["Transfer"].ID
	for _, lg := range logs {
		// ERC-20 transfers share topic0 but index only two arguments.
		if lg != nil && len(lg.Topics) == 4 && lg.Topics[0] == topic {
			return lg
		}
	}
	return nil
}

func (r *Resolver) findERC1155(logs []*types.Log) *types.Log {
	topic := r.tokenABI.Events["TransferSingle"].ID
	for _, lg := range logs {
		if lg != nil && len(lg.Topics) == 4 && lg.Topics[0] == topic && len(lg.Data) >= 64 {
			return lg
		}
	}
	return nil
}

func (r *Resolver) fromSharedStorefront(ctx context.Context, info model.ReceiptInfo, lg *types.Log) model.ReceiptInfo {
	tokenID := new(big.Int).SetBytes(lg.Data[:32])
	info = withToken(info, lg, tokenID, model.StandardERC1155)
	info.From = TopicAddress(lg.Topics[2])
	info.To = TopicAddress(lg.Topics[3])

	uri, err := r.callURI(ctx, lg.Address, "uri", tokenID)
	if err != nil {
		r.logger.Debug("uri call failed", zap.String("collection", info.Collection), zap.String("token_id", info.TokenID), zap.Error(err))
		return info
	}
	info.MetadataURI = SubstituteID(uri, tokenID)
	return info
}

func (r *Resolver) fromERC721(ctx context.Context, info model.ReceiptInfo, lg *types.Log) model.ReceiptInfo {
	tokenID := new(big.Int).SetBytes(lg.Topics[3].Bytes())
	info = withToken(info, lg, tokenID, model.StandardERC721)
	info.From = TopicAddress(lg.Topics[1])
	info.To = TopicAddress(lg.Topics[2])

	uri, err := r.callURI(ctx, lg.Address, "tokenURI", tokenID)
	if err != nil {
		r.logger.Debug("tokenURI call failed", zap.String("collection", info.Collection), zap.String("token_id", info.TokenID), zap.Error(err))
		return info
	}
	info.MetadataURI = uri
	return info
}

func (r *Resolver) fromERC1155(ctx context.Context, info model.ReceiptInfo, lg *types.Log) model.ReceiptInfo {
	tokenID := new(big.Int).SetBytes(lg.Data[:32])
	info = withToken(info, lg, tokenID, model.StandardERC1155)
	info.From = TopicAddress(lg.Topics[2])
	info.To = TopicAddress(lg.Topics[3])

	var (
		uri string
		err error
	)
	if lg.Address == LegacyRaribleERC1155 {
		uri, err = r.uriFromLogs(ctx, lg.Address, tokenID)
	} else {
		uri, err = r.callURI(ctx, lg.Address, "uri", tokenID)
	}
	if err != nil {
		r.logger.Debug("erc1155 metadata lookup failed", zap.String("collection", info.Collection), zap.String("token_id", info.TokenID), zap.Error(err))
		return info
	}
	info.MetadataURI = SubstituteID(uri, tokenID)
	return info
}

func (r *Resolver) callURI(ctx context.Context, contract common.Address, method string, tokenID *big.Int) (string, error) {
	data, err := r.tokenABI.Pack(method, tokenID)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := r.chain.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", method, err)
	}
	values, err := r.tokenABI.Unpack(method, resp)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return "", fmt.Errorf("empty %s result", method)
	}
	uri, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s type %T", method, values[0])
	}
	return uri, nil
}

func (r *Resolver) uriFromLogs(ctx context.Context, contract common.Address, tokenID *big.Int) (string, error) {
	event := r.tokenABI.Events["URI"]
	logs, err := r.chain.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{event.ID}, {common.BigToHash(tokenID)}},
	})
	if err != nil {
		return "", fmt.Errorf("filter uri logs: %w", err)
	}
	if len(logs) == 0 {
		return "", fmt.Errorf("no uri log for token %s", tokenID)
	}

	values, err := event.Inputs.NonIndexed().Unpack(logs[len(logs)-1].Data)
	if err != nil {
		return "", fmt.Errorf("unpack uri log: %w", err)
	}
	if len(values) == 0 {
		return "", fmt.Errorf("empty uri log")
	}
	uri, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected uri type %T", values[0])
	}
	return uri, nil
}

func withToken(info model.ReceiptInfo, lg *types.Log, tokenID *big.Int, standard model.Standard) model.ReceiptInfo {
	info.Collection = model.NormalizeAddress(lg.Address.Hex())
	info.TokenID = tokenID.String()
	info.TokenIDHex = common.BigToHash(tokenID).Hex()
	info.Standard = standard
	return info
}

func gasCost(receipt *chain.Receipt) *decimal.Decimal {
	if receipt.EffectiveGasPrice == nil {
		return nil
	}
	price := (*big.Int)(receipt.EffectiveGasPrice)
	wei := new(big.Int).Mul(new(big.Int).SetUint64(uint64(receipt.GasUsed)), price)
	gas := model.FromWei(wei)
	return &gas
}

// TopicAddress unpads a 32-byte topic into a lowercase 20-byte address.
func TopicAddress(topic common.Hash) string {
	return model.NormalizeAddress(common.BytesToAddress(topic.Bytes()).Hex())
}

// SubstituteID replaces the ERC-1155 {id} placeholder with the lowercase
// 64 character hex token id.
func SubstituteID(uri string, tokenID *big.Int) string {
	if !strings.Contains(uri, "{id}") {
		return uri
	}
	hexID := fmt.Sprintf("%064x", tokenID)
	return strings.ReplaceAll(uri, "{id}", hexID)
}
