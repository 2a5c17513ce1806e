package marketplace

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"floorScope/internal/model"
)

// Listener decodes the logs of one marketplace contract into canonical events.
type Listener interface {
	Marketplace() model.Marketplace
	Address() common.Address
	Topics() []common.Hash
	CanDecode(topic0 common.Hash) bool
	// Handle returns nil without error for logs the listener ignores.
	Handle(ctx context.Context, log types.Log) (*model.CanonicalEvent, error)
}

// ReceiptResolver recovers token detail from a transaction.
type ReceiptResolver interface {
	Resolve(ctx context.Context, txHash common.Hash, eventType model.EventType) model.ReceiptInfo
}

// Deps provides shared dependencies for listeners.
type Deps struct {
	Network  string
	Resolver ReceiptResolver
	Logger   *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// base holds the contract binding shared by every listener.
type base struct {
	marketplace model.Marketplace
	address     common.Address
	abi         abi.ABI
	names       map[common.Hash]string
	deps        Deps
}

func newBase(marketplace model.Marketplace, address common.Address, abiJSON string, events []string, deps Deps) (base, error) {
	if deps.Resolver == nil {
		return base{}, fmt.Errorf("%s: receipt resolver is nil", marketplace)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return base{}, fmt.Errorf("%s: parse abi: %w", marketplace, err)
	}
	names := make(map[common.Hash]string, len(events))
	for _, name := range events {
		event, ok := parsed.Events[name]
		if !ok {
			return base{}, fmt.Errorf("%s: abi has no event %s", marketplace, name)
		}
		names[event.ID] = name
	}
	return base{
		marketplace: marketplace,
		address:     address,
		abi:         parsed,
		names:       names,
		deps:        deps,
	}, nil
}

func (b base) Marketplace() model.Marketplace { return b.marketplace }

func (b base) Address() common.Address { return b.address }

func (b base) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(b.names))
	for topic := range b.names {
		topics = append(topics, topic)
	}
	return topics
}

func (b base) CanDecode(topic0 common.Hash) bool {
	_, ok := b.names[topic0]
	return ok
}

// eventName returns the ABI event name of log.
func (b base) eventName(log types.Log) (string, error) {
	if len(log.Topics) == 0 {
		return "", fmt.Errorf("missing topics")
	}
	name, ok := b.names[log.Topics[0]]
	if !ok {
		return "", fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}
	return name, nil
}

// decode unpacks both the indexed and non-indexed arguments of log into out.
func (b base) decode(out interface{}, name string, log types.Log) error {
	event := b.abi.Events[name]
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return fmt.Errorf("%s: expected %d topics, got %d", name, len(indexed)+1, len(log.Topics))
	}
	if len(event.Inputs.NonIndexed()) > 0 {
		if err := b.abi.UnpackIntoInterface(out, name, log.Data); err != nil {
			return fmt.Errorf("unpack %s: %w", name, err)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
			return fmt.Errorf("parse %s topics: %w", name, err)
		}
	}
	return nil
}

// newEvent builds the event core shared by every listener.
func (b base) newEvent(eventType model.EventType, log types.Log, payload model.Payload) model.CanonicalEvent {
	ev := model.NewEvent(eventType, b.marketplace, b.deps.Network, payload)
	ev.TransactionHash = log.TxHash.Hex()
	return ev
}

// cancel builds a cancelOrder event using the abbreviated receipt path.
func (b base) cancel(ctx context.Context, log types.Log, orderHash string, maker common.Address) *model.CanonicalEvent {
	info := b.deps.Resolver.Resolve(ctx, log.TxHash, model.EventCancelOrder)
	payload := model.CancelPayload{}
	if maker != (common.Address{}) {
		payload.Maker = addressString(maker)
	}
	ev := b.newEvent(model.EventCancelOrder, log, payload)
	ev.OrderHash = orderHash
	ev = ev.WithReceipt(info)
	return &ev
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func addressString(address common.Address) string {
	return model.NormalizeAddress(address.Hex())
}

func sameAddress(a string, b common.Address) bool {
	return a != "" && strings.EqualFold(a, b.Hex())
}

func hashString(hash [32]byte) string {
	return common.Hash(hash).Hex()
}

func bigString(value *big.Int) string {
	if value == nil {
		return ""
	}
	return value.String()
}

func bigSum(values ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}
