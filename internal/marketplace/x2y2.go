package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"floorScope/internal/model"
)

// X2Y2Exchange is the x2y2 exchange contract.
var X2Y2Exchange = common.HexToAddress("0x74312363e45DCaBA76c59ec49a7Aa8A65a67EeD3")

// x2y2 order intents.
const (
	x2y2IntentSell    = 1
	x2y2IntentAuction = 2
	x2y2IntentBuy     = 3
)

const x2y2ABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "itemHash", "type": "bytes32"},
      {"indexed": false, "name": "maker", "type": "address"},
      {"indexed": false, "name": "taker", "type": "address"},
      {"indexed": false, "name": "orderSalt", "type": "uint256"},
      {"indexed": false, "name": "settleSalt", "type": "uint256"},
      {"indexed": false, "name": "intent", "type": "uint256"},
      {"indexed": false, "name": "delegateType", "type": "uint256"},
      {"indexed": false, "name": "deadline", "type": "uint256"},
      {"indexed": false, "name": "currency", "type": "address"},
      {"indexed": false, "name": "dataMask", "type": "bytes"},
      {"components": [
        {"name": "price", "type": "uint256"},
        {"name": "data", "type": "bytes"}
      ], "indexed": false, "name": "item", "type": "tuple"},
      {"components": [
        {"name": "op", "type": "uint8"},
        {"name": "orderIdx", "type": "uint256"},
        {"name": "itemIdx", "type": "uint256"},
        {"name": "price", "type": "uint256"},
        {"name": "itemHash", "type": "bytes32"},
        {"name": "executionDelegate", "type": "address"},
        {"name": "dataReplacement", "type": "bytes"},
        {"name": "bidIncentivePct", "type": "uint256"},
        {"name": "aucMinIncrementPct", "type": "uint256"},
        {"name": "aucIncDurationSecs", "type": "uint256"},
        {"components": [
          {"name": "percentage", "type": "uint256"},
          {"name": "to", "type": "address"}
        ], "name": "fees", "type": "tuple[]"}
      ], "indexed": false, "name": "detail", "type": "tuple"}
    ],
    "name": "EvInventory",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "itemHash", "type": "bytes32"}
    ],
    "name": "EvCancel",
    "type": "event"
  }
]`

type x2y2Fee struct {
	Percentage *big.Int
	To         common.Address
}

type x2y2OrderItem struct {
	Price *big.Int
	Data  []byte
}

type x2y2SettleDetail struct {
	Op                 uint8
	OrderIdx           *big.Int
	ItemIdx            *big.Int
	Price              *big.Int
	ItemHash           [32]byte
	ExecutionDelegate  common.Address
	DataReplacement    []byte
	BidIncentivePct    *big.Int
	AucMinIncrementPct *big.Int
	AucIncDurationSecs *big.Int
	Fees               []x2y2Fee
}

type x2y2Inventory struct {
	ItemHash     [32]byte
	Maker        common.Address
	Taker        common.Address
	OrderSalt    *big.Int
	SettleSalt   *big.Int
	Intent       *big.Int
	DelegateType *big.Int
	Deadline     *big.Int
	Currency     common.Address
	DataMask     []byte
	Item         x2y2OrderItem
	Detail       x2y2SettleDetail
}

type x2y2Cancel struct {
	ItemHash [32]byte
}

// X2Y2Listener decodes x2y2 exchange logs. The order intent decides the
// trade direction.
type X2Y2Listener struct {
	base
}

// NewX2Y2Listener builds a listener bound to the x2y2 exchange.
func NewX2Y2Listener(deps Deps) (*X2Y2Listener, error) {
	b, err := newBase(model.MarketplaceX2Y2, X2Y2Exchange, x2y2ABIJSON, []string{"EvInventory", "EvCancel"}, deps)
	if err != nil {
		return nil, err
	}
	return &X2Y2Listener{base: b}, nil
}

// Handle converts an x2y2 log into a canonical event.
func (l *X2Y2Listener) Handle(ctx context.Context, log types.Log) (*model.CanonicalEvent, error) {
	name, err := l.eventName(log)
	if err != nil {
		return nil, err
	}

	switch name {
	case "EvInventory":
		var ev x2y2Inventory
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.inventory(ctx, log, ev)
	case "EvCancel":
		var ev x2y2Cancel
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.cancel(ctx, log, hashString(ev.ItemHash), common.Address{}), nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

func (l *X2Y2Listener) inventory(ctx context.Context, log types.Log, ev x2y2Inventory) (*model.CanonicalEvent, error) {
	if ev.Intent == nil || !ev.Intent.IsInt64() {
		return nil, fmt.Errorf("invalid intent")
	}

	price := ev.Detail.Price
	if price == nil || price.Sign() == 0 {
		price = ev.Item.Price
	}

	var (
		eventType model.EventType
		payload   model.Payload
	)
	switch ev.Intent.Int64() {
	case x2y2IntentSell:
		eventType = model.EventAcceptAsk
		payload = model.TradePayload{
			Price:  model.FromWei(price),
			Buyer:  addressString(ev.Taker),
			Seller: addressString(ev.Maker),
		}
	case x2y2IntentBuy:
		eventType = model.EventAcceptOffer
		payload = model.TradePayload{
			Price:  model.FromWei(price),
			Buyer:  addressString(ev.Maker),
			Seller: addressString(ev.Taker),
		}
	case x2y2IntentAuction:
		eventType = model.EventSettleAuction
		payload = model.AuctionPayload{
			Price:     model.FromWei(price),
			AuctionID: hashString(ev.ItemHash),
			Seller:    addressString(ev.Maker),
			Bidder:    addressString(ev.Taker),
		}
	default:
		return nil, fmt.Errorf("unsupported intent: %s", ev.Intent)
	}

	info := l.deps.Resolver.Resolve(ctx, log.TxHash, eventType)
	out := l.newEvent(eventType, log, payload)
	out.OrderHash = hashString(ev.ItemHash)
	out = out.WithReceipt(info)
	return &out, nil
}
