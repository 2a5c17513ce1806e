package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"floorScope/internal/model"
)

// OpenSeaExchange is the Wyvern exchange contract.
var OpenSeaExchange = common.HexToAddress("0x7f268357A8c2552623316e2562D90e642bB538E5")

const openSeaABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "buyHash", "type": "bytes32"},
      {"indexed": false, "name": "sellHash", "type": "bytes32"},
      {"indexed": true, "name": "maker", "type": "address"},
      {"indexed": true, "name": "taker", "type": "address"},
      {"indexed": false, "name": "price", "type": "uint256"},
      {"indexed": true, "name": "metadata", "type": "bytes32"}
    ],
    "name": "OrdersMatched",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "hash", "type": "bytes32"}
    ],
    "name": "OrderCancelled",
    "type": "event"
  }
]`

type openSeaOrdersMatched struct {
	BuyHash  [32]byte
	SellHash [32]byte
	Maker    common.Address
	Taker    common.Address
	Price    *big.Int
	Metadata [32]byte
}

type openSeaOrderCancelled struct {
	Hash [32]byte
}

// OpenSeaListener decodes Wyvern exchange logs.
type OpenSeaListener struct {
	base
}

// NewOpenSeaListener builds a listener bound to the Wyvern exchange.
func NewOpenSeaListener(deps Deps) (*OpenSeaListener, error) {
	b, err := newBase(model.MarketplaceOpenSea, OpenSeaExchange, openSeaABIJSON, []string{"OrdersMatched", "OrderCancelled"}, deps)
	if err != nil {
		return nil, err
	}
	return &OpenSeaListener{base: b}, nil
}

// Handle converts an OpenSea log into a canonical event.
func (l *OpenSeaListener) Handle(ctx context.Context, log types.Log) (*model.CanonicalEvent, error) {
	name, err := l.eventName(log)
	if err != nil {
		return nil, err
	}

	switch name {
	case "OrdersMatched":
		var ev openSeaOrdersMatched
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.ordersMatched(ctx, log, ev), nil
	case "OrderCancelled":
		var ev openSeaOrderCancelled
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.cancel(ctx, log, hashString(ev.Hash), common.Address{}), nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

func (l *OpenSeaListener) ordersMatched(ctx context.Context, log types.Log, ev openSeaOrdersMatched) *model.CanonicalEvent {
	info := l.deps.Resolver.Resolve(ctx, log.TxHash, model.EventAcceptAsk)

	// A transaction sent by the maker marks an accepted offer.
	saleType := model.EventAcceptAsk
	if sameAddress(info.Initiator, ev.Maker) {
		saleType = model.EventAcceptOffer
	}

	// Both sale types record the maker as buyer and the taker as seller.
	out := l.newEvent(saleType, log, model.TradePayload{
		Price:  model.FromWei(ev.Price),
		Buyer:  addressString(ev.Maker),
		Seller: addressString(ev.Taker),
	})
	out.OrderHash = hashString(ev.BuyHash)
	out = out.WithReceipt(info)
	return &out
}
