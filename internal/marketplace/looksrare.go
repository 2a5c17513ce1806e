package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"floorScope/internal/model"
)

// LooksRareExchange is the LooksRare v1 exchange contract.
var LooksRareExchange = common.HexToAddress("0x59728544B08AB483533076417FbBB2fD0B17CE3a")

const looksRareABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "orderHash", "type": "bytes32"},
      {"indexed": false, "name": "orderNonce", "type": "uint256"},
      {"indexed": true, "name": "taker", "type": "address"},
      {"indexed": true, "name": "maker", "type": "address"},
      {"indexed": true, "name": "strategy", "type": "address"},
      {"indexed": false, "name": "currency", "type": "address"},
      {"indexed": false, "name": "collection", "type": "address"},
      {"indexed": false, "name": "tokenId", "type": "uint256"},
      {"indexed": false, "name": "amount", "type": "uint256"},
      {"indexed": false, "name": "price", "type": "uint256"}
    ],
    "name": "TakerAsk",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "orderHash", "type": "bytes32"},
      {"indexed": false, "name": "orderNonce", "type": "uint256"},
      {"indexed": true, "name": "taker", "type": "address"},
      {"indexed": true, "name": "maker", "type": "address"},
      {"indexed": true, "name": "strategy", "type": "address"},
      {"indexed": false, "name": "currency", "type": "address"},
      {"indexed": false, "name": "collection", "type": "address"},
      {"indexed": false, "name": "tokenId", "type": "uint256"},
      {"indexed": false, "name": "amount", "type": "uint256"},
      {"indexed": false, "name": "price", "type": "uint256"}
    ],
    "name": "TakerBid",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "user", "type": "address"},
      {"indexed": false, "name": "newMinNonce", "type": "uint256"}
    ],
    "name": "CancelAllOrders",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "user", "type": "address"},
      {"indexed": false, "name": "orderNonces", "type": "uint256[]"}
    ],
    "name": "CancelMultipleOrders",
    "type": "event"
  }
]`

type looksRareTaker struct {
	OrderHash  [32]byte
	OrderNonce *big.Int
	Taker      common.Address
	Maker      common.Address
	Strategy   common.Address
	Currency   common.Address
	Collection common.Address
	TokenId    *big.Int
	Amount     *big.Int
	Price      *big.Int
}

type looksRareCancelAll struct {
	User        common.Address
	NewMinNonce *big.Int
}

type looksRareCancelMultiple struct {
	User        common.Address
	OrderNonces []*big.Int
}

// LooksRareListener decodes LooksRare exchange logs. The event name carries
// the trade direction so no receipt comparison is needed.
type LooksRareListener struct {
	base
}

// NewLooksRareListener builds a listener bound to the LooksRare exchange.
func NewLooksRareListener(deps Deps) (*LooksRareListener, error) {
	b, err := newBase(model.MarketplaceLooksRare, LooksRareExchange, looksRareABIJSON,
		[]string{"TakerAsk", "TakerBid", "CancelAllOrders", "CancelMultipleOrders"}, deps)
	if err != nil {
		return nil, err
	}
	return &LooksRareListener{base: b}, nil
}

// Handle converts a LooksRare log into a canonical event.
func (l *LooksRareListener) Handle(ctx context.Context, log types.Log) (*model.CanonicalEvent, error) {
	name, err := l.eventName(log)
	if err != nil {
		return nil, err
	}

	switch name {
	case "TakerAsk", "TakerBid":
		var ev looksRareTaker
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.taker(ctx, log, name, ev), nil
	case "CancelAllOrders":
		var ev looksRareCancelAll
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.cancel(ctx, log, "", ev.User), nil
	case "CancelMultipleOrders":
		var ev looksRareCancelMultiple
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.cancel(ctx, log, "", ev.User), nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

func (l *LooksRareListener) taker(ctx context.Context, log types.Log, name string, ev looksRareTaker) *model.CanonicalEvent {
	// TakerAsk: the taker sells into the maker's bid.
	saleType := model.EventAcceptOffer
	buyer, seller := ev.Maker, ev.Taker
	if name == "TakerBid" {
		saleType = model.EventAcceptAsk
		buyer, seller = ev.Taker, ev.Maker
	}

	var amount *int64
	if ev.Amount != nil && ev.Amount.IsInt64() {
		n := ev.Amount.Int64()
		amount = &n
	}

	info := l.deps.Resolver.Resolve(ctx, log.TxHash, saleType)
	out := l.newEvent(saleType, log, model.TradePayload{
		Price:  model.FromWei(ev.Price),
		Buyer:  addressString(buyer),
		Seller: addressString(seller),
		Amount: amount,
	})
	out.OrderHash = hashString(ev.OrderHash)
	out.Collection = addressString(ev.Collection)
	out.TokenID = bigString(ev.TokenId)
	out = out.WithReceipt(info)
	return &out
}
