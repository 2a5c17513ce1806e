package marketplace

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"floorScope/internal/model"
)

// FoundationMarket is the Foundation NFT market proxy.
var FoundationMarket = common.HexToAddress("0xcDA72070E455bb31C7690a170224Ce43623d0B6f")

const defaultAuctionRegistrySize = 4096

const foundationABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "seller", "type": "address"},
      {"indexed": true, "name": "nftContract", "type": "address"},
      {"indexed": true, "name": "tokenId", "type": "uint256"},
      {"indexed": false, "name": "duration", "type": "uint256"},
      {"indexed": false, "name": "extensionDuration", "type": "uint256"},
      {"indexed": false, "name": "reservePrice", "type": "uint256"},
      {"indexed": false, "name": "auctionId", "type": "uint256"}
    ],
    "name": "ReserveAuctionCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "auctionId", "type": "uint256"},
      {"indexed": true, "name": "bidder", "type": "address"},
      {"indexed": false, "name": "amount", "type": "uint256"},
      {"indexed": false, "name": "endTime", "type": "uint256"}
    ],
    "name": "ReserveAuctionBidPlaced",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "auctionId", "type": "uint256"},
      {"indexed": true, "name": "seller", "type": "address"},
      {"indexed": true, "name": "bidder", "type": "address"},
      {"indexed": false, "name": "totalFees", "type": "uint256"},
      {"indexed": false, "name": "creatorRev", "type": "uint256"},
      {"indexed": false, "name": "sellerRev", "type": "uint256"}
    ],
    "name": "ReserveAuctionFinalized",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "auctionId", "type": "uint256"}
    ],
    "name": "ReserveAuctionCanceled",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "nftContract", "type": "address"},
      {"indexed": true, "name": "tokenId", "type": "uint256"},
      {"indexed": true, "name": "seller", "type": "address"},
      {"indexed": false, "name": "buyer", "type": "address"},
      {"indexed": false, "name": "totalFees", "type": "uint256"},
      {"indexed": false, "name": "creatorRev", "type": "uint256"},
      {"indexed": false, "name": "sellerRev", "type": "uint256"}
    ],
    "name": "BuyPriceAccepted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "nftContract", "type": "address"},
      {"indexed": true, "name": "tokenId", "type": "uint256"},
      {"indexed": true, "name": "buyer", "type": "address"},
      {"indexed": false, "name": "seller", "type": "address"},
      {"indexed": false, "name": "totalFees", "type": "uint256"},
      {"indexed": false, "name": "creatorRev", "type": "uint256"},
      {"indexed": false, "name": "sellerRev", "type": "uint256"}
    ],
    "name": "OfferAccepted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "nftContract", "type": "address"},
      {"indexed": true, "name": "tokenId", "type": "uint256"},
      {"indexed": true, "name": "buyer", "type": "address"},
      {"indexed": false, "name": "amount", "type": "uint256"},
      {"indexed": false, "name": "expiration", "type": "uint256"}
    ],
    "name": "OfferMade",
    "type": "event"
  }
]`

type foundationAuctionCreated struct {
	Seller            common.Address
	NftContract       common.Address
	TokenId           *big.Int
	Duration          *big.Int
	ExtensionDuration *big.Int
	ReservePrice      *big.Int
	AuctionId         *big.Int
}

type foundationBidPlaced struct {
	AuctionId *big.Int
	Bidder    common.Address
	Amount    *big.Int
	EndTime   *big.Int
}

type foundationAuctionFinalized struct {
	AuctionId  *big.Int
	Seller     common.Address
	Bidder     common.Address
	TotalFees  *big.Int
	CreatorRev *big.Int
	SellerRev  *big.Int
}

type foundationAuctionCanceled struct {
	AuctionId *big.Int
}

type foundationBuyPriceAccepted struct {
	NftContract common.Address
	TokenId     *big.Int
	Seller      common.Address
	Buyer       common.Address
	TotalFees   *big.Int
	CreatorRev  *big.Int
	SellerRev   *big.Int
}

type foundationOfferAccepted struct {
	NftContract common.Address
	TokenId     *big.Int
	Buyer       common.Address
	Seller      common.Address
	TotalFees   *big.Int
	CreatorRev  *big.Int
	SellerRev   *big.Int
}

type foundationOfferMade struct {
	NftContract common.Address
	TokenId     *big.Int
	Buyer       common.Address
	Amount      *big.Int
	Expiration  *big.Int
}

// auctionRef is what a bid or settlement needs from its auction's creation.
type auctionRef struct {
	Collection string
	TokenID    string
	Seller     string
}

// FoundationListener decodes Foundation market logs. Auction ids seen in
// ReserveAuctionCreated are remembered so later bids can name their token.
type FoundationListener struct {
	base
	auctions *lru.Cache[string, auctionRef]
}

// NewFoundationListener builds a listener bound to the Foundation market.
func NewFoundationListener(deps Deps) (*FoundationListener, error) {
	b, err := newBase(model.MarketplaceFoundation, FoundationMarket, foundationABIJSON, []string{
		"ReserveAuctionCreated",
		"ReserveAuctionBidPlaced",
		"ReserveAuctionFinalized",
		"ReserveAuctionCanceled",
		"BuyPriceAccepted",
		"OfferAccepted",
		"OfferMade",
	}, deps)
	if err != nil {
		return nil, err
	}
	auctions, err := lru.New[string, auctionRef](defaultAuctionRegistrySize)
	if err != nil {
		return nil, fmt.Errorf("auction registry: %w", err)
	}
	return &FoundationListener{base: b, auctions: auctions}, nil
}

// Handle converts a Foundation log into a canonical event.
func (l *FoundationListener) Handle(ctx context.Context, log types.Log) (*model.CanonicalEvent, error) {
	name, err := l.eventName(log)
	if err != nil {
		return nil, err
	}

	switch name {
	case "ReserveAuctionCreated":
		var ev foundationAuctionCreated
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		ref := auctionRef{
			Collection: addressString(ev.NftContract),
			TokenID:    bigString(ev.TokenId),
			Seller:     addressString(ev.Seller),
		}
		l.auctions.Add(bigString(ev.AuctionId), ref)
		return l.auction(ctx, log, model.EventCreateAuction, ref, model.AuctionPayload{
			Price:     model.FromWei(ev.ReservePrice),
			AuctionID: bigString(ev.AuctionId),
			Seller:    ref.Seller,
		}), nil
	case "ReserveAuctionBidPlaced":
		var ev foundationBidPlaced
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		ref, _ := l.auctions.Get(bigString(ev.AuctionId))
		payload := model.AuctionPayload{
			Price:     model.FromWei(ev.Amount),
			AuctionID: bigString(ev.AuctionId),
			Seller:    ref.Seller,
			Bidder:    addressString(ev.Bidder),
		}
		if ev.EndTime != nil && ev.EndTime.IsInt64() {
			ends := time.Unix(ev.EndTime.Int64(), 0).UTC()
			payload.EndsAt = &ends
		}
		return l.auction(ctx, log, model.EventPlaceBid, ref, payload), nil
	case "ReserveAuctionFinalized":
		var ev foundationAuctionFinalized
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		ref, _ := l.auctions.Get(bigString(ev.AuctionId))
		l.auctions.Remove(bigString(ev.AuctionId))
		return l.auction(ctx, log, model.EventSettleAuction, ref, model.AuctionPayload{
			Price:     model.FromWei(bigSum(ev.TotalFees, ev.CreatorRev, ev.SellerRev)),
			AuctionID: bigString(ev.AuctionId),
			Seller:    addressString(ev.Seller),
			Bidder:    addressString(ev.Bidder),
		}), nil
	case "ReserveAuctionCanceled":
		var ev foundationAuctionCanceled
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		ref, _ := l.auctions.Get(bigString(ev.AuctionId))
		l.auctions.Remove(bigString(ev.AuctionId))
		out := l.cancel(ctx, log, bigString(ev.AuctionId), common.Address{})
		if out.Collection == "" {
			out.Collection = ref.Collection
			out.TokenID = ref.TokenID
		}
		return out, nil
	case "BuyPriceAccepted":
		var ev foundationBuyPriceAccepted
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.trade(ctx, log, model.EventAcceptAsk, ev.NftContract, ev.TokenId, ev.Buyer, ev.Seller,
			bigSum(ev.TotalFees, ev.CreatorRev, ev.SellerRev)), nil
	case "OfferAccepted":
		var ev foundationOfferAccepted
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.trade(ctx, log, model.EventAcceptOffer, ev.NftContract, ev.TokenId, ev.Buyer, ev.Seller,
			bigSum(ev.TotalFees, ev.CreatorRev, ev.SellerRev)), nil
	case "OfferMade":
		var ev foundationOfferMade
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.offer(ctx, log, ev), nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

func (l *FoundationListener) auction(ctx context.Context, log types.Log, eventType model.EventType, ref auctionRef, payload model.AuctionPayload) *model.CanonicalEvent {
	info := l.deps.Resolver.Resolve(ctx, log.TxHash, eventType)
	out := l.newEvent(eventType, log, payload)
	out.OrderHash = payload.AuctionID
	out.Collection = ref.Collection
	out.TokenID = ref.TokenID
	out = out.WithReceipt(info)
	return &out
}

func (l *FoundationListener) trade(ctx context.Context, log types.Log, saleType model.EventType, collection common.Address, tokenID *big.Int, buyer, seller common.Address, price *big.Int) *model.CanonicalEvent {
	info := l.deps.Resolver.Resolve(ctx, log.TxHash, saleType)
	out := l.newEvent(saleType, log, model.TradePayload{
		Price:  model.FromWei(price),
		Buyer:  addressString(buyer),
		Seller: addressString(seller),
	})
	out.Collection = addressString(collection)
	out.TokenID = bigString(tokenID)
	out = out.WithReceipt(info)
	return &out
}

func (l *FoundationListener) offer(ctx context.Context, log types.Log, ev foundationOfferMade) *model.CanonicalEvent {
	info := l.deps.Resolver.Resolve(ctx, log.TxHash, model.EventOffer)
	payload := model.OrderPayload{
		Price: model.FromWei(ev.Amount),
		Maker: addressString(ev.Buyer),
	}
	if ev.Expiration != nil && ev.Expiration.IsInt64() {
		ends := time.Unix(ev.Expiration.Int64(), 0).UTC()
		payload.EndsAt = &ends
	}
	out := l.newEvent(model.EventOffer, log, payload)
	out.Collection = addressString(ev.NftContract)
	out.TokenID = bigString(ev.TokenId)
	out = out.WithReceipt(info)
	return &out
}
