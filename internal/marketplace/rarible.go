package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"floorScope/internal/model"
)

// RaribleExchange is the Rarible ExchangeV2 proxy.
var RaribleExchange = common.HexToAddress("0x9757F2d2b135150BBeb65308D4a91804107cd8D6")

const raribleABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "leftHash", "type": "bytes32"},
      {"indexed": false, "name": "rightHash", "type": "bytes32"},
      {"indexed": false, "name": "leftMaker", "type": "address"},
      {"indexed": false, "name": "rightMaker", "type": "address"},
      {"indexed": false, "name": "newLeftFill", "type": "uint256"},
      {"indexed": false, "name": "newRightFill", "type": "uint256"},
      {"components": [
        {"name": "assetClass", "type": "bytes4"},
        {"name": "data", "type": "bytes"}
      ], "indexed": false, "name": "leftAsset", "type": "tuple"},
      {"components": [
        {"name": "assetClass", "type": "bytes4"},
        {"name": "data", "type": "bytes"}
      ], "indexed": false, "name": "rightAsset", "type": "tuple"}
    ],
    "name": "Match",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "hash", "type": "bytes32"}
    ],
    "name": "Cancel",
    "type": "event"
  }
]`

var (
	raribleClassETH     = assetClass("ETH")
	raribleClassERC20   = assetClass("ERC20")
	raribleClassERC721  = assetClass("ERC721")
	raribleClassERC1155 = assetClass("ERC1155")
)

func assetClass(name string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(name))[:4])
	return out
}

type raribleAssetType struct {
	AssetClass [4]byte
	Data       []byte
}

type raribleMatch struct {
	LeftHash     [32]byte
	RightHash    [32]byte
	LeftMaker    common.Address
	RightMaker   common.Address
	NewLeftFill  *big.Int
	NewRightFill *big.Int
	LeftAsset    raribleAssetType
	RightAsset   raribleAssetType
}

type raribleCancel struct {
	Hash [32]byte
}

// RaribleListener decodes Rarible ExchangeV2 logs.
type RaribleListener struct {
	base
	nftData abi.Arguments
}

// NewRaribleListener builds a listener bound to the Rarible exchange.
func NewRaribleListener(deps Deps) (*RaribleListener, error) {
	b, err := newBase(model.MarketplaceRarible, RaribleExchange, raribleABIJSON, []string{"Match", "Cancel"}, deps)
	if err != nil {
		return nil, err
	}
	addressType, _ := abi.NewType("address", "", nil)
	uintType, _ := abi.NewType("uint256", "", nil)
	return &RaribleListener{
		base:    b,
		nftData: abi.Arguments{{Type: addressType}, {Type: uintType}},
	}, nil
}

// Handle converts a Rarible log into a canonical event.
func (l *RaribleListener) Handle(ctx context.Context, log types.Log) (*model.CanonicalEvent, error) {
	name, err := l.eventName(log)
	if err != nil {
		return nil, err
	}

	switch name {
	case "Match":
		var ev raribleMatch
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.match(ctx, log, ev)
	case "Cancel":
		var ev raribleCancel
		if err := l.decode(&ev, name, log); err != nil {
			return nil, err
		}
		return l.cancel(ctx, log, hashString(ev.Hash), common.Address{}), nil
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

func (l *RaribleListener) match(ctx context.Context, log types.Log, ev raribleMatch) (*model.CanonicalEvent, error) {
	// The order making a payment asset is the bid; its maker buys.
	var (
		buyer, seller common.Address
		price         *big.Int
		nft           raribleAssetType
		orderHash     [32]byte
	)
	switch {
	case isPayment(ev.LeftAsset.AssetClass):
		buyer, seller = ev.LeftMaker, ev.RightMaker
		price, nft, orderHash = ev.NewRightFill, ev.RightAsset, ev.LeftHash
	case isPayment(ev.RightAsset.AssetClass):
		buyer, seller = ev.RightMaker, ev.LeftMaker
		price, nft, orderHash = ev.NewLeftFill, ev.LeftAsset, ev.RightHash
	default:
		return nil, fmt.Errorf("match without payment asset")
	}

	info := l.deps.Resolver.Resolve(ctx, log.TxHash, model.EventAcceptAsk)
	saleType := model.EventAcceptAsk
	if sameAddress(info.Initiator, seller) {
		saleType = model.EventAcceptOffer
	}

	out := l.newEvent(saleType, log, model.TradePayload{
		Price:  model.FromWei(price),
		Buyer:  addressString(buyer),
		Seller: addressString(seller),
	})
	out.OrderHash = hashString(orderHash)
	if collection, tokenID, standard, ok := l.nftAsset(nft); ok {
		out.Collection = collection
		out.TokenID = tokenID
		out.Standard = standard
	}
	out = out.WithReceipt(info)
	return &out, nil
}

// nftAsset decodes the (token, tokenId) pair of an ERC-721/ERC-1155 asset.
func (l *RaribleListener) nftAsset(asset raribleAssetType) (string, string, model.Standard, bool) {
	var standard model.Standard
	switch asset.AssetClass {
	case raribleClassERC721:
		standard = model.StandardERC721
	case raribleClassERC1155:
		standard = model.StandardERC1155
	default:
		return "", "", "", false
	}
	values, err := l.nftData.Unpack(asset.Data)
	if err != nil || len(values) != 2 {
		return "", "", "", false
	}
	token, ok := values[0].(common.Address)
	if !ok {
		return "", "", "", false
	}
	tokenID, ok := values[1].(*big.Int)
	if !ok {
		return "", "", "", false
	}
	return addressString(token), tokenID.String(), standard, true
}

func isPayment(class [4]byte) bool {
	return class == raribleClassETH || class == raribleClassERC20
}
