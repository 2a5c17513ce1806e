package receipt

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const tokenABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "operator", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "TransferSingle",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "string", "name": "value", "type": "string"},
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"}
    ],
    "name": "URI",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "tokenId", "type": "uint256"}],
    "name": "tokenURI",
    "outputs": [{"internalType": "string", "name": "", "type": "string"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "id", "type": "uint256"}],
    "name": "uri",
    "outputs": [{"internalType": "string", "name": "", "type": "string"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	// SharedStorefront is the OpenSea shared storefront ERC-1155 contract.
	SharedStorefront = common.HexToAddress("0x495f947276749Ce646f68AC8c248420045cb7b5e")
	// LegacyRaribleERC1155 publishes metadata only through URI event logs.
	LegacyRaribleERC1155 = common.HexToAddress("0xd07dc4262BCDbf85190C01c996b4C06a461d2430")
)

var (
	tokenABI     abi.ABI
	tokenABIOnce sync.Once
	tokenABIErr  error
)

// TokenABI returns the parsed ERC-721/ERC-1155 subset used for resolution.
func TokenABI() (abi.ABI, error) {
	tokenABIOnce.Do(func() {
		tokenABI, tokenABIErr = abi.JSON(strings.NewReader(tokenABIJSON))
	})
	return tokenABI, tokenABIErr
}
