package ownership

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultAlchemyURL = "https://eth-mainnet.g.alchemy.com"

// Alchemy lists holdings through the NFT API getNFTs endpoint.
type Alchemy struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAlchemy(baseURL, apiKey string, timeout time.Duration) *Alchemy {
	if baseURL == "" {
		baseURL = DefaultAlchemyURL
	}
	return &Alchemy{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  newHTTPClient(timeout),
	}
}

func (a *Alchemy) Name() string { return "alchemy" }

type alchemyResponse struct {
	OwnedNfts []struct {
		Contract struct {
			Address string `json:"address"`
		} `json:"contract"`
		ID struct {
			TokenID string `json:"tokenId"`
		} `json:"id"`
	} `json:"ownedNfts"`
	PageKey string `json:"pageKey"`
}

func (a *Alchemy) GetAddressNFTs(ctx context.Context, address string) ([]string, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("alchemy api key is not configured")
	}
	tokens := make([]string, 0)
	pageKey := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{}
		query.Set("owner", address)
		query.Set("withMetadata", "false")
		if pageKey != "" {
			query.Set("pageKey", pageKey)
		}
		endpoint := fmt.Sprintf("%s/nft/v2/%s/getNFTs?%s", a.baseURL, a.apiKey, query.Encode())

		var resp alchemyResponse
		if err := getJSON(ctx, a.client, endpoint, nil, &resp); err != nil {
			return nil, fmt.Errorf("alchemy getNFTs: %w", err)
		}
		for _, nft := range resp.OwnedNfts {
			id, ok := parseTokenID(nft.ID.TokenID)
			if !ok || nft.Contract.Address == "" {
				continue
			}
			tokens = append(tokens, TokenID(nft.Contract.Address, id))
		}
		if resp.PageKey == "" {
			break
		}
		pageKey = resp.PageKey
	}
	return tokens, nil
}

// parseTokenID accepts hex (0x prefixed) or decimal ids and returns decimal.
func parseTokenID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	value := new(big.Int)
	var ok bool
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		_, ok = value.SetString(raw[2:], 16)
	} else {
		_, ok = value.SetString(raw, 10)
	}
	if !ok {
		return "", false
	}
	return value.String(), true
}
