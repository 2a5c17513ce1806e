package ownership

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultMoralisURL = "https://deep-index.moralis.io/api/v2"

// Moralis lists holdings through the /{address}/nft endpoint.
type Moralis struct {
	baseURL string
	apiKey  string
	chain   string
	client  *http.Client
}

func NewMoralis(baseURL, apiKey, chain string, timeout time.Duration) *Moralis {
	if baseURL == "" {
		baseURL = DefaultMoralisURL
	}
	if chain == "" {
		chain = "eth"
	}
	return &Moralis{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		chain:   chain,
		client:  newHTTPClient(timeout),
	}
}

func (m *Moralis) Name() string { return "moralis" }

type moralisResponse struct {
	Result []struct {
		TokenAddress string `json:"token_address"`
		TokenID      string `json:"token_id"`
	} `json:"result"`
	Cursor string `json:"cursor"`
}

func (m *Moralis) GetAddressNFTs(ctx context.Context, address string) ([]string, error) {
	if m.apiKey == "" {
		return nil, fmt.Errorf("moralis api key is not configured")
	}
	headers := map[string]string{"X-API-Key": m.apiKey}
	tokens := make([]string, 0)
	cursor := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{}
		query.Set("chain", m.chain)
		query.Set("format", "decimal")
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		endpoint := fmt.Sprintf("%s/%s/nft?%s", m.baseURL, url.PathEscape(address), query.Encode())

		var resp moralisResponse
		if err := getJSON(ctx, m.client, endpoint, headers, &resp); err != nil {
			return nil, fmt.Errorf("moralis nft: %w", err)
		}
		for _, nft := range resp.Result {
			id, ok := parseTokenID(nft.TokenID)
			if !ok || nft.TokenAddress == "" {
				continue
			}
			tokens = append(tokens, TokenID(nft.TokenAddress, id))
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}
	return tokens, nil
}
