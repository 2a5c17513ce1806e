package ownership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider resolves a wallet to the "collection/tokenId" ids it holds.
type Provider interface {
	Name() string
	GetAddressNFTs(ctx context.Context, address string) ([]string, error)
}

// ErrNoProvider is returned, alongside an empty list, when no provider
// answered. Callers that only render holdings may ignore it; callers that
// persist holdings must not treat the empty list as the wallet's contents.
var ErrNoProvider = errors.New("no ownership provider answered")

// Cascade tries providers in order and returns the first successful answer.
type Cascade struct {
	providers []Provider
	logger    *zap.Logger
}

// NewCascade builds a Cascade over the non-nil providers.
func NewCascade(logger *zap.Logger, providers ...Provider) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Cascade{providers: kept, logger: logger}
}

func (c *Cascade) Name() string { return "cascade" }

// Len returns the number of configured providers.
func (c *Cascade) Len() int { return len(c.providers) }

func (c *Cascade) GetAddressNFTs(ctx context.Context, address string) ([]string, error) {
	for _, p := range c.providers {
		tokens, err := p.GetAddressNFTs(ctx, address)
		if err == nil {
			return tokens, nil
		}
		if ctx.Err() != nil {
			return []string{}, fmt.Errorf("%w: %w", ErrNoProvider, ctx.Err())
		}
		c.logger.Warn("ownership provider failed",
			zap.String("provider", p.Name()),
			zap.String("address", address),
			zap.Error(err),
		)
	}
	return []string{}, ErrNoProvider
}

// TokenID joins a collection and token id into the watch identifier.
func TokenID(collection, tokenID string) string {
	return strings.ToLower(strings.TrimSpace(collection)) + "/" + strings.TrimSpace(tokenID)
}

const maxPages = 20

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
