package orderbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"floorScope/internal/metrics"
)

const (
	DefaultBaseURL   = "https://api.looksrare.org"
	DefaultRetries   = 3
	DefaultMaxJitter = 30 * time.Second

	rateLimitMessage = "Too Many Requests"
)

// ErrRateLimited marks a rate-limited order book response.
var ErrRateLimited = errors.New("order book rate limited")

// Order is one order book entry. Price is an integer wei amount.
type Order struct {
	Hash              string `json:"hash"`
	CollectionAddress string `json:"collectionAddress"`
	TokenID           string `json:"tokenId"`
	IsOrderAsk        bool   `json:"isOrderAsk"`
	Signer            string `json:"signer"`
	Strategy          string `json:"strategy"`
	Currency          string `json:"currencyAddress"`
	Price             string `json:"price"`
	Amount            int64  `json:"amount"`
	StartTime         int64  `json:"startTime"`
	EndTime           int64  `json:"endTime"`
	Status            string `json:"status"`
}

// PriceWei parses the order price.
func (o Order) PriceWei() (*big.Int, bool) {
	return new(big.Int).SetString(strings.TrimSpace(o.Price), 10)
}

type ordersResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Data    []Order `json:"data"`
}

// ClientConfig holds order book client settings.
type ClientConfig struct {
	BaseURL     string
	RatePerSec  float64
	Burst       int
	Retries     int
	MaxJitter   time.Duration
	HTTPTimeout time.Duration
}

// Client queries the LooksRare REST order book.
type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	retries   int
	maxJitter time.Duration
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func(max time.Duration) time.Duration
}

// NewClient builds a Client. A zero RatePerSec disables pacing.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.MaxJitter <= 0 {
		cfg.MaxJitter = DefaultMaxJitter
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		retries:   cfg.Retries,
		maxJitter: cfg.MaxJitter,
		logger:    logger,
		sleep:     sleepContext,
		jitter:    randomJitter,
	}
}

// TopBid returns the highest valid bid of a collection, or nil if none.
func (c *Client) TopBid(ctx context.Context, collection string) (*Order, error) {
	return c.first(ctx, collection, false, "PRICE_DESC")
}

// LowestAsk returns the cheapest valid listing of a collection, or nil if none.
func (c *Client) LowestAsk(ctx context.Context, collection string) (*Order, error) {
	return c.first(ctx, collection, true, "PRICE_ASC")
}

func (c *Client) first(ctx context.Context, collection string, isAsk bool, sort string) (*Order, error) {
	query := url.Values{}
	query.Set("isOrderAsk", fmt.Sprintf("%t", isAsk))
	query.Set("collection", collection)
	query.Set("status[]", "VALID")
	query.Set("sort", sort)
	query.Set("pagination[first]", "1")

	orders, err := c.callWithRetries(ctx, c.baseURL+"/api/v1/orders?"+query.Encode(), c.retries)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// callWithRetries performs a GET against endpoint. Rate limits and
// connection resets or timeouts are retried after a random jitter while
// retries remain; once exhausted the result is empty with no error.
func (c *Client) callWithRetries(ctx context.Context, endpoint string, retries int) ([]Order, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		orders, err := c.call(ctx, endpoint)
		if err == nil {
			metrics.OrderBookRequests.WithLabelValues("ok").Inc()
			return orders, nil
		}

		var result string
		switch {
		case errors.Is(err, ErrRateLimited):
			result = "rate_limited"
		case isTransient(err):
			result = "transient"
		default:
			metrics.OrderBookRequests.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.OrderBookRequests.WithLabelValues(result).Inc()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if retries <= 0 {
			metrics.OrderBookRequests.WithLabelValues("exhausted").Inc()
			c.logger.Warn("order book retries exhausted", zap.String("endpoint", endpoint), zap.Error(err))
			return nil, nil
		}

		delay := c.jitter(c.maxJitter)
		c.logger.Debug("order book retry",
			zap.String("reason", result),
			zap.Int("retries_left", retries),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		retries--
	}
}

func (c *Client) call(ctx context.Context, endpoint string) ([]Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var decoded ordersResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode order book response (status %d): %w", resp.StatusCode, err)
	}
	if decoded.Message == rateLimitMessage {
		return nil, ErrRateLimited
	}
	if !decoded.Success {
		return nil, fmt.Errorf("order book error (status %d): %s", resp.StatusCode, decoded.Message)
	}
	return decoded.Data, nil
}

func isTransient(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
