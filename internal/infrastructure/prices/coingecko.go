package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cryptofolio-backend/internal/domain"

	"github.com/shopspring/decimal"
)

// Default client configuration.
const (
	DefaultBaseURL    = "https://api.coingecko.com/api/v3"
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 4 * time.Second
)

// Source returns USD quotes for price ids. Ids the source does not know are omitted.
type Source interface {
	Quotes(ctx context.Context, ids []string) (map[string]domain.Quote, error)
}

// CoinGecko queries the /simple/price endpoint.
type CoinGecko struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

// Option configures CoinGecko.
type Option func(*CoinGecko)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *CoinGecko) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets how many times a failed request is repeated.
func WithMaxRetries(n int) Option {
	return func(c *CoinGecko) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial backoff delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *CoinGecko) {
		c.retryDelay = d
	}
}

// WithAPIKey sends the demo API key header.
func WithAPIKey(key string) Option {
	return func(c *CoinGecko) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *CoinGecko) {
		c.client = client
	}
}

// NewCoinGecko creates a client for baseURL, or the public API when baseURL is empty.
func NewCoinGecko(baseURL string, opts ...Option) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &CoinGecko{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type simplePrice struct {
	USD       decimal.NullDecimal `json:"usd"`
	Change24h decimal.NullDecimal `json:"usd_24h_change"`
}

// Quotes fetches ids in one request. Callers batch.
func (c *CoinGecko) Quotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, domain.Upstream("price source unavailable", err)
	}

	var payload map[string]simplePrice
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.Upstream("price source returned malformed data", err)
	}
	now := c.now()
	for _, id := range ids {
		p, ok := payload[id]
		if !ok || !p.USD.Valid {
			continue
		}
		quote := domain.Quote{ID: id, Price: p.USD.Decimal, PercentChange24h: decimal.Zero, UpdatedAt: now}
		if p.Change24h.Valid {
			quote.PercentChange24h = p.Change24h.Decimal
		}
		out[id] = quote
	}
	return out, nil
}

// get performs a GET with retries and exponential backoff on transport errors,
// 429 and 5xx responses.
func (c *CoinGecko) get(ctx context.Context, endpoint string) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
		}
		return body, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

// Ping checks that the price API answers.
func (c *CoinGecko) Ping(ctx context.Context) error {
	if _, err := c.get(ctx, c.baseURL+"/ping"); err != nil {
		return domain.Upstream("price source unavailable", err)
	}
	return nil
}
