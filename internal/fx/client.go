package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nomadly/internal/cache"

	"github.com/shopspring/decimal"
)

const defaultRateCacheTTL = 5 * time.Minute

// Config holds currency conversion client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client converts between currencies using the FastForex-shaped API, caching
// rates in Redis so repeated pricing of the same pair stays cheap.
type Client struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	http    *http.Client
	cache   *cache.Redis
	rateTTL time.Duration
}

// New creates a conversion client.
func New(cfg Config, logger *slog.Logger, redis *cache.Redis) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.fastforex.io"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "fx"),
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		cache:   redis,
		rateTTL: defaultRateCacheTTL,
	}
}

type fetchOneResponse struct {
	Result map[string]float64 `json:"result"`
}

// Rate returns the conversion rate from one currency to another.
func (c *Client) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	cacheKey := fmt.Sprintf("nomadly:fxrate:%s:%s", from, to)
	if c.cache != nil {
		var cached string
		ok, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("read rate cache failed", "error", err)
		} else if ok {
			if rate, err := decimal.NewFromString(cached); err == nil {
				return rate, nil
			}
		}
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("from", from)
	params.Set("to", to)

	var resp fetchOneResponse
	if err := c.get(ctx, "/fetch-one", params, &resp); err != nil {
		return decimal.Zero, err
	}
	raw, ok := resp.Result[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("fx rate %s/%s: missing in response", from, to)
	}
	rate := decimal.NewFromFloat(raw)

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, rate.String(), c.rateTTL); err != nil {
			c.logger.Warn("set rate cache failed", "error", err)
		}
	}
	return rate, nil
}

// Convert converts an amount between currencies using the current rate.
func (c *Client) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := c.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fx request: %w", err)
	}
	defer res.Body.Close()

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("fx error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
