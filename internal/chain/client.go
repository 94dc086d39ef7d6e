package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nomadly/internal/metrics"
	"nomadly/internal/watch"

	"github.com/shopspring/decimal"
)

// ErrMissingAPIKey indicates the client was configured without credentials and
// without an explicit simulation mode. There is no silent mock fallback: a
// real provider endpoint or a declared simulation is required.
var ErrMissingAPIKey = errors.New("chain api key required unless simulation mode is declared")

// Config holds BlockBee-shaped chain-data client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	Simulation bool
	Timeout    time.Duration
}

// Client creates payment addresses and fetches address transactions from the
// chain-data provider. In declared simulation mode it serves deterministic
// addresses and in-memory transactions instead of reaching the network.
type Client struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	baseURL    string
	apiKey     string
	simulation bool
	http       *http.Client

	simMu  sync.Mutex
	simTxs map[string][]watch.Transaction
}

// New creates a chain-data client. Fails fast when neither an API key nor
// simulation mode is configured.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) (*Client, error) {
	if cfg.APIKey == "" && !cfg.Simulation {
		return nil, ErrMissingAPIKey
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.blockbee.io"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		logger:     logger.With("component", "chain"),
		metrics:    metricRegistry,
		baseURL:    base,
		apiKey:     cfg.APIKey,
		simulation: cfg.Simulation,
		http:       &http.Client{Timeout: timeout},
	}
	if cfg.Simulation {
		c.simTxs = map[string][]watch.Transaction{}
		c.logger.Warn("chain client running in simulation mode, no real transactions will be observed")
	}
	return c, nil
}

type createResponse struct {
	Status    string `json:"status"`
	AddressIn string `json:"address_in"`
}

// CreateAddress provisions a payment address for the currency, registering the
// callback URL for push confirmations.
func (c *Client) CreateAddress(ctx context.Context, currency, callbackURL, orderID string) (string, error) {
	currency = strings.ToLower(currency)
	if c.simulation {
		return fmt.Sprintf("sim-%s-%s", currency, orderID), nil
	}

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("callback", callbackURL)
	params.Set("order_id", orderID)

	var resp createResponse
	if err := c.get(ctx, "/"+currency+"/create", params, &resp); err != nil {
		return "", err
	}
	if resp.Status != "success" || resp.AddressIn == "" {
		return "", fmt.Errorf("chain create %s: unexpected status %q", currency, resp.Status)
	}
	return resp.AddressIn, nil
}

type logsResponse struct {
	Status    string `json:"status"`
	Callbacks []struct {
		TxID          string `json:"txid_in"`
		ValueCoin     string `json:"value_coin"`
		Confirmations int    `json:"confirmations"`
	} `json:"callbacks"`
}

// AddressTransactions returns recent transactions observed for an address.
// Satisfies watch.ChainProvider.
func (c *Client) AddressTransactions(ctx context.Context, currency, address string) ([]watch.Transaction, error) {
	currency = strings.ToLower(currency)
	if c.simulation {
		c.simMu.Lock()
		defer c.simMu.Unlock()
		return append([]watch.Transaction(nil), c.simTxs[simKey(currency, address)]...), nil
	}

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("address", address)

	var resp logsResponse
	if err := c.get(ctx, "/"+currency+"/logs", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("chain logs %s: unexpected status %q", currency, resp.Status)
	}

	txs := make([]watch.Transaction, 0, len(resp.Callbacks))
	for _, cb := range resp.Callbacks {
		amount, err := decimal.NewFromString(cb.ValueCoin)
		if err != nil {
			c.logger.Warn("unparseable transaction amount", "tx", cb.TxID, "value", cb.ValueCoin)
			continue
		}
		txs = append(txs, watch.Transaction{
			Hash:          cb.TxID,
			Amount:        amount,
			Confirmations: cb.Confirmations,
		})
	}
	return txs, nil
}

// SimulateTransaction records a transaction against an address in simulation
// mode, for development and tests.
func (c *Client) SimulateTransaction(currency, address string, tx watch.Transaction) error {
	if !c.simulation {
		return errors.New("simulate transaction: client is not in simulation mode")
	}
	c.simMu.Lock()
	key := simKey(strings.ToLower(currency), address)
	c.simTxs[key] = append(c.simTxs[key], tx)
	c.simMu.Unlock()
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		return fmt.Errorf("chain request: %w", err)
	}
	defer res.Body.Close()

	c.observe(endpoint, fmt.Sprintf("%d", res.StatusCode), start)

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("chain error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) observe(endpoint, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ChainRequests.WithLabelValues(endpoint, status).Inc()
	c.metrics.ChainLatency.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}

func simKey(currency, address string) string {
	return currency + ":" + address
}
