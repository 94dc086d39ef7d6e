package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nomadly/internal/metrics"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCredential indicates the registrar rejected the configured
	// credentials.
	ErrInvalidCredential = errors.New("registrar invalid credential")
)

// TimeoutConfig holds per-operation-class timeouts. Authentication, customer
// creation and domain registration are tiered separately from simple queries.
type TimeoutConfig struct {
	Auth           time.Duration
	CustomerCreate time.Duration
	Register       time.Duration
	Query          time.Duration
}

// RetryConfig tunes the retry loop applied to retryable failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Config holds registrar client configuration.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeouts TimeoutConfig
	Retry    RetryConfig
}

// Client provides typed access to the OpenProvider-shaped registrar API.
type Client struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	http     *http.Client
	baseURL  string
	username string
	password string
	timeouts TimeoutConfig
	retry    RetryConfig

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a registrar client with tiered timeouts and retry defaults.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openprovider.eu"
	}
	t := cfg.Timeouts
	if t.Auth <= 0 {
		t.Auth = 45 * time.Second
	}
	if t.CustomerCreate <= 0 {
		t.CustomerCreate = 90 * time.Second
	}
	if t.Register <= 0 {
		t.Register = 120 * time.Second
	}
	if t.Query <= 0 {
		t.Query = 15 * time.Second
	}
	r := cfg.Retry
	if r.MaxRetries <= 0 {
		r.MaxRetries = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 2 * time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 30 * time.Second
	}

	return &Client{
		logger:   logger.With("component", "registrar"),
		metrics:  metricRegistry,
		http:     &http.Client{},
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		timeouts: t,
		retry:    r,
	}
}

// APIError describes a non-2xx registrar response.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registrar %s: status=%d body=%s", e.Endpoint, e.Status, e.Body)
}

// Retryable reports whether the failure class warrants a retry: network-level
// errors, rate limiting and 5xx are retried; 4xx validation failures are not.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRetryable classifies an error for the retry loop.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrInvalidCredential) {
		return false
	}
	// transport errors (timeouts, resets) are retryable
	return !errors.Is(err, context.Canceled)
}

// Contact carries customer contact data for registrar customer creation.
type Contact struct {
	Email     string
	FirstName string
	LastName  string
	Country   string
}

type authResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Authenticate obtains a bearer token, caching it until shortly before expiry.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	body := map[string]string{"username": c.username, "password": c.password}
	var resp authResponse
	if err := c.doRetry(ctx, http.MethodPost, "/v1beta/auth/login", c.timeouts.Auth, body, &resp, false); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return "", fmt.Errorf("%w: %s", ErrInvalidCredential, apiErr.Body)
		}
		return "", err
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("registrar auth: empty token")
	}

	c.mu.Lock()
	c.token = resp.Data.Token
	c.tokenExpiry = time.Now().Add(30 * time.Minute)
	c.mu.Unlock()

	return resp.Data.Token, nil
}

type checkResponse struct {
	Data struct {
		Results []struct {
			Domain string `json:"domain"`
			Status string `json:"status"`
			Price  struct {
				Reseller struct {
					Price    float64 `json:"price"`
					Currency string  `json:"currency"`
				} `json:"reseller"`
			} `json:"price"`
		} `json:"results"`
	} `json:"data"`
}

// CheckDomain reports availability and the base reseller price for a domain.
func (c *Client) CheckDomain(ctx context.Context, domain string) (bool, decimal.Decimal, error) {
	name, ext, ok := strings.Cut(domain, ".")
	if !ok {
		return false, decimal.Zero, fmt.Errorf("check domain: missing extension in %q", domain)
	}
	body := map[string]any{
		"domains":    []map[string]string{{"name": name, "extension": ext}},
		"with_price": true,
	}
	var resp checkResponse
	if err := c.doRetry(ctx, http.MethodPost, "/v1beta/domains/check", c.timeouts.Query, body, &resp, true); err != nil {
		return false, decimal.Zero, err
	}
	if len(resp.Data.Results) == 0 {
		return false, decimal.Zero, fmt.Errorf("check domain: empty result for %q", domain)
	}
	res := resp.Data.Results[0]
	price := decimal.NewFromFloat(res.Price.Reseller.Price)
	return strings.EqualFold(res.Status, "free"), price, nil
}

type customerResponse struct {
	Data struct {
		Handle string `json:"handle"`
	} `json:"data"`
}

// CreateCustomer registers a customer contact and returns its handle.
func (c *Client) CreateCustomer(ctx context.Context, contact Contact) (string, error) {
	if contact.FirstName == "" {
		contact.FirstName = "Privacy"
	}
	if contact.LastName == "" {
		contact.LastName = "Protected"
	}
	if contact.Country == "" {
		contact.Country = "PA"
	}
	body := map[string]any{
		"email": contact.Email,
		"name": map[string]string{
			"first_name": contact.FirstName,
			"last_name":  contact.LastName,
		},
		"address": map[string]string{"country": contact.Country},
	}
	var resp customerResponse
	if err := c.doRetry(ctx, http.MethodPost, "/v1beta/customers", c.timeouts.CustomerCreate, body, &resp, true); err != nil {
		return "", err
	}
	if resp.Data.Handle == "" {
		return "", fmt.Errorf("create customer: empty handle")
	}
	return resp.Data.Handle, nil
}

type registerResponse struct {
	Data struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

// RegisterDomain registers a domain for the given customer handle with the
// provided nameservers and returns the registrar's registration id.
func (c *Client) RegisterDomain(ctx context.Context, domain, customerHandle string, nameservers []string) (string, error) {
	name, ext, ok := strings.Cut(domain, ".")
	if !ok {
		return "", fmt.Errorf("register domain: missing extension in %q", domain)
	}
	ns := make([]map[string]string, 0, len(nameservers))
	for _, host := range nameservers {
		ns = append(ns, map[string]string{"name": host})
	}
	body := map[string]any{
		"domain":        map[string]string{"name": name, "extension": ext},
		"period":        1,
		"owner_handle":  customerHandle,
		"admin_handle":  customerHandle,
		"tech_handle":   customerHandle,
		"name_servers":  ns,
		"autorenew":     "off",
		"is_private_whois_enabled": true,
	}
	var resp registerResponse
	if err := c.doRetry(ctx, http.MethodPost, "/v1beta/domains", c.timeouts.Register, body, &resp, true); err != nil {
		return "", err
	}
	if resp.Data.ID == 0 {
		return "", fmt.Errorf("register domain: empty registration id")
	}
	return fmt.Sprintf("%d", resp.Data.ID), nil
}

// doRetry performs an authenticated JSON call with exponential backoff plus
// jitter, bounded by the retry config. Non-retryable errors propagate
// immediately.
func (c *Client) doRetry(ctx context.Context, method, endpoint string, timeout time.Duration, body, dest any, authed bool) error {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Warn("retrying registrar call",
				"endpoint", endpoint, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.do(ctx, method, endpoint, timeout, body, dest, authed)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("registrar %s: retries exhausted: %w", endpoint, lastErr)
}

func (c *Client) do(ctx context.Context, method, endpoint string, timeout time.Duration, body, dest any, authed bool) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if authed {
		token, err := c.Authenticate(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		return fmt.Errorf("registrar request: %w", err)
	}
	defer res.Body.Close()

	c.observe(endpoint, fmt.Sprintf("%d", res.StatusCode), start)

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		if res.StatusCode == http.StatusUnauthorized {
			// token may have been revoked; drop the cache so the retry
			// re-authenticates
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
		}
		return &APIError{Endpoint: endpoint, Status: res.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retry.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if delay > c.retry.MaxDelay {
		delay = c.retry.MaxDelay
	}
	// up to 25% jitter so callers do not retry in lockstep
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}

func (c *Client) observe(endpoint, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RegistrarRequests.WithLabelValues(endpoint, status).Inc()
	c.metrics.RegistrarLatency.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}
