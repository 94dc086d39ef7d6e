package dnsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds DNS provider client configuration.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client provides typed access to the Cloudflare-shaped DNS provider API.
type Client struct {
	logger  *slog.Logger
	baseURL string
	token   string
	http    *http.Client
}

// New creates a DNS provider client.
func New(cfg Config, logger *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.cloudflare.com/client/v4"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "dnsapi"),
		baseURL: base,
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope mirrors the provider's standard response shape.
type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Zone describes a created DNS zone.
type Zone struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	NameServers []string `json:"name_servers"`
}

// CreateZone creates a zone for the domain and returns its id and assigned
// nameservers.
func (c *Client) CreateZone(ctx context.Context, domain string) (*Zone, error) {
	body := map[string]any{"name": domain, "type": "full"}
	var zone Zone
	if err := c.do(ctx, http.MethodPost, "/zones", body, &zone); err != nil {
		return nil, err
	}
	if zone.ID == "" {
		return nil, fmt.Errorf("create zone %s: empty zone id", domain)
	}
	return &zone, nil
}

// DeleteZone removes a zone. Used to roll back provisioning when domain
// registration fails after the zone was created.
func (c *Client) DeleteZone(ctx context.Context, zoneID string) error {
	return c.do(ctx, http.MethodDelete, "/zones/"+zoneID, nil, nil)
}

// Record describes a created DNS record.
type Record struct {
	ID string `json:"id"`
}

// CreateRecord adds a record to a zone.
func (c *Client) CreateRecord(ctx context.Context, zoneID, recordType, name, content string, ttl int) (string, error) {
	if ttl <= 0 {
		ttl = 1 // provider-managed automatic TTL
	}
	body := map[string]any{
		"type":    recordType,
		"name":    name,
		"content": content,
		"ttl":     ttl,
	}
	var record Record
	if err := c.do(ctx, http.MethodPost, "/zones/"+zoneID+"/dns_records", body, &record); err != nil {
		return "", err
	}
	return record.ID, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dns request: %w", err)
	}
	defer res.Body.Close()

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		if len(env.Errors) > 0 {
			return fmt.Errorf("dns %s error: %s (code=%d)", endpoint, env.Errors[0].Message, env.Errors[0].Code)
		}
		return fmt.Errorf("dns %s error: status=%d", endpoint, res.StatusCode)
	}

	if dest == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, dest); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
