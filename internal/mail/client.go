package mail

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

// Config holds transactional email client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	Sender     string
	SenderName string
	Enabled    bool
	Timeout    time.Duration
}

// Client sends transactional email through the Brevo-shaped API. When
// disabled, sends are logged and dropped so the bot runs without email
// credentials.
type Client struct {
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	sender     string
	senderName string
	enabled    bool
	http       *http.Client
}

// New creates a mail client.
func New(cfg Config, logger *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.brevo.com/v3"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:     logger.With("component", "mail"),
		baseURL:    base,
		apiKey:     cfg.APIKey,
		sender:     cfg.Sender,
		senderName: cfg.SenderName,
		enabled:    cfg.Enabled,
		http:       &http.Client{Timeout: timeout},
	}
}

// Send delivers a transactional email to one recipient.
func (c *Client) Send(ctx context.Context, toEmail, subject, htmlBody string) error {
	if !c.enabled {
		c.logger.Debug("mail disabled, dropping message", "to", toEmail, "subject", subject)
		return nil
	}
	if toEmail == "" {
		return nil
	}

	payload := map[string]any{
		"sender":      map[string]string{"email": c.sender, "name": c.senderName},
		"to":          []map[string]string{{"email": toEmail}},
		"subject":     subject,
		"htmlContent": htmlBody,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/smtp/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mail request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("mail error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
