// Package gateway sends WhatsApp text messages through an HTTP messaging
// gateway (Whapi-style API: POST {base}/messages/text with a bearer token).
package gateway

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

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// DefaultTimeout bounds a single gateway request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept in the error text.
const maxErrorBody = 512

// Opts holds configuration options for the gateway client.
type Opts struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option defines a configuration option for the gateway client.
type Option func(*Opts)

// WithBaseURL sets the gateway base URL, e.g. https://gate.whapi.cloud.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client calls the messaging gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a gateway client. Missing credentials are accepted;
// SendText then logs and skips every message.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   strings.TrimSpace(cfg.Token),
		http:    cfg.HTTPClient,
	}
}

// Configured reports whether both base URL and token are set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

type sendTextRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendTextResponse struct {
	Sent    bool `json:"sent"`
	Message struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"message"`
}

// SendText posts a text message. Without credentials it logs a warning and
// returns nil, nil. Non-2xx responses are errors.
func (c *Client) SendText(ctx context.Context, to, body string) (*models.SendResult, error) {
	if !c.Configured() {
		slog.Warn("gateway.Client.SendText: gateway credentials not configured, message not sent", "to", to)
		return nil, nil
	}

	payload, err := json.Marshal(sendTextRequest{To: to, Body: body})
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/text", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("gateway.Client.SendText: request failed", "to", to, "error", err)
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		slog.Error("gateway.Client.SendText: gateway rejected message", "to", to, "status", resp.StatusCode)
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, snippet)
	}

	result := &models.SendResult{To: to, Status: "sent"}
	var decoded sendTextResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			slog.Warn("gateway.Client.SendText: unexpected response body", "to", to, "error", err)
		} else {
			result.ID = decoded.Message.ID
			if decoded.Message.Status != "" {
				result.Status = decoded.Message.Status
			}
		}
	}
	slog.Debug("gateway.Client.SendText: message sent", "to", to, "id", result.ID, "status", result.Status)
	return result, nil
}
