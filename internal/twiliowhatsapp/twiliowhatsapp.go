// Package twiliowhatsapp wraps the Twilio API for WhatsApp messaging.
//
// It sends replies through the Twilio REST API and turns Twilio's inbound
// form callbacks into models.InboundMessage values.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// ChannelPrefix marks WhatsApp addresses in the Twilio API.
const ChannelPrefix = "whatsapp:"

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// TextSender sends a text message and returns the Twilio message SID.
type TextSender interface {
	SendText(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sender number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client    *twilio.RestClient
	fromWhats string // "whatsapp:+1234567890"
}

// Compile-time check that Client implements TextSender.
var _ TextSender = (*Client)(nil)

// NewClient creates a Twilio client. Account SID, auth token and sender
// number are required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:    client,
		fromWhats: WithChannelPrefix(cfg.FromWhats),
	}, nil
}

// WithChannelPrefix returns addr with exactly one "whatsapp:" prefix.
func WithChannelPrefix(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, ChannelPrefix) {
		return addr
	}
	return ChannelPrefix + addr
}

// SendText sends a WhatsApp message and returns the message SID.
func (c *Client) SendText(ctx context.Context, to string, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(WithChannelPrefix(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendText failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return sid, nil
}

// ValidateRequest checks the X-Twilio-Signature of a parsed form request
// against url, the public URL Twilio posted to.
func ValidateRequest(authToken, url string, r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := twclient.NewRequestValidator(authToken)
	return validator.Validate(url, params, r.Header.Get(SignatureHeader))
}

// ParseInbound converts a parsed Twilio WhatsApp callback into a webhook
// item. Callbacks without a body (status callbacks, media-only) return
// false.
func ParseInbound(r *http.Request) (models.InboundMessage, bool) {
	from := strings.TrimSpace(r.PostFormValue("From"))
	body := r.PostFormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		return models.InboundMessage{}, false
	}
	chat := strings.TrimPrefix(from, ChannelPrefix)
	return models.InboundMessage{
		ID:     r.PostFormValue("MessageSid"),
		ChatID: chat,
		From:   chat,
		Type:   "text",
		Text:   &models.TextBody{Body: body},
	}, true
}

// SentMessage records one message passed to MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient implements TextSender in memory.
type MockClient struct {
	SentMessages []SentMessage
	Err          error
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

// SendText records the message and returns Err, if set.
func (m *MockClient) SendText(ctx context.Context, to string, body string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return fmt.Sprintf("SM%032d", len(m.SentMessages)), nil
}
