// Package whatsapp wraps the whatsmeow client so ReplyPipe can talk to
// WhatsApp directly as a linked device.
//
// It sends text replies and converts incoming text events into
// models.InboundMessage values for the webhook processor.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow device database
	DefaultSQLitePath = "/var/lib/replypipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// TextSender sends a text message and returns the transport message ID.
type TextSender interface {
	SendText(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
	LogLevel    string // whatsmeow internal log level
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the raw pairing code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithLogLevel sets the whatsmeow log level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = level
	}
}

// Client wraps the whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// Compile-time check that Client implements TextSender.
var _ TextSender = (*Client)(nil)

// needsForeignKeyWarning reports whether dsn is a SQLite DSN without
// foreign keys enabled, which whatsmeow strongly recommends.
func needsForeignKeyWarning(dsn string) bool {
	if store.DetectDSNType(dsn) != "sqlite3" {
		return false
	}
	return !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "foreign_keys")
}

// NewClient opens the device store, logs in with a QR code when needed, and
// connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := store.DetectDSNType(dbDSN)
	if needsForeignKeyWarning(dbDSN) {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(ctx)
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Info("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient}, nil
}

// ParseRecipient accepts a full JID ("213555123456@s.whatsapp.net") or a
// bare number and returns the JID to send to.
func ParseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, fmt.Errorf("recipient cannot be empty")
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid, nil
	}
	return types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix), nil
}

// SendText sends a plain text message and returns its message ID.
func (c *Client) SendText(ctx context.Context, to string, body string) (string, error) {
	if c.waClient == nil || c.waClient.Store == nil {
		return "", fmt.Errorf("whatsapp client not initialized")
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}
	jid, err := ParseRecipient(to)
	if err != nil {
		return "", err
	}

	msg := &waE2E.Message{Conversation: &body}
	resp, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", jid.String())
		return "", fmt.Errorf("failed to send message to %s: %w", jid.String(), err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", jid.String(), "id", resp.ID)
	return string(resp.ID), nil
}

// OnMessage registers handler for incoming text messages. Non-text events
// are ignored.
func (c *Client) OnMessage(handler func(models.InboundMessage)) {
	c.waClient.AddEventHandler(func(evt interface{}) {
		msg, ok := evt.(*events.Message)
		if !ok {
			return
		}
		in, ok := InboundFromEvent(msg)
		if !ok {
			slog.Debug("WhatsApp ignoring non-text message", "chat", msg.Info.Chat.String())
			return
		}
		handler(in)
	})
}

// OwnNumber returns the user part of the logged-in device JID.
func (c *Client) OwnNumber() string {
	if c.waClient == nil || c.waClient.Store == nil || c.waClient.Store.ID == nil {
		return ""
	}
	return c.waClient.Store.ID.User
}

// Disconnect closes the WhatsApp connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// InboundFromEvent converts a whatsmeow message event into the webhook item
// shape. It reports false for events that carry no text.
func InboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil {
		return models.InboundMessage{}, false
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return models.InboundMessage{}, false
	}
	if evt.Info.IsGroup || evt.Info.Chat.Server == types.GroupServer || evt.Info.IsIncomingBroadcast() {
		return models.InboundMessage{}, false
	}
	alt := evt.Info.SenderAlt
	if evt.Info.IsFromMe {
		alt = evt.Info.RecipientAlt
	}
	chat := phoneJID(evt.Info.Chat, alt)
	sender := phoneJID(evt.Info.Sender, evt.Info.SenderAlt)
	return models.InboundMessage{
		ID:     string(evt.Info.ID),
		FromMe: evt.Info.IsFromMe,
		ChatID: chat.String(),
		From:   sender.User,
		Type:   "text",
		Text:   &models.TextBody{Body: text},
	}, true
}

// phoneJID prefers the phone-number address when jid is a hidden-user (LID)
// address and alt carries the phone number.
func phoneJID(jid, alt types.JID) types.JID {
	if jid.Server == types.HiddenUserServer && !alt.IsEmpty() && alt.Server == types.DefaultUserServer {
		return alt.ToNonAD()
	}
	return jid.ToNonAD()
}

// SentMessage records one message passed to MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient implements TextSender without a WhatsApp connection.
type MockClient struct {
	SentMessages []SentMessage
	Err          error
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendText records the message and returns Err, if set.
func (m *MockClient) SendText(ctx context.Context, to string, body string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return fmt.Sprintf("mock-%d", len(m.SentMessages)), nil
}
