// Package api exposes the ReplyPipe webhook endpoints over HTTP.
//
// /webhook (and /) accepts JSON deliveries from the messaging gateway;
// /webhook/twilio accepts Twilio's form-encoded WhatsApp callbacks. Both feed
// the same webhook processor.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/webhook"
)

// HTTP server configuration constants
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// MaxBodyBytes caps the size of a webhook request body.
	MaxBodyBytes = 1 << 20
	// DefaultReadTimeout bounds reading a request.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds a whole delivery, reply generation included.
	DefaultWriteTimeout = 2 * time.Minute
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// DeliveryHandler processes one webhook delivery.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, payload models.WebhookPayload) (models.WebhookStatus, error)
}

// Compile-time check that the webhook processor satisfies DeliveryHandler.
var _ DeliveryHandler = (*webhook.Processor)(nil)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	Twilio           bool
	TwilioAuthToken  string
	TwilioWebhookURL string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook enables /webhook/twilio. With a non-empty authToken every
// request must carry a valid Twilio signature computed over publicURL, or
// over the URL reconstructed from the request when publicURL is empty.
func WithTwilioWebhook(authToken, publicURL string) Option {
	return func(o *Opts) {
		o.Twilio = true
		o.TwilioAuthToken = authToken
		o.TwilioWebhookURL = publicURL
	}
}

// Server serves the webhook endpoints.
type Server struct {
	handler DeliveryHandler
	opts    Opts
	mux     *http.ServeMux
	server  *http.Server
}

// NewServer creates a Server that forwards deliveries to handler.
func NewServer(handler DeliveryHandler, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{handler: handler, opts: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("/webhook", s.webhookHandler)
	s.mux.HandleFunc("/", s.rootHandler)
	if cfg.Twilio {
		s.mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
		if cfg.TwilioAuthToken == "" {
			slog.Warn("Server.NewServer: Twilio webhook enabled without auth token, signatures will not be checked")
		}
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server.Run: shutdown error", "error", err)
		return err
	}
	return nil
}
