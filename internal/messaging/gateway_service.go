package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ReplyPipe/internal/gateway"
	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// GatewayService implements Service on top of the HTTP messaging gateway.
// Inbound messages reach ReplyPipe through the webhook endpoint instead.
type GatewayService struct {
	client Sender
	queue  *inboundQueue
}

// Compile-time checks.
var (
	_ Service = (*GatewayService)(nil)
	_ Sender  = (*gateway.Client)(nil)
)

// NewGatewayService wraps a gateway client.
func NewGatewayService(client Sender) *GatewayService {
	return &GatewayService{client: client, queue: newInboundQueue("GatewayService")}
}

func (s *GatewayService) Name() string { return TransportGateway }

func (s *GatewayService) Start(ctx context.Context) error {
	slog.Debug("GatewayService.Start: nothing to start, inbound arrives via webhook")
	return nil
}

func (s *GatewayService) Stop() error {
	s.queue.stop()
	slog.Info("GatewayService.Stop: stopped")
	return nil
}

func (s *GatewayService) Inbound() <-chan models.InboundMessage {
	return s.queue.ch
}

// SendText forwards to the gateway client.
func (s *GatewayService) SendText(ctx context.Context, to string, text string) (*models.SendResult, error) {
	if s.queue.isStopped() {
		return nil, ErrServiceStopped
	}
	if s.client == nil {
		slog.Warn("GatewayService.SendText: no gateway client configured, message not sent", "to", to)
		return nil, nil
	}
	return s.client.SendText(ctx, to, text)
}
