package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
)

// inboundSource is implemented by transports that push received messages.
type inboundSource interface {
	OnMessage(handler func(models.InboundMessage))
}

// WhatsAppService implements Service using the whatsmeow-based client.
type WhatsAppService struct {
	client whatsapp.TextSender
	source inboundSource // nil for mocks
	queue  *inboundQueue
}

// Compile-time checks.
var (
	_ Service       = (*WhatsAppService)(nil)
	_ inboundSource = (*whatsapp.Client)(nil)
)

// NewWhatsAppService wraps a WhatsApp client. When the client can also
// deliver inbound events they are forwarded to Inbound after Start.
func NewWhatsAppService(client whatsapp.TextSender) *WhatsAppService {
	s := &WhatsAppService{client: client, queue: newInboundQueue("WhatsAppService")}
	if src, ok := client.(inboundSource); ok {
		s.source = src
		slog.Debug("WhatsAppService created with event source")
	} else {
		slog.Debug("WhatsAppService created without event source (likely mock)")
	}
	return s
}

func (s *WhatsAppService) Name() string { return TransportWhatsmeow }

// Start registers the inbound event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.source == nil {
		slog.Debug("WhatsAppService.Start: no event source, skipping event handling")
		return nil
	}
	s.source.OnMessage(func(msg models.InboundMessage) {
		if s.queue.emit(msg) {
			slog.Debug("WhatsAppService: inbound message forwarded", "chat_id", msg.ChatID, "id", msg.ID)
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the inbound channel. Events arriving afterwards are dropped.
func (s *WhatsAppService) Stop() error {
	s.queue.stop()
	slog.Info("WhatsAppService.Stop: stopped and channel closed")
	return nil
}

func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.queue.ch
}

// SendText sends a text message through whatsmeow.
func (s *WhatsAppService) SendText(ctx context.Context, to string, text string) (*models.SendResult, error) {
	if s.queue.isStopped() {
		return nil, ErrServiceStopped
	}
	if s.client == nil {
		slog.Warn("WhatsAppService.SendText: no WhatsApp client configured, message not sent", "to", to)
		return nil, nil
	}
	id, err := s.client.SendText(ctx, to, text)
	if err != nil {
		slog.Error("WhatsAppService.SendText: send failed", "to", to, "error", err)
		return nil, err
	}
	slog.Debug("WhatsAppService.SendText: message sent", "to", to, "id", id)
	return &models.SendResult{ID: id, To: to, Status: "sent"}, nil
}
