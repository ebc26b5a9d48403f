package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio REST API. Twilio posts
// inbound messages to /webhook/twilio, which the api package routes to the
// webhook processor directly.
type TwilioService struct {
	client twiliowhatsapp.TextSender
	queue  *inboundQueue
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// NewTwilioService wraps a Twilio client. A nil client turns every send into
// a logged no-op, matching a deployment without Twilio credentials.
func NewTwilioService(client twiliowhatsapp.TextSender) *TwilioService {
	return &TwilioService{client: client, queue: newInboundQueue("TwilioService")}
}

func (s *TwilioService) Name() string { return TransportTwilio }

// Start is a no-op for Twilio (no live connection)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel and rejects further sends.
func (s *TwilioService) Stop() error {
	s.queue.stop()
	slog.Info("TwilioService.Stop: stopped")
	return nil
}

func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.queue.ch
}

// SendText sends a WhatsApp message via Twilio and reports its SID.
func (s *TwilioService) SendText(ctx context.Context, to string, text string) (*models.SendResult, error) {
	if s.queue.isStopped() {
		return nil, ErrServiceStopped
	}
	if s.client == nil {
		slog.Warn("TwilioService.SendText: Twilio credentials not configured, message not sent", "to", to)
		return nil, nil
	}
	sid, err := s.client.SendText(ctx, to, text)
	if err != nil {
		slog.Error("TwilioService.SendText: send failed", "to", to, "error", err)
		return nil, err
	}
	return &models.SendResult{ID: sid, To: to, Status: "queued"}, nil
}
