// Package webhook turns inbound WhatsApp deliveries into assistant replies.
//
// A delivery is a batch of items. Items are filtered (self-echo, missing
// chat or text, duplicate transport id) and the rest are dispatched one at a
// time, in order: generate a reply, then send it back to the chat.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/ReplyPipe/internal/assistant"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
)

// Policy decides what a failing item does to the rest of its delivery.
type Policy string

const (
	// PolicyIsolate logs the failure and continues with the next item.
	PolicyIsolate Policy = "isolate"
	// PolicyAbort stops the delivery and returns the error.
	PolicyAbort Policy = "abort"
)

// ParsePolicy parses a BATCH_ERROR_POLICY value. Empty means isolate.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyIsolate:
		return PolicyIsolate, nil
	case PolicyAbort:
		return PolicyAbort, nil
	default:
		return "", fmt.Errorf("invalid batch error policy %q (want isolate or abort)", s)
	}
}

// Replier produces the reply for one inbound text.
type Replier interface {
	ReplyTo(ctx context.Context, inboundText, rawPhone string) (string, error)
}

// Compile-time check that the orchestrator satisfies Replier.
var _ Replier = (*assistant.Orchestrator)(nil)

// Opts holds configuration options for the Processor.
type Opts struct {
	BotNumber string
	Normalize func(string) string
	Dedup     store.DedupRepo
	Policy    Policy
}

// Option defines a configuration option for the Processor.
type Option func(*Opts)

// WithBotNumber sets the assistant's own number for self-echo suppression.
func WithBotNumber(n string) Option {
	return func(o *Opts) { o.BotNumber = n }
}

// WithNormalizer sets the function used to compare sender and bot numbers.
func WithNormalizer(fn func(string) string) Option {
	return func(o *Opts) { o.Normalize = fn }
}

// WithDedup enables duplicate suppression for items carrying a message id.
func WithDedup(repo store.DedupRepo) Option {
	return func(o *Opts) { o.Dedup = repo }
}

// WithPolicy sets the per-item failure policy.
func WithPolicy(p Policy) Option {
	return func(o *Opts) { o.Policy = p }
}

// Processor handles webhook deliveries.
type Processor struct {
	replier   Replier
	sender    messaging.Sender
	normalize func(string) string
	botNumber string
	dedup     store.DedupRepo
	policy    Policy
}

// NewProcessor creates a Processor that replies through replier and sends
// through sender.
func NewProcessor(replier Replier, sender messaging.Sender, opts ...Option) *Processor {
	cfg := Opts{Policy: PolicyIsolate, Normalize: digits}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Normalize == nil {
		cfg.Normalize = digits
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyIsolate
	}
	p := &Processor{
		replier:   replier,
		sender:    sender,
		normalize: cfg.Normalize,
		dedup:     cfg.Dedup,
		policy:    cfg.Policy,
	}
	if cfg.BotNumber != "" {
		p.botNumber = cfg.Normalize(cfg.BotNumber)
	}
	slog.Debug("Processor.NewProcessor: configured", "bot_number_set", p.botNumber != "", "dedup", p.dedup != nil, "policy", p.policy)
	return p
}

// Policy returns the configured failure policy.
func (p *Processor) Policy() Policy {
	return p.policy
}

// HandleDelivery processes one webhook delivery. It returns ignored for a
// delivery without items (malformed ones included) and success once every item was filtered or
// dispatched. Under PolicyAbort the first failing item's error is returned.
func (p *Processor) HandleDelivery(ctx context.Context, payload models.WebhookPayload) (models.WebhookStatus, error) {
	if len(payload.Messages) == 0 && payload.Malformed == 0 {
		slog.Debug("Processor.HandleDelivery: no messages, ignoring")
		return models.WebhookStatusIgnored, nil
	}
	deliveryID := uuid.NewString()
	logger := slog.With("delivery_id", deliveryID)
	logger.Info("Processor.HandleDelivery: delivery received", "items", len(payload.Messages)+payload.Malformed)
	if payload.Malformed > 0 {
		logger.Warn("Processor.HandleDelivery: items filtered", "reason", "malformed", "count", payload.Malformed)
	}

	dispatched, failed := 0, 0
	for i, item := range payload.Messages {
		if reason := p.filterReason(item); reason != "" {
			logger.Debug("Processor.HandleDelivery: item filtered", "index", i, "reason", reason, "chat_id", item.ChatID)
			continue
		}
		fresh, err := p.claim(ctx, item)
		if err != nil {
			logger.Error("Processor.HandleDelivery: dedup check failed", "index", i, "id", item.ID, "error", err)
			failed++
			if p.policy == PolicyAbort {
				return models.WebhookStatusError, err
			}
			continue
		}
		if !fresh {
			logger.Info("Processor.HandleDelivery: duplicate item filtered", "index", i, "id", item.ID)
			continue
		}

		if err := p.dispatch(ctx, logger, item); err != nil {
			failed++
			p.release(ctx, logger, item)
			logger.Error("Processor.HandleDelivery: item failed", "index", i, "chat_id", item.ChatID, "error", err)
			if p.policy == PolicyAbort {
				return models.WebhookStatusError, err
			}
			continue
		}
		dispatched++
		p.markProcessed(ctx, logger, item)
	}
	logger.Info("Processor.HandleDelivery: delivery complete", "dispatched", dispatched, "failed", failed)
	return models.WebhookStatusSuccess, nil
}

// Consume feeds messages from a transport's inbound channel through the
// processor, one single-item delivery each, until ctx is done or the channel
// closes.
func (p *Processor) Consume(ctx context.Context, in <-chan models.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Processor.Consume: context done")
			return
		case msg, ok := <-in:
			if !ok {
				slog.Debug("Processor.Consume: inbound channel closed")
				return
			}
			if _, err := p.HandleDelivery(ctx, models.WebhookPayload{Messages: []models.InboundMessage{msg}}); err != nil {
				slog.Error("Processor.Consume: delivery failed", "chat_id", msg.ChatID, "error", err)
			}
		}
	}
}

func (p *Processor) filterReason(item models.InboundMessage) string {
	if item.FromMe {
		return "from_me"
	}
	if p.botNumber != "" && item.From != "" && p.normalize(item.From) == p.botNumber {
		return "own_number"
	}
	if strings.TrimSpace(item.ChatID) == "" {
		return "missing_chat_id"
	}
	if item.Body() == "" {
		return "missing_text"
	}
	return ""
}

func (p *Processor) dispatch(ctx context.Context, logger *slog.Logger, item models.InboundMessage) error {
	reply, err := p.replier.ReplyTo(ctx, item.Body(), item.ChatID)
	if err != nil {
		if assistant.IsNoReply(err) {
			logger.Warn("Processor.dispatch: no reply generated", "chat_id", item.ChatID, "error", err)
			return nil
		}
		return fmt.Errorf("reply for %s: %w", item.ChatID, err)
	}
	if p.sender == nil {
		logger.Warn("Processor.dispatch: no sender configured, reply dropped", "chat_id", item.ChatID)
		return nil
	}
	res, err := p.sender.SendText(ctx, item.ChatID, reply)
	if err != nil {
		return fmt.Errorf("send to %s: %w", item.ChatID, err)
	}
	if res != nil {
		logger.Info("Processor.dispatch: reply sent", "chat_id", item.ChatID, "message_id", res.ID)
	}
	return nil
}

// claim records the item in the dedup repo and reports whether it is new.
// Items without an id always count as new.
func (p *Processor) claim(ctx context.Context, item models.InboundMessage) (bool, error) {
	if p.dedup == nil || item.ID == "" {
		return true, nil
	}
	fresh, err := p.dedup.RecordInbound(ctx, item.ID, item.ChatID)
	if err != nil {
		return false, fmt.Errorf("record inbound %s: %w", item.ID, err)
	}
	return fresh, nil
}

// release forgets a failed item so a redelivery can retry it.
func (p *Processor) release(ctx context.Context, logger *slog.Logger, item models.InboundMessage) {
	if p.dedup == nil || item.ID == "" {
		return
	}
	if err := p.dedup.ForgetInbound(ctx, item.ID); err != nil {
		logger.Warn("Processor.release: failed to forget inbound record", "id", item.ID, "error", err)
	}
}

func (p *Processor) markProcessed(ctx context.Context, logger *slog.Logger, item models.InboundMessage) {
	if p.dedup == nil || item.ID == "" {
		return
	}
	if err := p.dedup.MarkProcessed(ctx, item.ID); err != nil {
		logger.Warn("Processor.markProcessed: failed", "id", item.ID, "error", err)
	}
}

func digits(s string) string {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
		if dev := strings.IndexByte(s, ':'); dev >= 0 {
			s = s[:dev]
		}
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

