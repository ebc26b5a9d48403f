// Package assistant composes identity and bounded history into a reply
// context, calls the reply generator, and records both sides of the turn.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// IdentityResolver maps a raw chat identifier onto a client profile.
type IdentityResolver interface {
	Normalize(raw string) string
	Resolve(ctx context.Context, raw string) (*models.ClientProfile, error)
}

// SessionManager is the session store adapter used by the orchestrator.
type SessionManager interface {
	GetOrCreate(ctx context.Context, phone string) (*models.Session, bool, error)
	LinkClient(ctx context.Context, phone, clientID string) error
	RecordMessage(ctx context.Context, phone string, role models.Role, content string) error
	GetHistory(ctx context.Context, phone string) ([]models.Message, error)
}

// Orchestrator runs one conversational turn.
type Orchestrator struct {
	identity  IdentityResolver
	sessions  SessionManager
	generator Generator
	persona   Persona
}

// NewOrchestrator creates an Orchestrator. generator may be nil, in which
// case inbound messages are still recorded but no reply is produced.
func NewOrchestrator(identity IdentityResolver, sessions SessionManager, generator Generator, persona Persona) *Orchestrator {
	return &Orchestrator{
		identity:  identity,
		sessions:  sessions,
		generator: generator,
		persona:   persona.WithDefaults(),
	}
}

// ReplyTo records inboundText from rawPhone, generates a reply and records it.
//
// The user message and the reply are persisted by two separate writes, so
// the user message survives a generator failure.
func (o *Orchestrator) ReplyTo(ctx context.Context, inboundText, rawPhone string) (string, error) {
	phone := o.identity.Normalize(rawPhone)
	if phone == "" {
		return "", fmt.Errorf("%w: %q", models.ErrEmptyPhoneNumber, rawPhone)
	}

	profile, err := o.identity.Resolve(ctx, rawPhone)
	if err != nil {
		slog.Warn("Orchestrator.ReplyTo: identity resolution failed, continuing without personalization", "phone", phone, "error", err)
		profile = nil
	}

	sess, _, err := o.sessions.GetOrCreate(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("get or create session: %w", err)
	}
	firstContact := sess.IsFirstContact()

	if profile != nil && !sess.IsLinkedTo(profile.ID) {
		if err := o.sessions.LinkClient(ctx, phone, profile.ID); err != nil {
			slog.Warn("Orchestrator.ReplyTo: linking client failed", "phone", phone, "client_id", profile.ID, "error", err)
		}
	}

	hist, err := o.sessions.GetHistory(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("get history: %w", err)
	}

	if err := o.sessions.RecordMessage(ctx, phone, models.RoleUser, inboundText); err != nil {
		return "", fmt.Errorf("record inbound message: %w", err)
	}

	if o.generator == nil {
		slog.Warn("Orchestrator.ReplyTo: no reply generator configured, message recorded without reply", "phone", phone)
		return "", models.ErrGeneratorUnavailable
	}

	turn := &Context{
		Persona: o.persona,
		Client:  profile,
		History: hist,
		Inbound: inboundText,
	}
	if firstContact {
		turn.Greeting = o.persona.Greeting
	}

	reply, err := o.generator.Generate(ctx, turn)
	if err != nil {
		slog.Error("Orchestrator.ReplyTo: reply generation failed", "phone", phone, "error", err)
		return "", fmt.Errorf("generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", models.ErrEmptyReply
	}

	if err := o.sessions.RecordMessage(ctx, phone, models.RoleAssistant, reply); err != nil {
		return "", fmt.Errorf("record reply: %w", err)
	}

	slog.Info("Orchestrator.ReplyTo: reply generated", "phone", phone, "first_contact", firstContact, "client_linked", profile != nil, "history_len", len(hist))
	return reply, nil
}

// IsNoReply reports whether err means the turn intentionally produced no
// reply rather than failed.
func IsNoReply(err error) bool {
	return errors.Is(err, models.ErrGeneratorUnavailable)
}
