// Package models defines the core data structures for ReplyPipe.
//
// It includes the conversation session, history messages, the read-only client
// identity record, and the inbound webhook shapes shared across modules.
package models

import (
	"strings"
	"time"
)

// Role identifies who authored a history message.
type Role string

const (
	// RoleUser marks a message received from the WhatsApp user.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the assistant.
	RoleAssistant Role = "assistant"
)

// IsValidRole checks if the given role is supported in a session history.
func IsValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one entry of a session's bounded history. It is never mutated
// after creation; eviction drops it.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the per-phone-number conversation state.
type Session struct {
	PhoneNumber     string    `json:"phone_number"`        // canonical local number, primary key
	ClientID        *string   `json:"client_id,omitempty"` // weak link to a ClientRecord
	History         []Message `json:"last_messages"`       // oldest first, at most three entries
	MessageCount    int       `json:"message_count"`
	LastInteraction time.Time `json:"last_interaction"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsLinkedTo reports whether the session is already linked to clientID.
func (s *Session) IsLinkedTo(clientID string) bool {
	return s.ClientID != nil && *s.ClientID == clientID
}

// IsFirstContact reports whether no inbound message has been recorded yet.
func (s *Session) IsFirstContact() bool {
	return s.MessageCount == 0
}

// ClientRecord is a customer record owned by the point-of-sale side of the
// business. ReplyPipe only reads it.
type ClientRecord struct {
	ID         string     `json:"id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Phone      string     `json:"phone"`
	Tier       string     `json:"tier"`
	TotalSpent float64    `json:"total_spent"`
	LastVisit  *time.Time `json:"last_visit,omitempty"`
	VisitCount int        `json:"visit_count"`
}

// ClientProfile is the identity projection used to personalize replies.
type ClientProfile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Tier       string     `json:"tier,omitempty"`
	TotalSpent float64    `json:"total_spent"`
	LastVisit  *time.Time `json:"last_visit,omitempty"`
	VisitCount int        `json:"visit_count"`
}

// Profile projects the record onto the fields needed for personalization.
func (c *ClientRecord) Profile() *ClientProfile {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	return &ClientProfile{
		ID:         c.ID,
		Name:       name,
		Tier:       c.Tier,
		TotalSpent: c.TotalSpent,
		LastVisit:  c.LastVisit,
		VisitCount: c.VisitCount,
	}
}

// SendResult describes an outbound message accepted by a transport.
type SendResult struct {
	ID     string `json:"id,omitempty"`
	To     string `json:"to"`
	Status string `json:"status,omitempty"`
}
