package models

import (
	"encoding/json"
	"strings"
)

// TextBody carries the text of an inbound message.
type TextBody struct {
	Body string `json:"body"`
}

// InboundMessage is one item of a webhook delivery.
type InboundMessage struct {
	ID     string    `json:"id,omitempty"`
	FromMe bool      `json:"from_me"`
	ChatID string    `json:"chat_id"`
	From   string    `json:"from,omitempty"`
	Type   string    `json:"type,omitempty"`
	Text   *TextBody `json:"text,omitempty"`
}

// Body returns the trimmed text body, or "" when the item carries no text.
func (m InboundMessage) Body() string {
	if m.Text == nil {
		return ""
	}
	return strings.TrimSpace(m.Text.Body)
}

// WebhookPayload is the JSON body of one webhook delivery.
// Deliveries without messages (status callbacks and similar) decode to an
// empty Messages slice.
//
// Items are decoded one by one. An item that does not fit InboundMessage
// (a string where an object is expected, a numeric chat_id) is counted in
// Malformed and dropped so its siblings are still processed.
type WebhookPayload struct {
	Messages  []InboundMessage `json:"messages"`
	Malformed int              `json:"-"`
}

// UnmarshalJSON fails only when data is not a JSON object.
func (p *WebhookPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Messages, p.Malformed = nil, 0
	if len(raw.Messages) == 0 || string(raw.Messages) == "null" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw.Messages, &items); err != nil {
		p.Malformed = 1
		return nil
	}
	p.Messages = make([]InboundMessage, 0, len(items))
	for _, item := range items {
		var m InboundMessage
		if err := json.Unmarshal(item, &m); err != nil {
			p.Malformed++
			continue
		}
		p.Messages = append(p.Messages, m)
	}
	return nil
}

// WebhookStatus is the status reported back to the webhook caller.
type WebhookStatus string

const (
	// WebhookStatusActive answers the GET health probe.
	WebhookStatusActive WebhookStatus = "active"
	// WebhookStatusIgnored means the delivery carried nothing to process.
	WebhookStatusIgnored WebhookStatus = "ignored"
	// WebhookStatusSuccess means every item was filtered or dispatched.
	WebhookStatusSuccess WebhookStatus = "success"
	// WebhookStatusError means the handler failed.
	WebhookStatusError WebhookStatus = "error"
)

// WebhookResponse is the JSON body returned by the webhook endpoint.
type WebhookResponse struct {
	Status  WebhookStatus `json:"status"`
	Message string        `json:"message,omitempty"`
}

// Status builds a response carrying only a status.
func Status(s WebhookStatus) WebhookResponse {
	return WebhookResponse{Status: s}
}

// Error builds an error response with a message.
func Error(message string) WebhookResponse {
	return WebhookResponse{Status: WebhookStatusError, Message: message}
}
