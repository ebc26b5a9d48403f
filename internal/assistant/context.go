package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Context is everything the generator sees for one turn.
type Context struct {
	Persona Persona
	// Greeting is set only on first contact.
	Greeting string
	Client   *models.ClientProfile
	// History holds at most three prior messages, oldest first, and does not
	// include Inbound.
	History []models.Message
	Inbound string
}

// IsFirstContact reports whether the greeting preamble is active.
func (c *Context) IsFirstContact() bool {
	return c.Greeting != ""
}

// SystemPrompt renders persona, greeting and client details into the
// system instructions sent ahead of the conversation.
func (c *Context) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(c.Persona.SystemPrompt)
	if c.Persona.Name != "" {
		fmt.Fprintf(&b, "\nYour name is %s.", c.Persona.Name)
	}
	if c.Greeting != "" {
		fmt.Fprintf(&b, "\nThis is the customer's first message. Open your reply with this greeting: %q", c.Greeting)
	} else {
		b.WriteString("\nThe conversation is ongoing. Do not greet the customer again.")
	}
	if p := c.Client; p != nil {
		b.WriteString("\nKnown customer:")
		if p.Name != "" {
			fmt.Fprintf(&b, "\n- name: %s", p.Name)
		}
		if p.Tier != "" {
			fmt.Fprintf(&b, "\n- loyalty tier: %s", p.Tier)
		}
		fmt.Fprintf(&b, "\n- visits: %d", p.VisitCount)
		fmt.Fprintf(&b, "\n- total spent: %.2f", p.TotalSpent)
		if p.LastVisit != nil {
			fmt.Fprintf(&b, "\n- last visit: %s", p.LastVisit.Format(time.DateOnly))
		}
	}
	return b.String()
}
