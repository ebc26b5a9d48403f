// Package history enforces the bounded conversation window kept per session.
//
// The window caps how much context is forwarded to the reply generator; it is
// not meant to be a full conversation log. User and assistant messages share
// the same window and the oldest entry is evicted first.
package history

import (
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// WindowSize is the maximum number of messages kept in a session history.
const WindowSize = 3

// NewMessage creates a history entry stamped with now.
func NewMessage(role models.Role, content string, now time.Time) models.Message {
	return models.Message{Role: role, Content: content, Timestamp: now}
}

// Append returns a new history with m appended and only the last WindowSize
// entries retained. The input slice is never modified.
func Append(h []models.Message, m models.Message) []models.Message {
	start := 0
	if len(h)+1 > WindowSize {
		start = len(h) + 1 - WindowSize
	}
	out := make([]models.Message, 0, len(h)-start+1)
	out = append(out, h[start:]...)
	return append(out, m)
}

// Trim returns the newest WindowSize entries of h. It is used when reading
// stored histories that may predate the current window size.
func Trim(h []models.Message) []models.Message {
	if len(h) <= WindowSize {
		return h
	}
	out := make([]models.Message, WindowSize)
	copy(out, h[len(h)-WindowSize:])
	return out
}
