package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/history"
	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// encodeHistory serializes a history for the last_messages column.
func encodeHistory(h []models.Message) (string, error) {
	if h == nil {
		h = []models.Message{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return string(b), nil
}

// decodeHistory parses and validates a stored history. Unknown roles and
// malformed JSON are rejected; oversized histories are trimmed to the window.
func decodeHistory(raw string) ([]models.Message, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []models.Message{}, nil
	}
	var h []models.Message
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("%w: last_messages: %v", models.ErrCorruptSession, err)
	}
	for i, m := range h {
		if !models.IsValidRole(m.Role) {
			return nil, fmt.Errorf("%w: last_messages[%d] has role %q", models.ErrCorruptSession, i, m.Role)
		}
	}
	return history.Trim(h), nil
}

// scanSession scans a session row selected with sessionColumns.
func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var clientID sql.NullString
	var rawHistory []byte
	var lastInteraction, createdAt time.Time
	if err := row.Scan(&s.PhoneNumber, &clientID, &rawHistory, &s.MessageCount, &lastInteraction, &createdAt); err != nil {
		return nil, err
	}
	h, err := decodeHistory(string(rawHistory))
	if err != nil {
		return nil, err
	}
	if clientID.Valid && clientID.String != "" {
		id := clientID.String
		s.ClientID = &id
	}
	s.History = h
	s.LastInteraction = lastInteraction
	s.CreatedAt = createdAt
	return &s, nil
}

// scanClient scans a client row selected with clientColumns.
func scanClient(row rowScanner) (*models.ClientRecord, error) {
	var c models.ClientRecord
	var firstName, lastName, tier sql.NullString
	var totalSpent sql.NullFloat64
	var visitCount sql.NullInt64
	var lastVisit sql.NullTime
	if err := row.Scan(&c.ID, &firstName, &lastName, &c.Phone, &tier, &totalSpent, &lastVisit, &visitCount); err != nil {
		return nil, err
	}
	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.Tier = tier.String
	c.TotalSpent = totalSpent.Float64
	c.VisitCount = int(visitCount.Int64)
	if lastVisit.Valid {
		t := lastVisit.Time
		c.LastVisit = &t
	}
	return &c, nil
}

// nullTime converts an optional time into a nullable column value.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

const sessionColumns = `phone_number, client_id, last_messages, message_count, last_interaction, created_at`

const clientColumns = `id, first_name, last_name, phone, tier, total_spent, last_visit, visit_count`

// placeholders returns n bind parameters, "?" style or "$n" style when
// numbered is true.
func placeholders(n int, numbered bool) string {
	parts := make([]string, n)
	for i := range parts {
		if numbered {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

// stringArgs converts a string slice into query arguments.
func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
