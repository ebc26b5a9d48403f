// This file implements an in-memory store used by tests and ephemeral runs.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// InMemoryStore keeps sessions, clients and dedup records in process memory.
// Values are copied on the way in and out so callers never share slices
// with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	clients  []models.ClientRecord
	dedup    map[string]DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
		dedup:    make(map[string]DedupRecord),
	}
}

func copySession(s models.Session) models.Session {
	out := s
	out.History = make([]models.Message, len(s.History))
	copy(out.History, s.History)
	if s.ClientID != nil {
		id := *s.ClientID
		out.ClientID = &id
	}
	return out
}

func (s *InMemoryStore) GetSession(_ context.Context, phone string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[phone]
	if !ok {
		return nil, nil
	}
	out := copySession(sess)
	return &out, nil
}

func (s *InMemoryStore) InsertSessionIfAbsent(_ context.Context, sess *models.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.PhoneNumber]; ok {
		return false, nil
	}
	s.sessions[sess.PhoneNumber] = copySession(*sess)
	return true, nil
}

func (s *InMemoryStore) UpdateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sess.PhoneNumber]
	if !ok {
		return models.ErrSessionNotFound
	}
	updated := copySession(*sess)
	existing.History = updated.History
	existing.MessageCount = updated.MessageCount
	existing.LastInteraction = updated.LastInteraction
	s.sessions[sess.PhoneNumber] = existing
	return nil
}

func (s *InMemoryStore) SetSessionClient(_ context.Context, phone, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[phone]
	if !ok {
		return models.ErrSessionNotFound
	}
	if clientID == "" {
		existing.ClientID = nil
	} else {
		id := clientID
		existing.ClientID = &id
	}
	s.sessions[phone] = existing
	return nil
}

// FindClientByPhones returns the matching client with the smallest ID, the
// same order the SQL backends use.
func (s *InMemoryStore) FindClientByPhones(_ context.Context, phones []string) (*models.ClientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(phones))
	for _, p := range phones {
		want[p] = struct{}{}
	}
	var best *models.ClientRecord
	for i := range s.clients {
		c := s.clients[i]
		if _, ok := want[c.Phone]; !ok {
			continue
		}
		if best == nil || c.ID < best.ID {
			found := c
			best = &found
		}
	}
	return best, nil
}

func (s *InMemoryStore) UpsertClient(_ context.Context, c models.ClientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.LastVisit != nil {
		t := *c.LastVisit
		c.LastVisit = &t
	}
	for i := range s.clients {
		if s.clients[i].ID == c.ID {
			s.clients[i] = c
			return nil
		}
	}
	s.clients = append(s.clients, c)
	return nil
}

func (s *InMemoryStore) IsDuplicate(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, ParticipantID: participantID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) ForgetInbound(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dedup, messageID)
	return nil
}

func (s *InMemoryStore) PruneInbound(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
