// Package session implements get-or-create and history updates for
// per-phone conversation sessions.
//
// Every call re-reads the store; nothing is cached. Read-modify-write cycles
// run under a per-phone keylock.Locker so concurrent deliveries for the same
// number do not overwrite each other's history entries.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/history"
	"github.com/BTreeMap/ReplyPipe/internal/keylock"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
)

// ErrSessionNotFound is returned when a session is updated before it exists.
var ErrSessionNotFound = models.ErrSessionNotFound

// Opts holds configuration options for the Manager.
type Opts struct {
	Locker keylock.Locker
	Now    func() time.Time
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithLocker sets the per-phone lock. Defaults to an in-process keylock.MemoryLocker.
func WithLocker(l keylock.Locker) Option {
	return func(o *Opts) {
		o.Locker = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Manager is the session store adapter.
type Manager struct {
	repo   store.SessionRepo
	locker keylock.Locker
	now    func() time.Time
}

// NewManager creates a Manager on top of repo.
func NewManager(repo store.SessionRepo, opts ...Option) *Manager {
	cfg := Opts{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Locker == nil {
		cfg.Locker = keylock.NewMemoryLocker()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{repo: repo, locker: cfg.Locker, now: cfg.Now}
}

func (m *Manager) lock(ctx context.Context, phone string) (func(), error) {
	unlock, err := m.locker.Lock(ctx, "session:"+phone)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", phone, err)
	}
	return unlock, nil
}

// GetOrCreate returns the session for phone, creating an empty one if none
// exists. created is true only for the caller whose insert took effect.
func (m *Manager) GetOrCreate(ctx context.Context, phone string) (*models.Session, bool, error) {
	if phone == "" {
		return nil, false, models.ErrEmptyPhoneNumber
	}

	sess, err := m.repo.GetSession(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if sess != nil {
		return sess, false, nil
	}

	unlock, err := m.lock(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	now := m.now()
	created, err := m.repo.InsertSessionIfAbsent(ctx, &models.Session{
		PhoneNumber:     phone,
		History:         []models.Message{},
		MessageCount:    0,
		LastInteraction: now,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		slog.Info("Manager.GetOrCreate: session created", "phone", phone)
	} else {
		slog.Debug("Manager.GetOrCreate: lost creation race, using existing session", "phone", phone)
	}

	sess, err = m.repo.GetSession(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if sess == nil {
		return nil, false, fmt.Errorf("session %s missing after insert: %w", phone, ErrSessionNotFound)
	}
	return sess, created, nil
}

// LinkClient links the session to clientID. Linking the same client again
// is a no-op.
func (m *Manager) LinkClient(ctx context.Context, phone, clientID string) error {
	sess, err := m.repo.GetSession(ctx, phone)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("link client for %s: %w", phone, ErrSessionNotFound)
	}
	if sess.IsLinkedTo(clientID) {
		return nil
	}
	if err := m.repo.SetSessionClient(ctx, phone, clientID); err != nil {
		return err
	}
	slog.Info("Manager.LinkClient: session linked to client", "phone", phone, "client_id", clientID)
	return nil
}

// RecordMessage appends a message to the session history and writes
// history, message count and last interaction in one update. The count
// grows by one for user messages only. The session must already exist.
func (m *Manager) RecordMessage(ctx context.Context, phone string, role models.Role, content string) error {
	if !models.IsValidRole(role) {
		return fmt.Errorf("%w: %q", models.ErrInvalidRole, role)
	}

	unlock, err := m.lock(ctx, phone)
	if err != nil {
		return err
	}
	defer unlock()

	sess, err := m.repo.GetSession(ctx, phone)
	if err != nil {
		return err
	}
	if sess == nil {
		slog.Error("Manager.RecordMessage: session does not exist", "phone", phone, "role", role)
		return fmt.Errorf("record %s message for %s: %w", role, phone, ErrSessionNotFound)
	}

	now := m.now()
	sess.History = history.Append(sess.History, history.NewMessage(role, content, now))
	if role == models.RoleUser {
		sess.MessageCount++
	}
	sess.LastInteraction = now

	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return err
	}
	slog.Debug("Manager.RecordMessage: history updated", "phone", phone, "role", role, "history_len", len(sess.History), "message_count", sess.MessageCount)
	return nil
}

// GetHistory returns the session history, oldest first. A missing session
// has an empty history.
func (m *Manager) GetHistory(ctx context.Context, phone string) ([]models.Message, error) {
	sess, err := m.repo.GetSession(ctx, phone)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return []models.Message{}, nil
	}
	return sess.History, nil
}
