package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/history"
	"github.com/BTreeMap/ReplyPipe/internal/keylock"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestGetOrCreate_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewInMemoryStore(), WithClock(fixedClock()))

	sess, created, err := m.GetOrCreate(ctx, "555123456")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected first call to create the session")
	}
	if sess.MessageCount != 0 || len(sess.History) != 0 || !sess.IsFirstContact() {
		t.Errorf("unexpected new session: %+v", sess)
	}

	again, created, err := m.GetOrCreate(ctx, "555123456")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if created {
		t.Error("expected second call to reuse the session")
	}
	if !again.CreatedAt.Equal(sess.CreatedAt) {
		t.Errorf("expected same session, created_at %v != %v", again.CreatedAt, sess.CreatedAt)
	}
}

func TestGetOrCreate_EmptyPhone(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	if _, _, err := m.GetOrCreate(context.Background(), ""); !errors.Is(err, models.ErrEmptyPhoneNumber) {
		t.Errorf("expected ErrEmptyPhoneNumber, got %v", err)
	}
}

func TestGetOrCreate_ConcurrentCreators(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer st.Close()

	// No lock: creation relies on insert-if-absent alone.
	m := NewManager(st, WithLocker(keylock.Noop{}))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := m.GetOrCreate(ctx, "555000999")
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("expected exactly one creator, got %d", createdCount)
	}
}

func TestRecordMessage_UpdatesWindowAndCount(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewInMemoryStore(), WithClock(fixedClock()))
	if _, _, err := m.GetOrCreate(ctx, "555"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	turns := []struct {
		role    models.Role
		content string
	}{
		{models.RoleUser, "u1"},
		{models.RoleAssistant, "a1"},
		{models.RoleUser, "u2"},
		{models.RoleAssistant, "a2"},
	}
	for _, turn := range turns {
		if err := m.RecordMessage(ctx, "555", turn.role, turn.content); err != nil {
			t.Fatalf("RecordMessage(%s) failed: %v", turn.content, err)
		}
	}

	h, err := m.GetHistory(ctx, "555")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(h) != history.WindowSize {
		t.Fatalf("expected %d entries, got %d", history.WindowSize, len(h))
	}
	if h[0].Content != "a1" || h[1].Content != "u2" || h[2].Content != "a2" {
		t.Errorf("unexpected history order: %+v", h)
	}

	sess, _, err := m.GetOrCreate(ctx, "555")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if sess.MessageCount != 2 {
		t.Errorf("expected message_count 2 (user messages only), got %d", sess.MessageCount)
	}
	if !sess.LastInteraction.Equal(h[2].Timestamp) {
		t.Errorf("expected last interaction %v, got %v", h[2].Timestamp, sess.LastInteraction)
	}
}

func TestRecordMessage_MissingSession(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	err := m.RecordMessage(context.Background(), "555", models.RoleUser, "hello")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRecordMessage_InvalidRole(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewInMemoryStore())
	m.GetOrCreate(ctx, "555")
	if err := m.RecordMessage(ctx, "555", models.Role("system"), "x"); !errors.Is(err, models.ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestGetHistory_MissingSession(t *testing.T) {
	h, err := NewManager(store.NewInMemoryStore()).GetHistory(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(h) != 0 {
		t.Errorf("expected empty history, got %+v", h)
	}
}

// countingRepo counts SetSessionClient calls.
type countingRepo struct {
	*store.InMemoryStore
	links int
}

func (c *countingRepo) SetSessionClient(ctx context.Context, phone, clientID string) error {
	c.links++
	return c.InMemoryStore.SetSessionClient(ctx, phone, clientID)
}

func TestLinkClient_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{InMemoryStore: store.NewInMemoryStore()}
	m := NewManager(repo)
	m.GetOrCreate(ctx, "555")

	for i := 0; i < 3; i++ {
		if err := m.LinkClient(ctx, "555", "c-1"); err != nil {
			t.Fatalf("LinkClient failed: %v", err)
		}
	}
	if repo.links != 1 {
		t.Errorf("expected one store update, got %d", repo.links)
	}

	sess, _, _ := m.GetOrCreate(ctx, "555")
	if !sess.IsLinkedTo("c-1") {
		t.Errorf("expected session linked to c-1, got %v", sess.ClientID)
	}

	if err := m.LinkClient(ctx, "missing", "c-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for missing session, got %v", err)
	}
}

func TestRecordMessage_ConcurrentWritersKeepEveryUserMessage(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewInMemoryStore())
	m.GetOrCreate(ctx, "555")

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.RecordMessage(ctx, "555", models.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("RecordMessage failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	sess, _, err := m.GetOrCreate(ctx, "555")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if sess.MessageCount != writers {
		t.Errorf("expected message_count %d under the keyed lock, got %d", writers, sess.MessageCount)
	}
	if len(sess.History) != history.WindowSize {
		t.Errorf("expected full window, got %d entries", len(sess.History))
	}
}

func TestRecordMessage_WithoutLockDoesNotCrash(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewInMemoryStore(), WithLocker(keylock.Noop{}))
	m.GetOrCreate(ctx, "555")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.RecordMessage(ctx, "555", models.RoleUser, fmt.Sprintf("m%d", i))
		}(i)
	}
	wg.Wait()

	// Last write wins: some updates may be lost but the session stays valid.
	sess, _, err := m.GetOrCreate(ctx, "555")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if sess.MessageCount < 1 || sess.MessageCount > 10 {
		t.Errorf("unexpected message_count %d", sess.MessageCount)
	}
	if len(sess.History) > history.WindowSize {
		t.Errorf("window exceeded: %d entries", len(sess.History))
	}
}
