package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/ReplyPipe/internal/identity"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/session"
	"github.com/BTreeMap/ReplyPipe/internal/store"
)

const greetingMarker = "[GREETING]"

// fakeGenerator echoes the inbound text and prefixes the greeting marker
// whenever the context carries a greeting.
type fakeGenerator struct {
	calls []*Context
	err   error
	reply string
}

func (f *fakeGenerator) Generate(_ context.Context, c *Context) (string, error) {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	out := "echo: " + c.Inbound
	if c.IsFirstContact() {
		out = greetingMarker + " " + out
	}
	return out, nil
}

type fixture struct {
	store *store.InMemoryStore
	gen   *fakeGenerator
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	gen := &fakeGenerator{}
	orch := NewOrchestrator(
		identity.NewResolver(st),
		session.NewManager(st),
		gen,
		Persona{Greeting: "Hello and welcome!"},
	)
	return &fixture{store: st, gen: gen, orch: orch}
}

func (f *fixture) session(t *testing.T, phone string) *models.Session {
	t.Helper()
	sess, err := f.store.GetSession(context.Background(), phone)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess == nil {
		t.Fatalf("expected session for %s", phone)
	}
	return sess
}

func TestReplyTo_FirstContactThenOngoing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	reply, err := f.orch.ReplyTo(ctx, "hello", "213555123456@s.whatsapp.net")
	if err != nil {
		t.Fatalf("ReplyTo failed: %v", err)
	}
	if !strings.Contains(reply, greetingMarker) {
		t.Errorf("expected greeting marker on first contact, got %q", reply)
	}

	sess := f.session(t, "555123456")
	if sess.MessageCount != 1 {
		t.Errorf("expected message_count 1 after first turn, got %d", sess.MessageCount)
	}
	if len(sess.History) != 2 || sess.History[0].Role != models.RoleUser || sess.History[1].Role != models.RoleAssistant {
		t.Errorf("expected user then assistant in history, got %+v", sess.History)
	}

	reply, err = f.orch.ReplyTo(ctx, "are you open today?", "213555123456@s.whatsapp.net")
	if err != nil {
		t.Fatalf("second ReplyTo failed: %v", err)
	}
	if strings.Contains(reply, greetingMarker) {
		t.Errorf("expected no greeting marker on second message, got %q", reply)
	}

	second := f.gen.calls[1]
	if len(second.History) != 2 || second.History[0].Content != "hello" {
		t.Errorf("expected prior exchange as context, got %+v", second.History)
	}
	if second.Inbound != "are you open today?" {
		t.Errorf("unexpected inbound text %q", second.Inbound)
	}

	sess = f.session(t, "555123456")
	if sess.MessageCount != 2 || len(sess.History) != 3 {
		t.Errorf("expected count 2 and full window, got count=%d len=%d", sess.MessageCount, len(sess.History))
	}
}

func TestReplyTo_LinksResolvedClient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.store.UpsertClient(ctx, models.ClientRecord{ID: "c-7", FirstName: "Yasmine", Phone: "0555123456", Tier: "gold"}); err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}

	if _, err := f.orch.ReplyTo(ctx, "hi", "0555123456"); err != nil {
		t.Fatalf("ReplyTo failed: %v", err)
	}
	if sess := f.session(t, "555123456"); !sess.IsLinkedTo("c-7") {
		t.Errorf("expected session linked to c-7, got %v", sess.ClientID)
	}
	got := f.gen.calls[0].Client
	if got == nil || got.Name != "Yasmine" || got.Tier != "gold" {
		t.Errorf("expected client profile in context, got %+v", got)
	}
}

type brokenResolver struct{}

func (brokenResolver) Normalize(raw string) string { return identity.NewResolver(nil).Normalize(raw) }
func (brokenResolver) Resolve(context.Context, string) (*models.ClientProfile, error) {
	return nil, models.ErrResolutionFailed
}

func TestReplyTo_ResolutionFailureDoesNotAbort(t *testing.T) {
	st := store.NewInMemoryStore()
	gen := &fakeGenerator{}
	orch := NewOrchestrator(brokenResolver{}, session.NewManager(st), gen, Persona{})

	reply, err := orch.ReplyTo(context.Background(), "hello", "0555000111")
	if err != nil {
		t.Fatalf("expected reply despite resolution failure, got %v", err)
	}
	if reply == "" {
		t.Error("expected non-empty reply")
	}
	if gen.calls[0].Client != nil {
		t.Errorf("expected no client profile, got %+v", gen.calls[0].Client)
	}
}

func TestReplyTo_GeneratorFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.err = errors.New("timeout")

	if _, err := f.orch.ReplyTo(ctx, "anyone there?", "0555123456"); err == nil {
		t.Fatal("expected error from generator")
	}
	sess := f.session(t, "555123456")
	if len(sess.History) != 1 || sess.History[0].Content != "anyone there?" {
		t.Errorf("expected only the user message recorded, got %+v", sess.History)
	}
	if sess.MessageCount != 1 {
		t.Errorf("expected message_count 1, got %d", sess.MessageCount)
	}
}

func TestReplyTo_EmptyReply(t *testing.T) {
	f := newFixture(t)
	f.gen.reply = "   "
	if _, err := f.orch.ReplyTo(context.Background(), "hi", "0555123456"); !errors.Is(err, models.ErrEmptyReply) {
		t.Errorf("expected ErrEmptyReply, got %v", err)
	}
}

func TestReplyTo_NoGenerator(t *testing.T) {
	st := store.NewInMemoryStore()
	orch := NewOrchestrator(identity.NewResolver(st), session.NewManager(st), nil, Persona{})

	_, err := orch.ReplyTo(context.Background(), "hello", "0555123456")
	if !IsNoReply(err) {
		t.Fatalf("expected ErrGeneratorUnavailable, got %v", err)
	}
	sess, _ := st.GetSession(context.Background(), "555123456")
	if sess == nil || sess.MessageCount != 1 {
		t.Errorf("expected user message recorded, got %+v", sess)
	}
}

func TestReplyTo_EmptyPhone(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.ReplyTo(context.Background(), "hi", "@s.whatsapp.net"); !errors.Is(err, models.ErrEmptyPhoneNumber) {
		t.Errorf("expected ErrEmptyPhoneNumber, got %v", err)
	}
}
