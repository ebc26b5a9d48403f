package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

func makeHistory(n int) []models.Message {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		h = append(h, NewMessage(role, fmt.Sprintf("msg-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	return h
}

func TestAppend_LengthAndOrder(t *testing.T) {
	for n := 0; n <= WindowSize; n++ {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			h := makeHistory(n)
			m := NewMessage(models.RoleUser, "new", time.Now())

			out := Append(h, m)

			wantLen := n + 1
			if wantLen > WindowSize {
				wantLen = WindowSize
			}
			if len(out) != wantLen {
				t.Fatalf("expected length %d, got %d", wantLen, len(out))
			}
			if out[len(out)-1] != m {
				t.Errorf("expected last element to be the appended message, got %+v", out[len(out)-1])
			}

			// Earlier elements are the most recent entries of h, oldest dropped first.
			kept := h[n-(wantLen-1):]
			for i, want := range kept {
				if out[i] != want {
					t.Errorf("position %d: expected %q, got %q", i, want.Content, out[i].Content)
				}
			}
		})
	}
}

func TestAppend_DoesNotMutateInput(t *testing.T) {
	h := makeHistory(WindowSize)
	snapshot := make([]models.Message, len(h))
	copy(snapshot, h)

	_ = Append(h, NewMessage(models.RoleAssistant, "reply", time.Now()))

	for i := range h {
		if h[i] != snapshot[i] {
			t.Fatalf("input mutated at %d: %+v != %+v", i, h[i], snapshot[i])
		}
	}
}

func TestAppend_NoRoleSpecialCasing(t *testing.T) {
	var h []models.Message
	for i := 0; i < 5; i++ {
		h = Append(h, NewMessage(models.RoleAssistant, fmt.Sprintf("a-%d", i), time.Now()))
	}
	if len(h) != WindowSize {
		t.Fatalf("expected %d entries, got %d", WindowSize, len(h))
	}
	if h[0].Content != "a-2" || h[2].Content != "a-4" {
		t.Errorf("unexpected window contents: %+v", h)
	}
}

func TestAppend_OversizedInputIsBounded(t *testing.T) {
	out := Append(makeHistory(6), NewMessage(models.RoleUser, "new", time.Now()))
	if len(out) != WindowSize {
		t.Fatalf("expected %d entries, got %d", WindowSize, len(out))
	}
	if out[0].Content != "msg-4" || out[1].Content != "msg-5" || out[2].Content != "new" {
		t.Errorf("unexpected window contents: %+v", out)
	}
}

func TestTrim(t *testing.T) {
	if got := Trim(makeHistory(2)); len(got) != 2 {
		t.Errorf("expected short history untouched, got %d entries", len(got))
	}
	got := Trim(makeHistory(5))
	if len(got) != WindowSize || got[0].Content != "msg-2" || got[2].Content != "msg-4" {
		t.Errorf("unexpected trimmed history: %+v", got)
	}
}
