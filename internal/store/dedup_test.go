package store

import (
	"context"
	"testing"
	"time"
)

func TestDedupRepo_Basic(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			dup, err := s.IsDuplicate(ctx, "msg-1")
			if err != nil {
				t.Fatalf("IsDuplicate failed: %v", err)
			}
			if dup {
				t.Error("Expected false for new message")
			}

			isNew, err := s.RecordInbound(ctx, "msg-1", "participant-1")
			if err != nil {
				t.Fatalf("RecordInbound failed: %v", err)
			}
			if !isNew {
				t.Error("Expected isNew=true for first record")
			}

			dup, err = s.IsDuplicate(ctx, "msg-1")
			if err != nil {
				t.Fatalf("IsDuplicate after record failed: %v", err)
			}
			if !dup {
				t.Error("Expected true for duplicate message")
			}

			isNew2, err := s.RecordInbound(ctx, "msg-1", "participant-1")
			if err != nil {
				t.Fatalf("RecordInbound duplicate failed: %v", err)
			}
			if isNew2 {
				t.Error("Expected isNew=false for duplicate record")
			}
		})
	}
}

func TestDedupRepo_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.RecordInbound(ctx, "msg-2", "participant-2"); err != nil {
				t.Fatalf("RecordInbound failed: %v", err)
			}
			if err := s.MarkProcessed(ctx, "msg-2"); err != nil {
				t.Fatalf("MarkProcessed failed: %v", err)
			}
		})
	}
}

func TestDedupRepo_ForgetAllowsRetry(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.RecordInbound(ctx, "msg-3", "participant-3"); err != nil {
				t.Fatalf("RecordInbound failed: %v", err)
			}
			if err := s.ForgetInbound(ctx, "msg-3"); err != nil {
				t.Fatalf("ForgetInbound failed: %v", err)
			}
			isNew, err := s.RecordInbound(ctx, "msg-3", "participant-3")
			if err != nil {
				t.Fatalf("RecordInbound after forget failed: %v", err)
			}
			if !isNew {
				t.Error("Expected message to be recordable again after ForgetInbound")
			}
		})
	}
}

func TestDedupRepo_PruneInbound(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.RecordInbound(ctx, "old-1", "p"); err != nil {
				t.Fatalf("RecordInbound failed: %v", err)
			}
			// Nothing is older than an hour ago.
			n, err := s.PruneInbound(ctx, time.Now().Add(-time.Hour))
			if err != nil {
				t.Fatalf("PruneInbound failed: %v", err)
			}
			if n != 0 {
				t.Errorf("expected no records pruned, got %d", n)
			}

			n, err = s.PruneInbound(ctx, time.Now().Add(time.Hour))
			if err != nil {
				t.Fatalf("PruneInbound failed: %v", err)
			}
			if n < 1 {
				t.Errorf("expected the record to be pruned, got %d", n)
			}
			dup, err := s.IsDuplicate(ctx, "old-1")
			if err != nil || dup {
				t.Errorf("expected pruned record to be gone, dup=%v err=%v", dup, err)
			}
		})
	}
}
