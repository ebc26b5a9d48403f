package keylock

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

// exerciseMutualExclusion runs a non-atomic increment under the lock from
// many goroutines and checks no update is lost.
func exerciseMutualExclusion(t *testing.T, l Locker, key string) {
	t.Helper()
	const workers = 20
	counter := 0
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			unlock, err := l.Lock(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Lock failed: %v", err)
	}
	if counter != workers {
		t.Errorf("expected counter %d, got %d (lost updates)", workers, counter)
	}
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	exerciseMutualExclusion(t, l, "555123456")
	if n := l.size(); n != 0 {
		t.Errorf("expected entries to be released, %d left", n)
	}
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a failed: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	unlockB()
}

func TestMemoryLocker_ContextTimeout(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}

	unlock()
	unlock() // second call is a no-op
	if n := l.size(); n != 0 {
		t.Errorf("expected no entries after release, got %d", n)
	}
}

func TestNoop(t *testing.T) {
	unlock, err := Noop{}.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unlock()
}

func TestNew(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
		check   func(Locker) bool
	}{
		{"", false, func(l Locker) bool { _, ok := l.(*MemoryLocker); return ok }},
		{"memory", false, func(l Locker) bool { _, ok := l.(*MemoryLocker); return ok }},
		{"NONE", false, func(l Locker) bool { _, ok := l.(Noop); return ok }},
		{"redis", true, nil},
		{"etcd", true, nil},
	}
	for _, tt := range tests {
		l, err := New(tt.backend, "")
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%q): expected error", tt.backend)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%q): unexpected error %v", tt.backend, err)
			continue
		}
		if !tt.check(l) {
			t.Errorf("New(%q): unexpected locker type %T", tt.backend, l)
		}
	}
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	url := getenvOrSkip(t, "REDIS_URL")
	l, err := NewRedisLocker(url, WithPrefix("replypipe:test:"), WithRetryInterval(5*time.Millisecond))
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer l.Close()
	exerciseMutualExclusion(t, l, "555123456")
}

func TestRedisLocker_ContextTimeout(t *testing.T) {
	url := getenvOrSkip(t, "REDIS_URL")
	l, err := NewRedisLocker(url, WithPrefix("replypipe:test:"))
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer l.Close()

	unlock, err := l.Lock(context.Background(), "held")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "held"); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
}
