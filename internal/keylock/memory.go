package keylock

import (
	"context"
	"fmt"
	"sync"
)

type memoryEntry struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is an in-process keyed mutex. Entries are reference counted
// and removed once no goroutine holds or waits for them, so the map does
// not grow with the number of distinct keys seen.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]*memoryEntry)}
}

// Lock blocks until key is free or ctx is done.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &memoryEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, e *memoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size returns the number of live entries.
func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
