// Package keylock provides per-key mutual exclusion used to serialize
// read-modify-write cycles on one session.
package keylock

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when a lock cannot be acquired before the
// context ends.
var ErrLockTimeout = errors.New("timed out waiting for key lock")

// Locker acquires an exclusive lock on key. The returned function releases
// it and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Noop never blocks. Concurrent writers to the same key race and the last
// write wins.
type Noop struct{}

// Lock returns immediately.
func (Noop) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// Compile-time checks that the backends implement Locker.
var (
	_ Locker = Noop{}
	_ Locker = (*MemoryLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
