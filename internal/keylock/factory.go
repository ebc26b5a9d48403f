package keylock

import (
	"fmt"
	"log/slog"
	"strings"
)

// New builds the Locker named by backend. redisURL is only used by the
// redis backend.
func New(backend, redisURL string) (Locker, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return NewMemoryLocker(), nil
	case BackendRedis:
		if redisURL == "" {
			return nil, fmt.Errorf("lock backend %q requires REDIS_URL", BackendRedis)
		}
		return NewRedisLocker(redisURL)
	case BackendNone:
		slog.Warn("keylock.New: session locking disabled, concurrent deliveries for one phone may lose history entries")
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}
