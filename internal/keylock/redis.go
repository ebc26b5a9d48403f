package keylock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisTTL bounds how long a crashed holder can keep a key locked.
	DefaultRedisTTL = 10 * time.Second
	// DefaultRedisRetry is the polling interval while waiting for a held key.
	DefaultRedisRetry = 25 * time.Millisecond
	// DefaultRedisPrefix namespaces lock keys.
	DefaultRedisPrefix = "replypipe:lock:"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOpts holds configuration options for RedisLocker.
type RedisOpts struct {
	TTL    time.Duration
	Retry  time.Duration
	Prefix string
}

// RedisOption defines a configuration option for RedisLocker.
type RedisOption func(*RedisOpts)

// WithTTL sets the lock expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *RedisOpts) {
		o.TTL = ttl
	}
}

// WithRetryInterval sets the polling interval used while a key is held.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(o *RedisOpts) {
		o.Retry = d
	}
}

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(o *RedisOpts) {
		o.Prefix = prefix
	}
}

// RedisLocker shares locks between ReplyPipe instances through Redis.
// A lock is a key set with NX and an expiry holding a random token; release
// is a compare-and-delete script.
type RedisLocker struct {
	client *redis.Client
	opts   RedisOpts
}

// NewRedisLocker connects to the Redis server at url (redis://...) and
// verifies it with a ping.
func NewRedisLocker(url string, opts ...RedisOption) (*RedisLocker, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisLockerWithClient(client, opts...), nil
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client *redis.Client, opts ...RedisOption) *RedisLocker {
	cfg := RedisOpts{TTL: DefaultRedisTTL, Retry: DefaultRedisRetry, Prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisLocker{client: client, opts: cfg}
}

// Lock polls until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.opts.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.opts.Retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.opts.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// Release with its own deadline so a cancelled request still frees the key.
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("RedisLocker.Lock: release failed, key will expire", "key", key, "error", err)
		}
	}, nil
}

// Close closes the underlying Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
