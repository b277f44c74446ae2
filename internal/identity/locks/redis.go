package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "conflux/pkg/domain-errors"
)

// releaseScript deletes a lock key only when it still holds our token, so an
// expired-and-retaken lock is never released by its former owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultLeaseTTL      = 15 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
)

// RedisLocker serializes identify operations across service instances using
// SET NX leases. The lease TTL bounds how long a crashed holder can block
// others.
type RedisLocker struct {
	client        *redis.Client
	leaseTTL      time.Duration
	retryInterval time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithLeaseTTL overrides the lock lease duration.
func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.leaseTTL = ttl
		}
	}
}

// NewRedisLocker creates a Locker backed by the given Redis client.
func NewRedisLocker(client *redis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:        client,
		leaseTTL:      defaultLeaseTTL,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	ordered := sortedUnique(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(ordered))

	for _, key := range ordered {
		if err := l.acquireOne(ctx, key, token); err != nil {
			l.releaseAll(held, token)
			return nil, err
		}
		held = append(held, key)
	}

	return func() { l.releaseAll(held, token) }, nil
}

func (l *RedisLocker) acquireOne(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, "conflux:lock:"+key, token, l.leaseTTL).Result()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "acquire identity lock")
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "identity lock acquisition cancelled")
		}
	}
}

func (l *RedisLocker) releaseAll(keys []string, token string) {
	// releases run even when the caller's context is done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		_ = releaseScript.Run(ctx, l.client, []string{"conflux:lock:" + keys[i]}, token).Err()
	}
}
