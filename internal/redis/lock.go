package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("slot lock not acquired")

// Locker guards the create path for one slot key. Holding the lock is an
// optimisation; the store's slot transaction is what keeps a slot single-booked.
type Locker interface {
	WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const lockPrefix = "slotbooking:lock:"

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSlotLocker returns a Locker backed by SET NX with a per-holder token.
// fn runs under a context bounded by ttl so the lock cannot outlive the work.
func NewRedisSlotLocker(client *redis.Client, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &redisSlotLocker{client: client, ttl: ttl}
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := lockPrefix + key
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	switch {
	case err != nil:
		return fmt.Errorf("acquire slot lock %s: %w", key, err)
	case !acquired:
		return ErrLockNotAcquired
	}
	// Release even when the caller's context is already done.
	defer func() { _ = l.release(context.WithoutCancel(ctx), redisKey, token) }()

	held, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(held)
}

// compareAndDelete only removes the key while it still carries our token, so
// an expired lock re-taken by another holder is left alone.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisSlotLocker) release(ctx context.Context, redisKey, token string) error {
	if err := compareAndDelete.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn directly. Used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
