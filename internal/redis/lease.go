package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLeaseHeld = errors.New("lease held by another worker")

// Leaser runs fn while holding a named, expiring lease. It keeps two job
// sweeps from overlapping; it is not what guards booking correctness.
type Leaser interface {
	WithLease(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type redisLeaser struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLeaser(client *redis.Client, ttl time.Duration) Leaser {
	return &redisLeaser{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLeaser) WithLease(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lease:%s", name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return ErrLeaseHeld
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	leaseCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(leaseCtx)
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLeaser) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// NoopLeaser always grants the lease. Used when Redis is not configured.
type NoopLeaser struct{}

func (NoopLeaser) WithLease(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
