package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calyxlabs/calyx/internal/model"
)

// RedisBackend implements Backend on a Redis connection. Expiry is native:
// keys are written with a TTL and Redis evicts them itself.
type RedisBackend struct {
	client *redis.Client
}

// Compile-time check that RedisBackend implements Backend.
var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend creates a backend for the Redis at the given address. It
// does not dial; the client connects lazily and re-dials per call, so a Redis
// outage at construction time heals on its own once the server is back.
func NewRedisBackend(addr, password string, db int) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBackend{client: client}
}

// Ping checks reachability. Advisory: a failed ping does not invalidate the
// backend.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: redis get %s: %v", model.ErrBackendUnavailable, key, err)
	}
	return val, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %v", model.ErrBackendUnavailable, key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del %s: %v", model.ErrBackendUnavailable, key, err)
	}
	return nil
}

func (b *RedisBackend) Name() string {
	return "redis"
}

// Close releases the underlying connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
