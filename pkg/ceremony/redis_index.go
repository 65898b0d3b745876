package ceremony

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ceremony:token:"

// RedisIndex is a TokenIndex on Redis for multi-node deployments. The
// key TTL mirrors the token expiry, so expired tokens vanish from the
// index without a sweeper.
type RedisIndex struct {
	client *redis.Client
}

// NewRedisIndex creates a token index on the given Redis address.
func NewRedisIndex(addr string) *RedisIndex {
	return &RedisIndex{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisIndexFromClient wraps an existing client, e.g. one shared with
// the notification layer.
func NewRedisIndexFromClient(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

func (r *RedisIndex) Put(ctx context.Context, token, signerID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisKeyPrefix+token, signerID, ttl).Err(); err != nil {
		return fmt.Errorf("ceremony: index put: %w", err)
	}
	return nil
}

func (r *RedisIndex) Lookup(ctx context.Context, token string) (string, error) {
	signerID, err := r.client.Get(ctx, redisKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ceremony: index lookup: %w", err)
	}
	return signerID, nil
}

func (r *RedisIndex) Remove(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("ceremony: index remove: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisIndex) Close() error {
	return r.client.Close()
}
