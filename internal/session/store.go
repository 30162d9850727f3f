// Package session keeps the active refresh-token identifier per user in
// Redis. One jti is live per user; rotation consumes it atomically.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the prefix for refresh jti keys in Redis.
const KeyPrefix = "refresh_jti:"

// RedisStore stores the refresh jti with the refresh token's TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. The TTL should match the refresh
// token lifetime.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Save records the user's active refresh jti, replacing any previous one.
func (s *RedisStore) Save(ctx context.Context, userID uuid.UUID, jti string) error {
	if err := s.client.Set(ctx, buildKey(userID), jti, s.ttl).Err(); err != nil {
		return fmt.Errorf("save refresh jti: %w", err)
	}
	return nil
}

// CheckAndConsume removes the stored jti and reports whether it matched
// the presented one. GETDEL makes check and consume a single step, so a
// refresh token rotates exactly once even under concurrent use.
func (s *RedisStore) CheckAndConsume(ctx context.Context, userID uuid.UUID, jti string) (bool, error) {
	stored, err := s.client.GetDel(ctx, buildKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("consume refresh jti: %w", err)
	}
	return stored == jti, nil
}

func buildKey(userID uuid.UUID) string {
	return KeyPrefix + userID.String()
}
