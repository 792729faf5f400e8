// Package lock provides per-account mutual exclusion backed by Redis.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// DefaultTTL bounds how long a crashed holder can block an account.
const DefaultTTL = 30 * time.Minute

const keyPrefix = "analytics:lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out SET NX PX locks. Each held key remembers the token it
// was acquired with so Release never deletes a lock taken over by another holder.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		tokens: make(map[string]string),
	}
}

// NewClient opens a go-redis client from a redis:// or rediss:// URL.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Key returns the Redis key guarding one account on one platform.
func Key(platform, accountID string) string {
	return keyPrefix + platform + ":" + accountID
}

// Acquire tries to take key. It returns false without error when another
// holder has it.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()

	return true, nil
}

// Release frees key if this locker still holds it.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()

	if !ok {
		return nil
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	if deleted == 0 {
		logger.Log.Warn("Lock expired before release", zap.String("key", key))
	}
	return nil
}
