package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock using SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, prefix string, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, logger: logger}
}

// Acquire takes key for ttl. ok is false when another holder has it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if n == 0 {
			l.logger.Warn("lock expired before release", zap.String("key", key))
		}
		return nil
	}
	return release, true, nil
}
