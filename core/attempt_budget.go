package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FaceAttemptPrefix is the Redis key prefix for unrecognized facial attempts.
const FaceAttemptPrefix = "attendance:face_attempts:"

// AttemptBudget limits unrecognized facial attempts per browser session.
type AttemptBudget interface {
	// Remaining returns how many attempts are left for key.
	Remaining(ctx context.Context, key string) (int, error)
	// Consume uses one attempt and returns how many are left.
	Consume(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttemptBudget counts attempts with INCR and a fixed window TTL set on the first attempt.
type RedisAttemptBudget struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
}

func NewRedisAttemptBudget(client redis.UniversalClient, limit int, window time.Duration) *RedisAttemptBudget {
	if limit <= 0 {
		limit = 3
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RedisAttemptBudget{client: client, limit: limit, window: window}
}

func (b *RedisAttemptBudget) Remaining(ctx context.Context, key string) (int, error) {
	used, err := b.client.Get(ctx, FaceAttemptPrefix+key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return b.limit, nil
		}
		return 0, fmt.Errorf("redis get attempts: %w", err)
	}
	return max(b.limit-used, 0), nil
}

// consumeScript sets the window TTL only when the counter is created.
var consumeScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

func (b *RedisAttemptBudget) Consume(ctx context.Context, key string) (int, error) {
	used, err := consumeScript.Run(ctx, b.client, []string{FaceAttemptPrefix + key}, b.window.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis consume attempt: %w", err)
	}
	return max(b.limit-used, 0), nil
}

func (b *RedisAttemptBudget) Reset(ctx context.Context, key string) error {
	return b.client.Del(ctx, FaceAttemptPrefix+key).Err()
}
