package redisstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-gateway/internal/client"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// upsertIncrementScript is the limiter's single atomic primitive: create the
// window counter if absent, increment it, and pin its expiry to the window
// end. Concurrent attempts for the same window serialize inside Redis, so
// the count never under-reports.
const upsertIncrementScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// RateLimitStore persists per-identifier attempt counters keyed by window
// start. Counters are never decremented; a new window gets a fresh key and
// Redis expiry garbage-collects old ones.
type RateLimitStore struct {
	client *client.RedisClient
}

func NewRateLimitStore(client *client.RedisClient) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// Increment atomically upserts-and-increments the counter for
// (identifier, action, windowStart) and returns the new attempt count.
func (s *RateLimitStore) Increment(ctx context.Context, identifier string, action model.ActionType, windowStart time.Time, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := counterKey(identifier, action, windowStart)

	result, err := s.client.Eval(ctx, upsertIncrementScript, []string{key}, ttl.Milliseconds())
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("key", key),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from rate limit script: %T", result)
	}

	util.Debug("Rate limit counter incremented",
		zap.String("key", key),
		zap.Int("count", int(count)))

	return int(count), nil
}

// Count reads the current attempt count without recording an attempt.
func (s *RateLimitStore) Count(ctx context.Context, identifier string, action model.ActionType, windowStart time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := counterKey(identifier, action, windowStart)
	val, found, err := s.client.GetIfExists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	if !found {
		return 0, nil
	}

	var count int
	if _, err := fmt.Sscanf(val, "%d", &count); err != nil {
		return 0, fmt.Errorf("invalid counter format for key %s: %w", key, err)
	}
	return count, nil
}

func counterKey(identifier string, action model.ActionType, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d", rateLimitPrefix, action, identifier, windowStart.Unix())
}
