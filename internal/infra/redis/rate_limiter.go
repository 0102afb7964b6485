package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"paywall-access/internal/domain/ports/repository"
)

var _ repository.RateLimitStore = (*SlidingWindowStore)(nil)

// SlidingWindowStore keeps one sorted set per key, scored by request time in
// milliseconds. The whole check runs as one script so concurrent callers on different
// instances see a consistent count.
type SlidingWindowStore struct {
	cli *redis.Client
	now func() time.Time
}

func NewSlidingWindowStore(c *Client) *SlidingWindowStore {
	return &SlidingWindowStore{cli: c.cli, now: time.Now}
}

// ARGV: now_ms, window_ms, max, member. Returns {allowed, retry_after_ms}.
var luaSlidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
if redis.call("ZCARD", key) < max then
	redis.call("ZADD", key, now, ARGV[4])
	redis.call("PEXPIRE", key, window)
	return {1, 0}
end
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry = window
if oldest[2] then
	retry = tonumber(oldest[2]) + window - now
end
return {0, retry}`)

func (s *SlidingWindowStore) IncrementAndCheck(ctx context.Context, key string, window time.Duration, max int) (repository.RateDecision, error) {
	now := s.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())
	res, err := luaSlidingWindow.Run(ctx, s.cli, []string{key}, now, window.Milliseconds(), max, member).Result()
	if err != nil {
		return repository.RateDecision{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return repository.RateDecision{}, fmt.Errorf("sliding window: unexpected reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	retryMs, _ := vals[1].(int64)
	if allowed == 1 {
		return repository.RateDecision{Allowed: true}, nil
	}
	return repository.RateDecision{RetryAfter: time.Duration(retryMs) * time.Millisecond}, nil
}
