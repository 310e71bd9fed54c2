package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimiter is a fixed-window counter: INCR per request with the TTL set on
// the window's first write. Bursts are possible at window boundaries; callers
// needing strict sliding windows should not use this type.
type RateLimiter struct {
	client   *redis.Client
	requests int
	period   time.Duration
	logger   arbor.ILogger
}

// NewRateLimiter creates a fixed-window limiter allowing `requests` per
// `period` for each scope.
func NewRateLimiter(client *redis.Client, requests int, period time.Duration, logger arbor.ILogger) *RateLimiter {
	if requests <= 0 {
		requests = 60
	}
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{client: client, requests: requests, period: period, logger: logger}
}

// Allow consumes one slot for scope (typically a domain) and reports whether
// the request may proceed. Counter failures allow the request; rate limiting
// is protective, not correctness-critical.
func (rl *RateLimiter) Allow(ctx context.Context, scope string) bool {
	key := rateLimitKeyPrefix + scope

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		rl.logger.Warn().Err(err).Str("scope", scope).Msg("Rate limit counter failed")
		return true
	}
	if count == 1 {
		// First hit in this window starts the clock.
		if err := rl.client.Expire(ctx, key, rl.period).Err(); err != nil {
			rl.logger.Warn().Err(err).Str("scope", scope).Msg("Failed to set rate limit window TTL")
		}
	}

	return count <= int64(rl.requests)
}

// Remaining reports the slots left in the current window.
func (rl *RateLimiter) Remaining(ctx context.Context, scope string) int {
	val, err := rl.client.Get(ctx, rateLimitKeyPrefix+scope).Int64()
	if err != nil {
		return rl.requests
	}
	remaining := rl.requests - int(val)
	if remaining < 0 {
		return 0
	}
	return remaining
}
