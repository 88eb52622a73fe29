package ratelimit

import (
	"context"
	"fmt"
	"time"

	"gas_oracle/internal/logging"
	"gas_oracle/internal/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter throttles callers identified by key.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// NoopLimiter allows all requests. Used when Redis is not configured.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) bool {
	return true
}

// slidingWindow trims the window, then admits and records the request if there is room.
// Returns {allowed, count, oldest score in ms}.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
	local count = redis.call('ZCARD', key)
	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window)
		count = count + 1
		allowed = 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local first = now
	if oldest[2] then
		first = tonumber(oldest[2])
	end
	return {allowed, count, first}
`)

// RateLimiter implements distributed sliding-window rate limiting using Redis sorted sets
type RateLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRateLimiter creates a rate limiter with a one minute window
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, window: time.Minute}
}

func redisKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}

// AllowWithDetails records a request for key and reports whether it fits in limit.
// remaining is -1 and resetAt zero when limit <= 0 (unlimited).
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := time.Now().UnixMilli()
	res, err := slidingWindow.Run(ctx, rl.client, []string{redisKey(key)},
		now, rl.window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check returned %d values", len(res))
	}

	allowed := res[0] == 1
	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	resetAt := time.UnixMilli(res[2]).Add(rl.window)
	return allowed, remaining, resetAt, nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	k := redisKey(key)
	windowStart := time.Now().Add(-rl.window)

	if err := rl.client.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset clears the window for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, redisKey(key)).Err()
}

// FixedLimiter applies one limit to every key under a namespace. Keys are hashed
// before they reach Redis. Redis failures fail open.
type FixedLimiter struct {
	rl        *RateLimiter
	namespace string
	limit     int
	logger    *logging.Logger
}

// NewFixedLimiter creates a Limiter allowing limit requests per window per key.
func NewFixedLimiter(rl *RateLimiter, namespace string, limit int, logger *logging.Logger) *FixedLimiter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FixedLimiter{rl: rl, namespace: namespace, limit: limit, logger: logger}
}

func (l *FixedLimiter) Allow(ctx context.Context, key string) bool {
	allowed, _, _, err := l.rl.AllowWithDetails(ctx, l.namespace+":"+utils.HashString(key), l.limit)
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request", "namespace", l.namespace, "error", err)
		return true
	}
	return allowed
}
