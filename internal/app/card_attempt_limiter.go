package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// cardAttemptScript keeps a sliding log of attempt timestamps per subscription.
// A denied attempt is not recorded, so retrying while blocked does not extend
// the block.
//
// KEYS[1] attempt log; ARGV: now ms, window ms, limit, attempt id.
// Returns {allowed, attempts, retry_after_ms}.
var cardAttemptScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local attempts = redis.call("ZCARD", KEYS[1])
if attempts >= limit then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  return {0, attempts, tonumber(oldest[2]) + window - now}
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return {1, attempts + 1, 0}
`)

// AttemptDecision is the limiter's answer for one card validation attempt.
type AttemptDecision struct {
	Allowed    bool
	Attempts   int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the wait up to whole seconds for the Retry-After header.
func (d AttemptDecision) RetryAfterSeconds() int {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RedisCardAttemptLimiter limits card validations per subscription across replicas.
type RedisCardAttemptLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCardAttemptLimiter(client redis.UniversalClient, prefix string) *RedisCardAttemptLimiter {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "billing:rate_limit"
	}
	return &RedisCardAttemptLimiter{client: client, prefix: trimmed}
}

func (r *RedisCardAttemptLimiter) key(subscriptionID uuid.UUID) string {
	return fmt.Sprintf("%s:card_attempts:%s", r.prefix, subscriptionID)
}

// RegisterAttempt records an attempt for subscriptionID at now unless limit
// attempts already happened within window.
func (r *RedisCardAttemptLimiter) RegisterAttempt(ctx context.Context, subscriptionID uuid.UUID, limit int, window time.Duration, now time.Time) (AttemptDecision, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return AttemptDecision{Allowed: true}, nil
	}

	raw, err := cardAttemptScript.Run(ctx, r.client, []string{r.key(subscriptionID)},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Result()
	if err != nil {
		return AttemptDecision{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return AttemptDecision{}, fmt.Errorf("unexpected card attempt response: %T", raw)
	}
	allowed, okAllowed := values[0].(int64)
	attempts, okAttempts := values[1].(int64)
	retryMs, okRetry := values[2].(int64)
	if !okAllowed || !okAttempts || !okRetry {
		return AttemptDecision{}, fmt.Errorf("unexpected card attempt values: %v", values)
	}

	return AttemptDecision{
		Allowed:    allowed == 1,
		Attempts:   int(attempts),
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}
