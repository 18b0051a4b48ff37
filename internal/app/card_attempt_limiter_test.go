package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCardAttemptLimiter(t *testing.T) (*RedisCardAttemptLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCardAttemptLimiter(client, "test:rl:"), mr
}

func TestCardAttemptLimiter_BlocksAfterLimit(t *testing.T) {
	limiter, mr := newTestCardAttemptLimiter(t)
	ctx := context.Background()
	subID := uuid.New()
	start := fixedNow

	for i := 0; i < 3; i++ {
		decision, err := limiter.RegisterAttempt(ctx, subID, 3, time.Hour, start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, i+1, decision.Attempts)
	}
	assert.True(t, mr.Exists("test:rl:card_attempts:"+subID.String()))

	decision, err := limiter.RegisterAttempt(ctx, subID, 3, time.Hour, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 3, decision.Attempts)
	assert.Equal(t, 50*time.Minute, decision.RetryAfter)
	assert.Equal(t, 3000, decision.RetryAfterSeconds())

	other, err := limiter.RegisterAttempt(ctx, uuid.New(), 3, time.Hour, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, other.Allowed, "subscriptions are counted separately")
}

func TestCardAttemptLimiter_SlidingWindow(t *testing.T) {
	limiter, _ := newTestCardAttemptLimiter(t)
	ctx := context.Background()
	subID := uuid.New()

	_, err := limiter.RegisterAttempt(ctx, subID, 2, time.Hour, fixedNow)
	require.NoError(t, err)
	_, err = limiter.RegisterAttempt(ctx, subID, 2, time.Hour, fixedNow.Add(30*time.Minute))
	require.NoError(t, err)

	blocked, err := limiter.RegisterAttempt(ctx, subID, 2, time.Hour, fixedNow.Add(59*time.Minute))
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)
	assert.Equal(t, time.Minute, blocked.RetryAfter)

	// The first attempt has left the window; the second still counts.
	decision, err := limiter.RegisterAttempt(ctx, subID, 2, time.Hour, fixedNow.Add(61*time.Minute))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 2, decision.Attempts)

	again, err := limiter.RegisterAttempt(ctx, subID, 2, time.Hour, fixedNow.Add(62*time.Minute))
	require.NoError(t, err)
	assert.False(t, again.Allowed)
	assert.Equal(t, 28*time.Minute, again.RetryAfter)
}

func TestCardAttemptLimiter_DisabledCases(t *testing.T) {
	var nilLimiter *RedisCardAttemptLimiter
	decision, err := nilLimiter.RegisterAttempt(context.Background(), uuid.New(), 1, time.Minute, fixedNow)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	limiter, _ := newTestCardAttemptLimiter(t)
	decision, err = limiter.RegisterAttempt(context.Background(), uuid.New(), 0, time.Minute, fixedNow)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAttemptDecision_RetryAfterSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 1, AttemptDecision{}.RetryAfterSeconds())
	assert.Equal(t, 2, AttemptDecision{RetryAfter: 1500 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 60, AttemptDecision{RetryAfter: time.Minute}.RetryAfterSeconds())
}
