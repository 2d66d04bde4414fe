package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridoc/authgate/adapters/store"
	"github.com/veridoc/authgate/core"
	"go.uber.org/zap"
)

func newTestLimiter(tiers []Tier) (*RateLimiter, *store.MemoryRateLimitStore) {
	attempts := store.NewMemoryRateLimitStore()
	limiter := NewRateLimiter(attempts, RateLimiterConfig{
		Window: time.Hour,
		Tiers:  tiers,
	}, zap.NewNop())
	return limiter, attempts
}

func TestRateLimiterUnderThreshold(t *testing.T) {
	limiter, _ := newTestLimiter([]Tier{{Threshold: 5, Block: time.Hour}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		status, err := limiter.Record(ctx, "0xabc", core.LimitAddress)
		require.NoError(t, err)
		assert.False(t, status.Blocked)
		assert.Equal(t, i+1, status.Attempts)
	}
}

func TestRateLimiterCrossesTier(t *testing.T) {
	limiter, attempts := newTestLimiter([]Tier{{Threshold: 5, Block: time.Hour}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Record(ctx, "0xabc", core.LimitAddress)
		require.NoError(t, err)
	}

	// The crossing attempt itself is persisted and reported blocked.
	status, err := limiter.Record(ctx, "0xabc", core.LimitAddress)
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.Equal(t, 6, status.Attempts)
	assert.WithinDuration(t, time.Now().Add(time.Hour), status.BlockedUntil, 5*time.Second)

	count, err := attempts.CountSince(ctx, "0xabc", core.LimitAddress, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestRateLimiterActiveBlockShortCircuits(t *testing.T) {
	limiter, attempts := newTestLimiter([]Tier{{Threshold: 2, Block: time.Hour}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Record(ctx, "10.0.0.1", core.LimitIP)
		require.NoError(t, err)
	}

	// Attempts during an active block are rejected without a new row.
	status, err := limiter.Record(ctx, "10.0.0.1", core.LimitIP)
	require.NoError(t, err)
	assert.True(t, status.Blocked)

	count, err := attempts.CountSince(ctx, "10.0.0.1", core.LimitIP, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRateLimiterHighestTierWins(t *testing.T) {
	limiter, _ := newTestLimiter([]Tier{
		{Threshold: 2, Block: time.Hour},
		{Threshold: 4, Block: 3 * time.Hour},
	})
	ctx := context.Background()

	// Seed past the second threshold without active blocks.
	for i := 0; i < 4; i++ {
		require.NoError(t, limiter.store.Insert(ctx, &core.Attempt{
			ID:          fmt.Sprintf("seed-%d", i),
			Identifier:  "0xdef",
			Type:        core.LimitAddress,
			AttemptedAt: time.Now().UTC().Add(-30 * time.Minute),
		}))
	}

	status, err := limiter.Record(ctx, "0xdef", core.LimitAddress)
	require.NoError(t, err)
	assert.True(t, status.Blocked)
	assert.WithinDuration(t, time.Now().Add(3*time.Hour), status.BlockedUntil, 5*time.Second)
}

func TestRateLimiterIdentifiersIsolated(t *testing.T) {
	limiter, _ := newTestLimiter([]Tier{{Threshold: 1, Block: time.Hour}})
	ctx := context.Background()

	_, err := limiter.Record(ctx, "0xabc", core.LimitAddress)
	require.NoError(t, err)
	status, err := limiter.Record(ctx, "0xabc", core.LimitAddress)
	require.NoError(t, err)
	assert.True(t, status.Blocked)

	// A different identifier and a different type stay clean.
	status, err = limiter.Record(ctx, "0xother", core.LimitAddress)
	require.NoError(t, err)
	assert.False(t, status.Blocked)

	status, err = limiter.Record(ctx, "0xabc", core.LimitIP)
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestRateLimiterCheckDoesNotRecord(t *testing.T) {
	limiter, attempts := newTestLimiter([]Tier{{Threshold: 5, Block: time.Hour}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, "0xabc", core.LimitAddress)
		require.NoError(t, err)
	}

	count, err := attempts.CountSince(ctx, "0xabc", core.LimitAddress, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
