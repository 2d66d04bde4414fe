package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridoc/authgate/core"
)

func testChallenge(id, address, nonce string) *core.Challenge {
	now := time.Now().UTC()
	return &core.Challenge{
		ID:        id,
		Address:   address,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
}

func TestChallengeCreateSupersedes(t *testing.T) {
	s := NewMemoryChallengeStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testChallenge("c1", "0xabc", "n1")))
	require.NoError(t, s.Create(ctx, testChallenge("c2", "0xabc", "n2")))

	assert.Equal(t, 1, s.UnusedCountForAddress("0xabc"))

	active, err := s.ActiveForAddress(ctx, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "c2", active.ID)

	// The superseded row survives for audit but is marked used.
	first, err := s.ByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Used)
}

func TestChallengeMarkUsedOnce(t *testing.T) {
	s := NewMemoryChallengeStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testChallenge("c1", "0xabc", "n1")))

	ok, err := s.MarkUsed(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkUsed(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkUsed(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeMarkUsedConcurrent(t *testing.T) {
	s := NewMemoryChallengeStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testChallenge("c1", "0xabc", "n1")))

	var wg sync.WaitGroup
	results := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkUsed(ctx, "c1")
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func testToken(id, address string) *core.RefreshToken {
	now := time.Now().UTC()
	return &core.RefreshToken{
		ID:        id,
		Address:   address,
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestTokenByValueReturnsAnyState(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testToken("t1", "0xabc"), "secret-1"))

	got, err := s.ByValue(ctx, "secret-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
	assert.NotEqual(t, "secret-1", got.TokenHash)

	require.NoError(t, s.Rotate(ctx, "t1", testToken("t2", "0xabc"), "secret-2"))

	// The spent row still resolves so replay can be detected.
	got, err = s.ByValue(ctx, "secret-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Used)
	assert.Equal(t, "t2", got.ReplacedBy)

	got, err = s.ByValue(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTokenRotateConflict(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testToken("t1", "0xabc"), "secret-1"))
	require.NoError(t, s.Rotate(ctx, "t1", testToken("t2", "0xabc"), "secret-2"))

	err := s.Rotate(ctx, "t1", testToken("t3", "0xabc"), "secret-3")
	assert.ErrorIs(t, err, core.ErrTokenReuse)
}

func TestTokenRevoke(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testToken("t1", "0xabc"), "secret-1"))

	ok, err := s.Revoke(ctx, "secret-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Revoke(ctx, "secret-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Revoke(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenRevokeAllForAddress(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testToken("t1", "0xabc"), "secret-1"))
	require.NoError(t, s.Create(ctx, testToken("t2", "0xabc"), "secret-2"))
	require.NoError(t, s.Create(ctx, testToken("t3", "0xother"), "secret-3"))

	affected, err := s.RevokeAllForAddress(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	got, err := s.ByValue(ctx, "secret-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Revoked)

	got, err = s.ByValue(ctx, "secret-3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Revoked)
}

func TestRateLimitDeleteBeforeKeepsActiveBlocks(t *testing.T) {
	s := NewMemoryRateLimitStore()
	ctx := context.Background()
	now := time.Now().UTC()

	blocked := now.Add(time.Hour)
	require.NoError(t, s.Insert(ctx, &core.Attempt{
		ID: "a1", Identifier: "0xabc", Type: core.LimitAddress,
		AttemptedAt: now.Add(-2 * time.Hour), BlockedUntil: &blocked,
	}))
	require.NoError(t, s.Insert(ctx, &core.Attempt{
		ID: "a2", Identifier: "0xabc", Type: core.LimitAddress,
		AttemptedAt: now.Add(-2 * time.Hour),
	}))

	removed, err := s.DeleteBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	until, err := s.LatestBlock(ctx, "0xabc", core.LimitAddress, now)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.Equal(t, blocked, *until)
}
