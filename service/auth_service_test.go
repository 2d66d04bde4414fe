package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridoc/authgate/adapters/store"
	"github.com/veridoc/authgate/adapters/tokenizer"
	"github.com/veridoc/authgate/adapters/verifier"
	"github.com/veridoc/authgate/core"
	"go.uber.org/zap"
)

type stubResolver struct {
	role   string
	handle string
	err    error
}

func (r *stubResolver) ResolveRole(ctx context.Context, address string) (string, string, error) {
	return r.role, r.handle, r.err
}

type recordingPublisher struct {
	mu      sync.Mutex
	logins  []string
	logouts []string
	reuses  []string
}

func (p *recordingPublisher) PublishLogin(ctx context.Context, address, tokenID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins = append(p.logins, address)
	return nil
}

func (p *recordingPublisher) PublishLogout(ctx context.Context, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, address)
	return nil
}

func (p *recordingPublisher) PublishTokenReuse(ctx context.Context, address, tokenID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reuses = append(p.reuses, address)
	return nil
}

type authFixture struct {
	auth       *AuthService
	tokens     *store.MemoryTokenStore
	challenges *store.MemoryChallengeStore
	publisher  *recordingPublisher
}

func newAuthFixture(t *testing.T, res *stubResolver) *authFixture {
	t.Helper()

	challenges := store.NewMemoryChallengeStore()
	tokens := store.NewMemoryTokenStore()
	limiter := NewRateLimiter(store.NewMemoryRateLimitStore(), RateLimiterConfig{
		Window: time.Hour,
		Tiers:  []Tier{{Threshold: 1000, Block: time.Hour}},
	}, zap.NewNop())

	challengeSvc := NewChallengeService(challenges, limiter, verifier.New(), ChallengeConfig{
		Domain:  "example.org",
		URI:     "https://example.org",
		ChainID: 1,
		TTL:     5 * time.Minute,
	}, zap.NewNop())

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	auth := NewAuthService(
		challengeSvc,
		tokens,
		tokenizer.NewJWTTokenizer(signKey),
		res,
		publisher,
		AuthConfig{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour, DefaultRole: "user"},
		zap.NewNop(),
	)
	return &authFixture{auth: auth, tokens: tokens, challenges: challenges, publisher: publisher}
}

func (f *authFixture) login(t *testing.T) (*core.Session, string) {
	t.Helper()
	key, address := newWallet(t)
	ctx := context.Background()

	challenge, err := f.auth.challenges.Generate(ctx, address, "10.0.0.1", "test-agent")
	require.NoError(t, err)

	session, err := f.auth.Authenticate(ctx, address, challenge.Message, signMessage(t, key, challenge.Message), "10.0.0.1", "test-agent")
	require.NoError(t, err)
	return session, address
}

func TestAuthenticateRoundTrip(t *testing.T) {
	f := newAuthFixture(t, &stubResolver{role: "admin", handle: "alice"})

	session, address := f.login(t)
	assert.Equal(t, address, session.Address)
	assert.Equal(t, "admin", session.Role)
	assert.Equal(t, "alice", session.Handle)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), session.ExpiresIn)

	identity, err := f.auth.VerifyAccess(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, address, identity.Address)
	assert.Equal(t, "admin", identity.Role)

	assert.Equal(t, []string{address}, f.publisher.logins)
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	f := newAuthFixture(t, &stubResolver{role: "user"})
	_, address := newWallet(t)
	otherKey, _ := newWallet(t)
	ctx := context.Background()

	challenge, err := f.auth.challenges.Generate(ctx, address, "", "")
	require.NoError(t, err)

	_, err = f.auth.Authenticate(ctx, address, challenge.Message, signMessage(t, otherKey, challenge.Message), "", "")
	assert.ErrorIs(t, err, core.ErrInvalidChallenge)
	assert.Empty(t, f.publisher.logins)
}

func TestAuthenticateDegradedResolver(t *testing.T) {
	f := newAuthFixture(t, &stubResolver{err: errors.New("resolver down")})

	session, _ := f.login(t)
	assert.Equal(t, "user", session.Role)
	assert.Empty(t, session.Handle)
}

func TestRefreshRotation(t *testing.T) {
	f := newAuthFixture(t, &stubResolver{role: "user"})
	ctx := context.Background()

	session, address := f.login(t)

	next, err := f.auth.Refresh(ctx, session.RefreshToken, "10.0.0.1", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, address, next.Address)
	assert.NotEqual(t, session.RefreshToken, next.RefreshToken)

	// The spent token is dead; presenting it again trips the reuse policy.
	_, err = f.auth.Refresh(ctx, session.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrTokenReuse)
	assert.Equal(t, []string{address}, f.publisher.reuses)

	// The reuse revoked the whole family, including the rotated token.
	_, err = f.auth.Refresh(ctx, next.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	f := newAuthFixture(t, &stubResolver{role: "user"})
	ctx := context.Background()

	session, _ := f.login(t)

	var wg sync.WaitGroup
	type result struct {
		session *core.Session
		err     error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.auth.Refresh(ctx, session.RefreshToken, "", "")
			results <- result{s, err}
		}()
	}
	wg.Wait()
	close(results)

	var sessions, reuses int
	for r := range results {
		switch {
		case r.err == nil:
			sessions++
		case errors.Is(r.err, core.ErrTokenReuse):
			reuses++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, reuses)
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newAuthFixture(t, &stubResolver{role: "user"})

	_, err := f.auth.Refresh(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000", "", "")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestLogoutRevokesFamily(t *testing.T) {
	f := newAuthFixture(t, &stubResolver{role: "user"})
	ctx := context.Background()

	session, address := f.login(t)

	assert.True(t, f.auth.Logout(ctx, address))
	assert.Equal(t, []string{address}, f.publisher.logouts)

	_, err := f.auth.Refresh(ctx, session.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestLogoutInvalidAddress(t *testing.T) {
	f := newAuthFixture(t, &stubResolver{role: "user"})
	assert.False(t, f.auth.Logout(context.Background(), "nope"))
}
