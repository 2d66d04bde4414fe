package ports

import (
	"context"
	"time"

	"github.com/veridoc/authgate/core"
)

// ChallengeStore persists sign-in challenges. Implementations must make
// Create and MarkUsed atomic with respect to concurrent callers; the
// service layer holds no locks of its own.
type ChallengeStore interface {
	// Create inserts the challenge and, in the same transaction, marks
	// every currently-unused challenge for the same address as used, so
	// at most one active challenge per address survives.
	Create(ctx context.Context, challenge *core.Challenge) error

	// ActiveForAddress returns the most recently issued unused,
	// unexpired challenge for the address, or nil when there is none.
	ActiveForAddress(ctx context.Context, address string) (*core.Challenge, error)

	// ByID returns the challenge with the given id, or nil.
	ByID(ctx context.Context, id string) (*core.Challenge, error)

	// ByNonce returns the challenge carrying the given nonce, or nil.
	ByNonce(ctx context.Context, nonce string) (*core.Challenge, error)

	// MarkUsed flips the used flag under a used=false condition and
	// reports whether this caller won. Concurrent verifications of the
	// same challenge see at most one true result.
	MarkUsed(ctx context.Context, id string) (bool, error)

	// DeleteExpired purges challenges that expired before cutoff and
	// returns the number of rows removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenStore persists refresh tokens. Raw bearer values are handed in and
// digested by the implementation; they are never stored in clear.
type TokenStore interface {
	// Create inserts a new refresh token row for the given bearer value.
	Create(ctx context.Context, token *core.RefreshToken, value string) error

	// ByValue returns the token for the bearer value regardless of its
	// state, or nil when the value is unknown. Callers inspect the row to
	// tell a live token from a spent or revoked one.
	ByValue(ctx context.Context, value string) (*core.RefreshToken, error)

	// Rotate marks the old token used and inserts its replacement in one
	// transaction. A token that is no longer live yields
	// core.ErrTokenReuse and leaves no partial state behind.
	Rotate(ctx context.Context, oldID string, next *core.RefreshToken, nextValue string) error

	// Revoke marks the token for the bearer value revoked and reports
	// whether a row was affected.
	Revoke(ctx context.Context, value string) (bool, error)

	// RevokeAllForAddress revokes every outstanding token owned by the
	// address and returns the number of rows affected.
	RevokeAllForAddress(ctx context.Context, address string) (int64, error)

	// DeleteExpired purges tokens that expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimitStore is the append-only attempt log behind the rate limiter.
type RateLimitStore interface {
	Insert(ctx context.Context, attempt *core.Attempt) error

	// CountSince counts attempts for (identifier, typ) recorded after since.
	CountSince(ctx context.Context, identifier string, typ core.LimitType, since time.Time) (int, error)

	// LatestBlock returns the furthest blocked-until in the future for
	// (identifier, typ), or nil when no block is active at now.
	LatestBlock(ctx context.Context, identifier string, typ core.LimitType, now time.Time) (*time.Time, error)

	// DeleteBefore purges attempts recorded before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
