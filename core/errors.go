package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidChallenge covers every terminal challenge failure: none
	// active, nonce mismatch, expired, or already used.
	ErrInvalidChallenge = errors.New("invalid challenge")

	// ErrInvalidSignature is returned when cryptographic verification fails.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidAddress is returned for a malformed wallet address.
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrTokenReuse is returned when a refresh token was already rotated,
	// revoked, or expired. Security-significant: the caller should treat
	// the whole token family as compromised.
	ErrTokenReuse = errors.New("refresh token already rotated, revoked, or expired")

	// ErrInvalidToken is returned when an access token fails parsing,
	// signature, audience, or expiry checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrStoreUnavailable wraps transient storage failures so callers can
	// distinguish infrastructure trouble from authentication outcomes.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// RateLimitedError reports a rejected attempt along with the time the
// block lapses.
type RateLimitedError struct {
	Until time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Until.UTC().Format(time.RFC3339))
}

// StoreError wraps err so that errors.Is(err, ErrStoreUnavailable) holds
// while the driver detail is preserved for logs.
func StoreError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
