package ports

import (
	"time"

	"github.com/veridoc/authgate/core"
)

// Tokenizer mints and verifies stateless access tokens.
type Tokenizer interface {
	// IssueAccess signs an access token for the identity with the given
	// lifetime and returns the encoded token and its expiry.
	IssueAccess(identity core.Identity, ttl time.Duration) (string, time.Time, error)

	// VerifyAccess checks signature, audience, and expiry and returns
	// the embedded identity. Any failure yields a nil identity and
	// core.ErrInvalidToken so callers branch uniformly.
	VerifyAccess(token string) (*core.Identity, error)
}
