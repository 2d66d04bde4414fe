package core

import "time"

// Challenge is a single-use sign-in challenge bound to a wallet address.
// Its status is derived from (Used, ExpiresAt) rather than stored: an
// unused, unexpired row is active; everything else is terminal.
type Challenge struct {
	ID        string     // Unique identifier for the challenge
	Address   string     // Wallet address, normalized to lower-case
	Nonce     string     // Random nonce embedded in the message
	Message   string     // Full structured message the wallet signs
	IssuedAt  time.Time  // When the challenge was created
	ExpiresAt time.Time  // When the challenge expires
	Used      bool       // Consumed by verification or superseded
	UsedAt    *time.Time // When the challenge was consumed
	IP        string     // Origin IP of the request, if known
	UserAgent string     // Client agent of the request, if known
}

// Active reports whether the challenge can still be answered.
func (c *Challenge) Active(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}

// RefreshToken is the stored side of a rotating refresh credential. The
// bearer value itself is never persisted; only its digest is.
type RefreshToken struct {
	ID         string     // Unique identifier, distinct from the token value
	Address    string     // Owning wallet address
	TokenHash  string     // SHA-256 digest of the bearer value
	IssuedAt   time.Time  // When the token was minted
	ExpiresAt  time.Time  // When the token expires
	Used       bool       // Consumed by rotation
	UsedAt     *time.Time // When the token was rotated
	Revoked    bool       // Explicitly revoked
	RevokedAt  *time.Time // When the token was revoked
	ReplacedBy string     // ID of the token minted by the rotation, if any
	IP         string     // Origin IP of the issuing request
	UserAgent  string     // Client agent of the issuing request
}

// Live reports whether the token may still be rotated or accepted.
func (t *RefreshToken) Live(now time.Time) bool {
	return !t.Used && !t.Revoked && now.Before(t.ExpiresAt)
}

// Identity is the resolved subject carried inside an access token.
type Identity struct {
	Address string // Wallet address
	Role    string // Resolved role
	Handle  string // Optional resolved identity handle
}

// Session is what a successful authentication or refresh hands back to
// the caller. RefreshToken carries the bearer value; it is returned here
// exactly once and never stored in clear.
type Session struct {
	Address      string `json:"address"`
	Role         string `json:"role"`
	Handle       string `json:"handle,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}
