package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with the resolved identity.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role   string `json:"role"`
	Handle string `json:"handle,omitempty"`
}
