package core

import (
	"fmt"
	"strings"
	"time"
)

// MessageParams carries everything embedded in a sign-in message.
type MessageParams struct {
	Domain    string
	Address   string
	Statement string
	URI       string
	ChainID   int64
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// BuildSignInMessage renders the structured sign-in message the wallet
// is asked to sign, following the EIP-4361 layout.
func BuildSignInMessage(p MessageParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", p.Domain)
	fmt.Fprintf(&b, "%s\n\n", p.Address)
	if p.Statement != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Statement)
	}
	fmt.Fprintf(&b, "URI: %s\n", p.URI)
	fmt.Fprintf(&b, "Version: 1\n")
	fmt.Fprintf(&b, "Chain ID: %d\n", p.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", p.Nonce)
	fmt.Fprintf(&b, "Issued At: %s\n", p.IssuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Expiration Time: %s", p.ExpiresAt.UTC().Format(time.RFC3339))
	return b.String()
}

// ParseMessageNonce extracts the nonce line from a sign-in message.
func ParseMessageNonce(message string) (string, error) {
	return parseField(message, "Nonce: ")
}

// ParseMessageAddress extracts the account line from a sign-in message.
// The address is the second line of the EIP-4361 layout.
func ParseMessageAddress(message string) (string, error) {
	lines := strings.Split(message, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) == "" {
		return "", ErrInvalidChallenge
	}
	return strings.TrimSpace(lines[1]), nil
}

func parseField(message, prefix string) (string, error) {
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(line, prefix) {
			value := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			if value == "" {
				return "", ErrInvalidChallenge
			}
			return value, nil
		}
	}
	return "", ErrInvalidChallenge
}
