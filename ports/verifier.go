package ports

// SignatureVerifier checks that signature over message was produced by
// the expected wallet address.
type SignatureVerifier interface {
	Verify(message, signature, expectedAddress string) (bool, error)
}
