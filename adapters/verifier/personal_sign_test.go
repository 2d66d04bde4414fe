package verifier

import (
	"encoding/hex"
	"strconv"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridoc/authgate/core"
)

func signPersonal(t *testing.T, message string) (string, string) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message))
	hash := ethcrypto.Keccak256([]byte(prefix), []byte(message))
	sig, err := ethcrypto.Sign(hash, key)
	require.NoError(t, err)
	sig[64] += 27

	address := strings.ToLower(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	return "0x" + hex.EncodeToString(sig), address
}

func TestVerifyRecoversSigner(t *testing.T) {
	v := New()
	message := "example.org wants you to sign in with your Ethereum account:"

	signature, address := signPersonal(t, message)
	ok, err := v.Verify(message, signature, address)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyWithoutHexPrefix(t *testing.T) {
	v := New()
	message := "hello"

	signature, address := signPersonal(t, message)
	ok, err := v.Verify(message, strings.TrimPrefix(signature, "0x"), address)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyWrongAddress(t *testing.T) {
	v := New()
	message := "hello"

	signature, _ := signPersonal(t, message)
	ok, err := v.Verify(message, signature, "0xde709f2102306220921060314715629080e2fb77")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyTamperedMessage(t *testing.T) {
	v := New()

	signature, address := signPersonal(t, "hello")
	ok, err := v.Verify("hello!", signature, address)
	if err == nil {
		assert.False(t, ok)
	}
}

func TestVerifyMalformedSignature(t *testing.T) {
	v := New()

	_, err := v.Verify("hello", "0xzz", "0xde709f2102306220921060314715629080e2fb77")
	assert.ErrorIs(t, err, core.ErrInvalidSignature)

	_, err = v.Verify("hello", "0xdeadbeef", "0xde709f2102306220921060314715629080e2fb77")
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}
