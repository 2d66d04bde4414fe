package verifier

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/veridoc/authgate/core"
	"github.com/veridoc/authgate/ports"
)

// PersonalSignVerifier checks personal_sign signatures by recovering the
// signing public key from the prefixed message hash and comparing the
// derived address with the expected one.
type PersonalSignVerifier struct{}

func New() ports.SignatureVerifier {
	return &PersonalSignVerifier{}
}

// Verify recovers the signer address for signature over message.
func (v *PersonalSignVerifier) Verify(message, signature, expectedAddress string) (bool, error) {
	msg := []byte(message)
	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg)))
	hash := ethcrypto.Keccak256(prefix, msg)

	sigHex := strings.TrimSpace(signature)
	if strings.HasPrefix(sigHex, "0x") || strings.HasPrefix(sigHex, "0X") {
		sigHex = sigHex[2:]
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return false, fmt.Errorf("%w: malformed personal_sign payload", core.ErrInvalidSignature)
	}

	// Wallets encode the recovery id as 27/28.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return false, fmt.Errorf("%w: recovery failed: %v", core.ErrInvalidSignature, err)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub).Hex()
	got := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(recovered, "0x"), "0X"))
	want := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(expectedAddress, "0x"), "0X"))

	return got == want, nil
}
