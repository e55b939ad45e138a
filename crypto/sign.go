package crypto

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

const (
	// SignatureLength is the size of a recoverable signature in R || S || V form.
	SignatureLength = 65
	// HashLength is the size of a keccak256 digest.
	HashLength = 32

	// compactMagic is the recovery code offset used by compact signatures
	// over uncompressed keys.
	compactMagic = 27
)

// ErrRecoveryFailed is returned when a signature does not yield a public key.
var ErrRecoveryFailed = errors.New("signature recovery failed")

// Keccak256 returns the legacy keccak256 digest of the concatenated inputs.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// Sign produces a recoverable signature over a 32-byte digest. The layout is
// R || S || V with V in {0, 1}.
func Sign(digest []byte, kp *KeyPair) ([]byte, error) {
	if len(digest) != HashLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", HashLength, len(digest))
	}

	compact := ecdsa.SignCompact(kp.Private, digest, false)
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0] - compactMagic
	return sig, nil
}

// RecoverNodeID returns the id of the key that produced sig over digest.
func RecoverNodeID(digest, sig []byte) (NodeID, error) {
	if len(sig) != SignatureLength {
		return NodeID{}, fmt.Errorf("%w: signature must be %d bytes", ErrRecoveryFailed, SignatureLength)
	}
	if sig[64] > 3 {
		return NodeID{}, fmt.Errorf("%w: bad recovery id %d", ErrRecoveryFailed, sig[64])
	}

	compact := make([]byte, SignatureLength)
	compact[0] = sig[64] + compactMagic
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return NodeID{}, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return PubkeyID(pub), nil
}
