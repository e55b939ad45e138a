package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// NodeIDLength is the size of a node identifier: an uncompressed secp256k1
// public key without its 0x04 prefix.
const NodeIDLength = 64

// SecretKeyLength is the size of a serialized private key.
const SecretKeyLength = 32

var (
	// ErrInvalidSecretKey is returned for secret keys that are not a valid scalar.
	ErrInvalidSecretKey = errors.New("invalid secret key")
	// ErrInvalidNodeID is returned when a node id cannot be parsed or is not on the curve.
	ErrInvalidNodeID = errors.New("invalid node id")
)

// NodeID identifies a peer. It is the peer's public key and doubles as the
// Kademlia metric key.
type NodeID [NodeIDLength]byte

// String returns the full hex encoding of the id.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns an abbreviated form suitable for log fields.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:8])
}

// IsZero reports whether the id is all zeros.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Pubkey returns the public key encoded by the id.
func (id NodeID) Pubkey() (*secp256k1.PublicKey, error) {
	buf := make([]byte, NodeIDLength+1)
	buf[0] = 0x04
	copy(buf[1:], id[:])
	pub, err := secp256k1.ParsePubKey(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	return pub, nil
}

// ParseNodeID decodes a hex node id, with or without a 0x prefix.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	if len(b) != NodeIDLength {
		return id, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidNodeID, NodeIDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// PubkeyID returns the node id of a public key.
func PubkeyID(pub *secp256k1.PublicKey) NodeID {
	var id NodeID
	copy(id[:], pub.SerializeUncompressed()[1:])
	return id
}

// KeyPair is the local identity used to sign discovery packets.
type KeyPair struct {
	Private *secp256k1.PrivateKey
	ID      NodeID
}

// GenerateKeyPair creates a new random secp256k1 identity.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return newKeyPair(priv), nil
}

// FromSecretKey restores a key pair from a serialized private key.
func FromSecretKey(secret []byte) (*KeyPair, error) {
	if len(secret) != SecretKeyLength {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSecretKey, SecretKeyLength, len(secret))
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(secret); overflow || scalar.IsZero() {
		return nil, ErrInvalidSecretKey
	}
	return newKeyPair(secp256k1.NewPrivateKey(&scalar)), nil
}

// FromHex restores a key pair from a hex-encoded private key.
func FromHex(s string) (*KeyPair, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	defer ZeroBytes(b)
	return FromSecretKey(b)
}

func newKeyPair(priv *secp256k1.PrivateKey) *KeyPair {
	return &KeyPair{
		Private: priv,
		ID:      PubkeyID(priv.PubKey()),
	}
}

// Secret returns the serialized private key.
func (kp *KeyPair) Secret() []byte {
	return kp.Private.Serialize()
}
