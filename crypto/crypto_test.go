package crypto

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.False(t, kp.ID.IsZero())

	restored, err := FromSecretKey(kp.Secret())
	require.NoError(t, err)
	assert.Equal(t, kp.ID, restored.ID)

	pub, err := kp.ID.Pubkey()
	require.NoError(t, err)
	assert.Equal(t, kp.ID, PubkeyID(pub))
}

func TestFromSecretKeyRejectsInvalid(t *testing.T) {
	_, err := FromSecretKey(make([]byte, SecretKeyLength))
	assert.ErrorIs(t, err, ErrInvalidSecretKey)

	_, err = FromSecretKey([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSecretKey)

	_, err = FromHex("not hex")
	assert.ErrorIs(t, err, ErrInvalidSecretKey)
}

func TestParseNodeID(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	id, err := ParseNodeID(kp.ID.String())
	require.NoError(t, err)
	assert.Equal(t, kp.ID, id)

	id, err = ParseNodeID("0x" + kp.ID.String())
	require.NoError(t, err)
	assert.Equal(t, kp.ID, id)

	_, err = ParseNodeID("abcd")
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	assert.Len(t, kp.ID.Short(), 16)
}

func TestSignAndRecover(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	digest := Keccak256([]byte("discovery"), []byte("payload"))
	require.Len(t, digest, HashLength)

	sig, err := Sign(digest, kp)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.LessOrEqual(t, sig[64], byte(1))

	id, err := RecoverNodeID(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, kp.ID, id)

	other := Keccak256([]byte("something else"))
	id, err = RecoverNodeID(other, sig)
	if err == nil {
		assert.NotEqual(t, kp.ID, id)
	}
}

func TestRecoverRejectsMalformed(t *testing.T) {
	digest := Keccak256([]byte("x"))

	_, err := RecoverNodeID(digest, make([]byte, 10))
	assert.ErrorIs(t, err, ErrRecoveryFailed)

	sig := make([]byte, SignatureLength)
	sig[64] = 9
	_, err = RecoverNodeID(digest, sig)
	assert.ErrorIs(t, err, ErrRecoveryFailed)

	_, err = Sign([]byte("short"), &KeyPair{})
	assert.Error(t, err)
}

func TestKeccak256KnownVector(t *testing.T) {
	// keccak256("") as used by Ethereum.
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(Keccak256()))
}

func TestUnixConversions(t *testing.T) {
	ts, err := TimeFromUnix(1_700_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), ts.Unix())

	_, err = TimeFromUnix(^uint64(0))
	assert.Error(t, err)

	secs, err := UnixFromTime(ts)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_000), secs)

	_, err = UnixFromTime(time.Unix(-1, 0))
	assert.Error(t, err)
}

func TestSecureWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	require.NoError(t, SecureWipe(data))
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
	assert.Error(t, SecureWipe(nil))

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, WipeKeyPair(kp))
	assert.Equal(t, make([]byte, SecretKeyLength), kp.Secret())
	assert.Error(t, WipeKeyPair(nil))
}
