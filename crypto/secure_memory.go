package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe overwrites a byte slice holding key material with zeros. It
// returns an error if the slice is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	runtime.KeepAlive(data)
	runtime.KeepAlive(zeros)
	return nil
}

// ZeroBytes is SecureWipe without the nil check error.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair zeroes the private scalar of kp. The key pair must not be
// used for signing afterwards.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil || kp.Private == nil {
		return errors.New("cannot wipe nil KeyPair")
	}
	kp.Private.Zero()
	return nil
}
