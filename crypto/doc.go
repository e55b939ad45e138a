// Package crypto provides the identity primitives used by discovery.
//
// A node is identified by its secp256k1 public key. Packets are signed with
// recoverable signatures so the receiver learns the sender's id from the
// signature itself, and digests are legacy keccak256.
//
// # Identities
//
//	kp, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("node id:", kp.ID)
//
// A saved identity is restored with FromSecretKey or FromHex.
//
// # Signatures
//
//	digest := crypto.Keccak256(payload)
//	sig, _ := crypto.Sign(digest, kp)
//	id, err := crypto.RecoverNodeID(digest, sig) // id == kp.ID
//
// # Time
//
// TimeProvider decouples expiration and timeout checks from the wall clock.
// Tests inject a mock clock; production code uses DefaultTimeProvider.
package crypto
