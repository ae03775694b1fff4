// Package crypto provides hashing and per-user Ed25519 signing for the
// custody ledger.
package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
)

// Signer produces signatures on behalf of a user. The file-backed KeyStore is
// the prototype implementation; a hardware-backed or remote signer can be
// substituted without touching the ledger.
type Signer interface {
	// PublicKeyB64 returns the user's raw 32-byte Ed25519 public key,
	// base64 standard encoded. Keys are created lazily on first use.
	PublicKeyB64(userID string) (string, error)

	// SignB64 signs payload with the user's private key and returns the
	// 64-byte signature, base64 standard encoded.
	SignB64(userID string, payload []byte) (string, error)
}

// VerifyB64 checks sigB64 over payload under a base64-encoded raw Ed25519
// public key. Any decode or size failure reports false rather than an error;
// chain validation treats all malformed signatures alike.
func VerifyB64(pubkeyB64, sigB64 string, payload []byte) bool {
	pub, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}
