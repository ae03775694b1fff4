// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing and signing of custody records.
//
// The canonical encoding is the sole input to both record hashing and
// signature generation. Any two implementations must agree byte for byte,
// so everything funnels through jcs.Transform: keys sorted lexicographically
// at every nesting level, no insignificant whitespace, no HTML escaping,
// numbers in shortest unambiguous form.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Bytes returns the RFC 8785 canonical JSON encoding of v.
func Bytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
func Hash(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 digest of raw bytes as 64-char lowercase hex.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String returns the canonical form as a string.
func String(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
