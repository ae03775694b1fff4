// Package cipher provides optional envelope encryption of stored evidence
// payloads. The construction is Fernet (AES-128-CBC with an HMAC-SHA256 tag,
// encrypt-then-MAC), so a flipped ciphertext byte fails authentication before
// any decryption output is produced. Recorded sha256 digests are always over
// plaintext; encryption never changes what "integrity" means.
package cipher

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fernet/fernet-go"

	"github.com/sentinel-custody/core/pkg/crypto"
)

// Prefix distinguishes encrypted payloads from legacy plaintext files.
const Prefix = "TSENC1:"

// ErrDecrypt reports an authentication or decryption failure on a payload
// that carries the encryption prefix. This is fatal; a MAC failure means the
// ciphertext was tampered with or the key is wrong.
var ErrDecrypt = errors.New("unable to decrypt evidence payload")

// Status describes the at-rest encryption configuration.
type Status struct {
	Enabled              bool   `json:"enabled"`
	Algorithm            string `json:"algorithm"`
	KeyPath              string `json:"key_path"`
	KeyFingerprintSHA256 string `json:"key_fingerprint_sha256"`
}

// EvidenceCipher encrypts and decrypts evidence payloads with a single
// symmetric key held on disk. The key file holds the urlsafe-base64 encoding
// of a 32-byte Fernet key (44 bytes on disk) and is created on first use.
type EvidenceCipher struct {
	keyPath     string
	key         *fernet.Key
	fingerprint string
}

// New loads the key at keyPath, generating and persisting one if absent.
func New(keyPath string) (*EvidenceCipher, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return &EvidenceCipher{
		keyPath:     keyPath,
		key:         key,
		fingerprint: crypto.HashBytes(key[:]),
	}, nil
}

func loadOrCreateKey(keyPath string) (*fernet.Key, error) {
	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		key, err := fernet.DecodeKey(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("cipher: decode key %s: %w", keyPath, err)
		}
		return key, nil
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
			return nil, fmt.Errorf("cipher: create key dir: %w", err)
		}
		key := new(fernet.Key)
		if err := key.Generate(); err != nil {
			return nil, fmt.Errorf("cipher: generate key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(key.Encode()), 0o600); err != nil {
			return nil, fmt.Errorf("cipher: persist key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("cipher: read key %s: %w", keyPath, err)
	}
}

// EncryptForStorage wraps plaintext in an authenticated Fernet token and
// prepends the storage prefix.
func (c *EvidenceCipher) EncryptForStorage(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, c.key)
	if err != nil {
		return nil, fmt.Errorf("cipher: encrypt: %w", err)
	}
	return append([]byte(Prefix), tok...), nil
}

// DecryptFromStorage returns the plaintext of a stored payload. Payloads
// without the prefix are legacy plaintext and pass through unchanged.
func (c *EvidenceCipher) DecryptFromStorage(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(Prefix)) {
		return data, nil
	}
	tok := bytes.TrimPrefix(data, []byte(Prefix))
	msg := fernet.VerifyAndDecrypt(tok, 0, []*fernet.Key{c.key})
	if msg == nil {
		return nil, ErrDecrypt
	}
	return msg, nil
}

// Status reports the active encryption configuration for operator surfaces.
func (c *EvidenceCipher) Status() Status {
	return Status{
		Enabled:              true,
		Algorithm:            "Fernet (AES-128-CBC + HMAC-SHA256)",
		KeyPath:              c.keyPath,
		KeyFingerprintSHA256: c.fingerprint,
	}
}
