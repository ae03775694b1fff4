package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const keyFileSuffix = ".ed25519.pem"

// KeyStore holds per-user Ed25519 private keys as unencrypted PKCS#8 PEM files
// under <dir>/<user_id>.ed25519.pem. Keys are created lazily on the first
// signing action for a user and persisted atomically (temp file + rename).
//
// Prototype assumption: the custody service holds private keys on behalf of
// users. Production deployments should swap in an HSM or remote signer via
// the Signer interface.
type KeyStore struct {
	mu    sync.Mutex
	dir   string
	cache map[string]ed25519.PrivateKey
}

// NewKeyStore creates a KeyStore rooted at dir. The directory is created on
// first key generation, not here.
func NewKeyStore(dir string) *KeyStore {
	return &KeyStore{
		dir:   dir,
		cache: make(map[string]ed25519.PrivateKey),
	}
}

// PublicKeyB64 implements Signer.
func (k *KeyStore) PublicKeyB64(userID string) (string, error) {
	priv, err := k.load(userID)
	if err != nil {
		return "", err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub), nil
}

// SignB64 implements Signer.
func (k *KeyStore) SignB64(userID string, payload []byte) (string, error) {
	priv, err := k.load(userID)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, payload)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// load returns the user's private key, reading it from disk or generating and
// persisting a fresh one if no key file exists yet.
func (k *KeyStore) load(userID string) (ed25519.PrivateKey, error) {
	if userID == "" || strings.ContainsAny(userID, `/\`) || strings.Contains(userID, "..") {
		return nil, fmt.Errorf("keystore: invalid user id %q", userID)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if priv, ok := k.cache[userID]; ok {
		return priv, nil
	}

	path := filepath.Join(k.dir, userID+keyFileSuffix)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		priv, err := parsePKCS8Ed25519(data)
		if err != nil {
			return nil, fmt.Errorf("keystore: %s: %w", path, err)
		}
		k.cache[userID] = priv
		return priv, nil
	case errors.Is(err, os.ErrNotExist):
		priv, err := k.generate(path)
		if err != nil {
			return nil, err
		}
		k.cache[userID] = priv
		return priv, nil
	default:
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
}

// generate creates a new keypair and persists it atomically so a crash never
// leaves a truncated key file behind.
func (k *KeyStore) generate(path string) (ed25519.PrivateKey, error) {
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("keystore: marshal key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	tmp, err := os.CreateTemp(k.dir, ".key-*")
	if err != nil {
		return nil, fmt.Errorf("keystore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("keystore: chmod: %w", err)
	}
	if _, err := tmp.Write(pemBytes); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("keystore: write key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("keystore: close key file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("keystore: persist key: %w", err)
	}
	return priv, nil
}

func parsePKCS8Ed25519(pemBytes []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("unexpected private key type")
	}
	return priv, nil
}
