package cipher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) (*EvidenceCipher, string) {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "keys", "evidence.fernet.key")
	c, err := New(keyPath)
	require.NoError(t, err)
	return c, keyPath
}

func TestNewCreatesKeyFile(t *testing.T) {
	_, keyPath := newTestCipher(t)

	data, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(string(data)), 44)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNewReloadsSameKey(t *testing.T) {
	c1, keyPath := newTestCipher(t)
	c2, err := New(keyPath)
	require.NoError(t, err)
	assert.Equal(t, c1.Status().KeyFingerprintSHA256, c2.Status().KeyFingerprintSHA256)

	// Payloads written by one instance decrypt under the other.
	enc, err := c1.EncryptForStorage([]byte("cross-instance"))
	require.NoError(t, err)
	plain, err := c2.DecryptFromStorage(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte("cross-instance"), plain)
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	c, _ := newTestCipher(t)
	plaintext := []byte("evidence payload bytes \x00\xff")

	enc, err := c.EncryptForStorage(plaintext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(enc), Prefix))
	assert.NotContains(t, string(enc), string(plaintext))

	plain, err := c.DecryptFromStorage(enc)
	require.NoError(t, err)
	assert.Equal(t, plaintext, plain)
}

func TestDecryptPassesThroughPlaintext(t *testing.T) {
	c, _ := newTestCipher(t)
	legacy := []byte("never encrypted")
	plain, err := c.DecryptFromStorage(legacy)
	require.NoError(t, err)
	assert.Equal(t, legacy, plain)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c, _ := newTestCipher(t)
	enc, err := c.EncryptForStorage([]byte("original"))
	require.NoError(t, err)

	tampered := append([]byte(nil), enc...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = c.DecryptFromStorage(tampered)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	c1, _ := newTestCipher(t)
	c2, _ := newTestCipher(t)

	enc, err := c1.EncryptForStorage([]byte("secret"))
	require.NoError(t, err)
	_, err = c2.DecryptFromStorage(enc)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewRejectsCorruptKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))
	_, err := New(keyPath)
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	c, keyPath := newTestCipher(t)
	st := c.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, "Fernet (AES-128-CBC + HMAC-SHA256)", st.Algorithm)
	assert.Equal(t, keyPath, st.KeyPath)
	assert.Len(t, st.KeyFingerprintSHA256, 64)
}
