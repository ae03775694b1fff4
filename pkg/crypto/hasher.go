package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// fileHashChunk keeps file hashing at a bounded memory footprint; evidence
// payloads can be disk images far larger than RAM.
const fileHashChunk = 1 << 20

// HashBytes returns the SHA-256 digest of data as 64-char lowercase hex.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashFile streams the file at path through SHA-256 in 1 MiB chunks and
// returns the lowercase hex digest. The file is never loaded whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, fileHashChunk)); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
