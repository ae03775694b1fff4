package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPayloadExists is returned when a payload file is already present;
// stored payloads are never overwritten.
var ErrPayloadExists = errors.New("payload file already exists")

// WritePayload stores raw under <dir>/<evidenceID>/<fileName> with a
// create-exclusive open and returns the absolute path.
func WritePayload(dir, evidenceID, fileName string, raw []byte) (string, error) {
	if err := validPathComponent(evidenceID); err != nil {
		return "", fmt.Errorf("store: evidence id: %w", err)
	}
	if err := validPathComponent(fileName); err != nil {
		return "", fmt.Errorf("store: file name: %w", err)
	}

	target := filepath.Join(dir, evidenceID)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("store: create payload dir: %w", err)
	}

	path := filepath.Join(target, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("store: %s: %w", path, ErrPayloadExists)
		}
		return "", fmt.Errorf("store: create payload: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("store: write payload: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("store: fsync payload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("store: close payload: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("store: resolve payload path: %w", err)
	}
	return abs, nil
}

func validPathComponent(s string) error {
	if s == "" || s == "." || s == ".." ||
		strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return fmt.Errorf("invalid path component %q", s)
	}
	return nil
}
