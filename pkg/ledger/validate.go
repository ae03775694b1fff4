package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sentinel-custody/core/pkg/canonicalize"
	"github.com/sentinel-custody/core/pkg/crypto"
)

// Chain validation failure reasons. These are labeled returns, never panics
// or errors: an invalid chain is a verdict, not a fault.
const (
	ReasonOK                 = "ok"
	ReasonRecordHashMismatch = "record hash mismatch"
	ReasonPrevHashMismatch   = "prev_hash mismatch"
	ReasonMissingSignature   = "missing signature"
	ReasonInvalidSignature   = "invalid signature"
)

// ValidateChain walks the file from the top, recomputing every record hash,
// checking hash continuity and verifying every signature. An empty ledger is
// valid. Readers take no lock; they iterate to end-of-file.
func (l *Ledger) ValidateChain() (bool, string, error) {
	prev := Genesis
	valid := true
	reason := ReasonOK

	err := l.forEachRaw(func(raw []byte) error {
		if !valid {
			return nil
		}

		row, err := decodeRow(raw)
		if err != nil {
			return err
		}

		recordHash, _ := row["record_hash"].(string)
		expected, err := canonicalWithout(row, "record_hash")
		if err != nil {
			return err
		}
		if canonicalize.HashBytes(expected) != recordHash {
			valid, reason = false, ReasonRecordHashMismatch
			return nil
		}

		if prevHash, _ := row["prev_hash"].(string); prevHash != prev {
			valid, reason = false, ReasonPrevHashMismatch
			return nil
		}

		pub, _ := row["signer_pubkey_b64"].(string)
		sig, _ := row["signature_b64"].(string)
		if pub == "" || sig == "" {
			valid, reason = false, ReasonMissingSignature
			return nil
		}
		payload, err := canonicalWithout(row, "record_hash", "signer_pubkey_b64", "signature_b64")
		if err != nil {
			return err
		}
		if !crypto.VerifyB64(pub, sig, payload) {
			valid, reason = false, ReasonInvalidSignature
			return nil
		}

		prev = recordHash
		return nil
	})
	if err != nil {
		return false, "", err
	}
	return valid, reason, nil
}

// decodeRow parses a ledger line preserving number literals, so
// re-canonicalization reproduces the writer's bytes exactly.
func decodeRow(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("ledger: parse line: %w", err)
	}
	return row, nil
}

// canonicalWithout returns the canonical encoding of row with the given
// top-level keys removed. row is not modified.
func canonicalWithout(row map[string]any, keys ...string) ([]byte, error) {
	copied := make(map[string]any, len(row))
	for k, v := range row {
		copied[k] = v
	}
	for _, k := range keys {
		delete(copied, k)
	}
	return canonicalize.Bytes(copied)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
