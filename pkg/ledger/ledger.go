// Package ledger implements the append-only, hash-chained, signed custody
// log. The JSONL file is the source of truth; no index is persisted.
//
// Invariants maintained by every successful append:
//   - each line's prev_hash equals the previous line's record_hash
//     (GENESIS for the first line);
//   - each line's signature verifies under its embedded public key over the
//     canonical record minus {record_hash, signer_pubkey_b64, signature_b64};
//   - each line's record_hash is the SHA-256 of the canonical record minus
//     {record_hash};
//   - no two ENDORSE lines for the same target tx_id share an actor_org_id.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/sentinel-custody/core/pkg/authz"
	"github.com/sentinel-custody/core/pkg/canonicalize"
	"github.com/sentinel-custody/core/pkg/crypto"
)

// maxLineSize bounds a single ledger line when scanning.
const maxLineSize = 8 << 20

var (
	// ErrDuplicateEndorsement is returned when an organization tries to
	// endorse the same transaction twice.
	ErrDuplicateEndorsement = errors.New("duplicate endorsement from org")

	// ErrEventNotFound is returned when no line carries the requested tx_id.
	ErrEventNotFound = errors.New("event not found")
)

// Ledger is a serialized single-writer resource. Appends hold an in-process
// mutex plus an exclusive OS-level lock on the ledger file for the duration
// of "compute prev_hash → write line → fsync → release"; readers iterate the
// file to EOF without locking.
type Ledger struct {
	mu     sync.Mutex
	path   string
	fl     *flock.Flock
	signer crypto.Signer
	clock  func() time.Time
}

// New creates a Ledger at path, creating the file and its parent directory
// if absent.
func New(path string, signer crypto.Signer) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: create file: %w", err)
	}
	_ = f.Close()
	return &Ledger{
		path:   path,
		fl:     flock.New(path + ".lock"),
		signer: signer,
		clock:  time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// AppendRequest carries everything needed to write one custody event.
type AppendRequest struct {
	EvidenceID      string
	ActionType      ActionType
	Principal       authz.Principal
	ExpectedSHA256  string
	PresentedSHA256 *string
	IntegrityOK     bool
	Details         map[string]any
	Endorse         bool
}

// AppendEvent writes one signed, hash-chained event and returns it.
// IntegrityOK=false is not an error here: mismatches are recorded so the
// audit trail preserves them.
func (l *Ledger) AppendEvent(req AppendRequest) (*Event, error) {
	if !ValidActionType(req.ActionType) {
		return nil, fmt.Errorf("ledger: invalid action type %q", req.ActionType)
	}
	if req.ActionType == ActionEndorse {
		return nil, errors.New("ledger: ENDORSE events are written via EndorseEvent")
	}

	details := req.Details
	if details == nil {
		details = map[string]any{}
	}

	required := authz.RequiredEndorserOrgs(string(req.ActionType))
	endorsements := []map[string]string{}
	if req.Endorse {
		endorsements = append(endorsements, map[string]string{
			"org_id":  req.Principal.OrgID,
			"user_id": req.Principal.UserID,
		})
	}

	// Write-time snapshot; the authoritative status is recomputed on read.
	status := StatusPending
	if uniqueOrgs(endorsements) >= required {
		status = StatusFinal
	}

	record := map[string]any{
		"tx_id":                  uuid.New().String(),
		"evidence_id":            req.EvidenceID,
		"action_type":            string(req.ActionType),
		"required_endorser_orgs": required,
		"actor_user_id":          req.Principal.UserID,
		"actor_role":             string(req.Principal.Role),
		"actor_org_id":           req.Principal.OrgID,
		"presented_sha256":       req.PresentedSHA256,
		"expected_sha256":        req.ExpectedSHA256,
		"integrity_ok":           req.IntegrityOK,
		"endorsement_status":     string(status),
		"endorsements":           endorsements,
		"details":                details,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fl.Lock(); err != nil {
		return nil, fmt.Errorf("ledger: lock: %w", err)
	}
	defer func() { _ = l.fl.Unlock() }()

	return l.sealAndWriteLocked(record, req.Principal.UserID)
}

// EndorseEvent appends an ENDORSE line co-signing txID on behalf of the
// principal's organization. A second endorsement from the same organization
// for the same target fails with ErrDuplicateEndorsement.
func (l *Ledger) EndorseEvent(txID, evidenceID string, p authz.Principal) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fl.Lock(); err != nil {
		return nil, fmt.Errorf("ledger: lock: %w", err)
	}
	defer func() { _ = l.fl.Unlock() }()

	orgs, err := l.EndorserOrgsForTx(txID)
	if err != nil {
		return nil, err
	}
	if _, dup := orgs[p.OrgID]; dup {
		return nil, ErrDuplicateEndorsement
	}

	record := map[string]any{
		"tx_id":                  uuid.New().String(),
		"evidence_id":            evidenceID,
		"action_type":            string(ActionEndorse),
		"required_endorser_orgs": 1,
		"actor_user_id":          p.UserID,
		"actor_role":             string(p.Role),
		"actor_org_id":           p.OrgID,
		"presented_sha256":       nil,
		"expected_sha256":        "",
		"integrity_ok":           true,
		"endorsement_status":     string(StatusFinal),
		"endorsements": []map[string]string{
			{"org_id": p.OrgID, "user_id": p.UserID},
		},
		"details": map[string]any{"endorsed_tx_id": txID},
	}

	return l.sealAndWriteLocked(record, p.UserID)
}

// sealAndWriteLocked stamps, chains, signs, hashes and appends the record.
// Callers hold both the in-process mutex and the file lock.
func (l *Ledger) sealAndWriteLocked(record map[string]any, userID string) (*Event, error) {
	prev, err := l.lastHash()
	if err != nil {
		return nil, err
	}
	record["prev_hash"] = prev
	record["timestamp"] = FormatTimestamp(l.clock())

	// Signature covers the canonical record minus the signature fields and
	// record_hash; none of the three are present yet.
	payload, err := canonicalize.Bytes(record)
	if err != nil {
		return nil, fmt.Errorf("ledger: canonicalize for signing: %w", err)
	}
	pub, err := l.signer.PublicKeyB64(userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: signer: %w", err)
	}
	sig, err := l.signer.SignB64(userID, payload)
	if err != nil {
		return nil, fmt.Errorf("ledger: sign: %w", err)
	}
	record["signer_pubkey_b64"] = pub
	record["signature_b64"] = sig

	// record_hash covers everything else, signature fields included.
	hashed, err := canonicalize.Bytes(record)
	if err != nil {
		return nil, fmt.Errorf("ledger: canonicalize for hashing: %w", err)
	}
	record["record_hash"] = canonicalize.HashBytes(hashed)

	line, err := canonicalize.Bytes(record)
	if err != nil {
		return nil, fmt.Errorf("ledger: canonicalize line: %w", err)
	}
	if err := l.appendLine(line); err != nil {
		return nil, err
	}

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("ledger: decode written event: %w", err)
	}
	return &ev, nil
}

// appendLine writes one line plus newline, fsyncs the file, then fsyncs the
// containing directory so the append survives a crash.
func (l *Ledger) appendLine(line []byte) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open for append: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("ledger: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("ledger: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ledger: close: %w", err)
	}

	dir, err := os.Open(filepath.Dir(l.path))
	if err != nil {
		return fmt.Errorf("ledger: open dir: %w", err)
	}
	defer func() { _ = dir.Close() }()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("ledger: fsync dir: %w", err)
	}
	return nil
}

// lastHash returns the record_hash of the final line, or Genesis when the
// ledger is empty.
func (l *Ledger) lastHash() (string, error) {
	last := Genesis
	err := l.forEachRaw(func(raw []byte) error {
		var row struct {
			RecordHash string `json:"record_hash"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return fmt.Errorf("ledger: parse line: %w", err)
		}
		last = row.RecordHash
		return nil
	})
	if err != nil {
		return "", err
	}
	return last, nil
}

// forEachRaw iterates every non-empty line of the ledger file.
func (l *Ledger) forEachRaw(fn func(raw []byte) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("ledger: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		// Scanner reuses its buffer; hand callers a copy.
		if err := fn(append([]byte(nil), raw...)); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ledger: scan: %w", err)
	}
	return nil
}

// GetTimeline returns all events for evidenceID in file order.
func (l *Ledger) GetTimeline(evidenceID string) ([]*Event, error) {
	var out []*Event
	err := l.forEachRaw(func(raw []byte) error {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("ledger: parse line: %w", err)
		}
		if ev.EvidenceID == evidenceID {
			out = append(out, &ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEvent returns the event with the given tx_id, or ErrEventNotFound.
func (l *Ledger) GetEvent(txID string) (*Event, error) {
	var found *Event
	err := l.forEachRaw(func(raw []byte) error {
		if found != nil {
			return nil
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("ledger: parse line: %w", err)
		}
		if ev.TxID == txID {
			found = &ev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrEventNotFound
	}
	return found, nil
}

// EndorserOrgsForTx returns the set of organizations that wrote an ENDORSE
// line targeting txID. Linear in ledger size; acceptable for the prototype.
func (l *Ledger) EndorserOrgsForTx(txID string) (map[string]struct{}, error) {
	orgs := make(map[string]struct{})
	err := l.forEachRaw(func(raw []byte) error {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("ledger: parse line: %w", err)
		}
		if ev.ActionType != ActionEndorse || ev.ActorOrgID == "" {
			return nil
		}
		target, _ := ev.Details["endorsed_tx_id"].(string)
		if target == txID {
			orgs[ev.ActorOrgID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

// ComputeEndorsementStatus returns the authoritative status of an event by
// combining its write-time endorsements with later ENDORSE lines targeting
// it. ENDORSE events themselves report FINAL. Returns (status, unique
// endorser orgs, required orgs).
func (l *Ledger) ComputeEndorsementStatus(ev *Event) (EndorsementStatus, int, int, error) {
	if ev.ActionType == ActionEndorse {
		return StatusFinal, 1, 1, nil
	}
	required := ev.RequiredEndorserOrgs
	if required < 1 {
		required = 1
	}
	orgs, err := l.EndorserOrgsForTx(ev.TxID)
	if err != nil {
		return "", 0, 0, err
	}
	for _, e := range ev.Endorsements {
		if e.OrgID != "" {
			orgs[e.OrgID] = struct{}{}
		}
	}
	if len(orgs) >= required {
		return StatusFinal, len(orgs), required, nil
	}
	return StatusPending, len(orgs), required, nil
}

// EndorserOrgIDs returns the sorted distinct organizations endorsing ev:
// write-time endorsements plus ENDORSE lines. For an ENDORSE event this is
// the singleton set of its actor's organization.
func (l *Ledger) EndorserOrgIDs(ev *Event) ([]string, error) {
	if ev.ActionType == ActionEndorse {
		if ev.ActorOrgID == "" {
			return []string{}, nil
		}
		return []string{ev.ActorOrgID}, nil
	}
	orgs, err := l.EndorserOrgsForTx(ev.TxID)
	if err != nil {
		return nil, err
	}
	for _, e := range ev.Endorsements {
		if e.OrgID != "" {
			orgs[e.OrgID] = struct{}{}
		}
	}
	return sortedKeys(orgs), nil
}

func uniqueOrgs(endorsements []map[string]string) int {
	seen := make(map[string]struct{})
	for _, e := range endorsements {
		if org := e["org_id"]; org != "" {
			seen[org] = struct{}{}
		}
	}
	return len(seen)
}
