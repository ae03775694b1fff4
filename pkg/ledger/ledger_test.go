package ledger

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-custody/core/pkg/authz"
	"github.com/sentinel-custody/core/pkg/canonicalize"
	"github.com/sentinel-custody/core/pkg/crypto"
)

var (
	officer = authz.Principal{UserID: "officer1", Role: authz.RoleFieldOfficer, OrgID: "KPS"}
	analyst = authz.Principal{UserID: "analyst1", Role: authz.RoleForensicAnalyst, OrgID: "FORENSIC_LAB"}
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dir := t.TempDir()
	l, err := New(filepath.Join(dir, "ledger.jsonl"), crypto.NewKeyStore(filepath.Join(dir, "keys")))
	require.NoError(t, err)
	return l
}

func appendIntake(t *testing.T, l *Ledger, evidenceID string) *Event {
	t.Helper()
	sha := crypto.HashBytes([]byte("hello"))
	ev, err := l.AppendEvent(AppendRequest{
		EvidenceID:      evidenceID,
		ActionType:      ActionIntake,
		Principal:       officer,
		ExpectedSHA256:  sha,
		PresentedSHA256: &sha,
		IntegrityOK:     true,
		Details:         map[string]any{"case_id": "CASE-001"},
		Endorse:         true,
	})
	require.NoError(t, err)
	return ev
}

func TestEmptyLedgerIsValid(t *testing.T) {
	l := newTestLedger(t)
	valid, reason, err := l.ValidateChain()
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, ReasonOK, reason)
}

func TestAppendChainsFromGenesis(t *testing.T) {
	l := newTestLedger(t)

	first := appendIntake(t, l, "e-1")
	assert.Equal(t, Genesis, first.PrevHash)
	assert.NotEmpty(t, first.RecordHash)
	assert.NotEmpty(t, first.TxID)

	second, err := l.AppendEvent(AppendRequest{
		EvidenceID:     "e-1",
		ActionType:     ActionAnalysis,
		Principal:      analyst,
		ExpectedSHA256: first.ExpectedSHA256,
		IntegrityOK:    true,
		Endorse:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.RecordHash, second.PrevHash)

	valid, reason, err := l.ValidateChain()
	require.NoError(t, err)
	assert.True(t, valid, reason)
}

func TestAppendRejectsInvalidActionTypes(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.AppendEvent(AppendRequest{EvidenceID: "e", ActionType: "DESTROY", Principal: officer})
	assert.Error(t, err)

	_, err = l.AppendEvent(AppendRequest{EvidenceID: "e", ActionType: ActionEndorse, Principal: officer})
	assert.Error(t, err)
}

func TestTimestampFormat(t *testing.T) {
	l := newTestLedger(t)
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.FixedZone("EAT", 3*3600))
	l.WithClock(func() time.Time { return fixed })

	ev := appendIntake(t, l, "e-1")
	assert.Equal(t, "2026-03-14T06:26:53.589793+00:00", ev.Timestamp)
}

func TestEventSignatureVerifies(t *testing.T) {
	l := newTestLedger(t)
	appendIntake(t, l, "e-1")

	rows := readRows(t, l.Path())
	require.Len(t, rows, 1)
	row := rows[0]

	pub := row["signer_pubkey_b64"].(string)
	sig := row["signature_b64"].(string)
	payload := canonicalWithoutForTest(t, row, "record_hash", "signer_pubkey_b64", "signature_b64")
	assert.True(t, crypto.VerifyB64(pub, sig, payload))
}

func TestValidateDetectsFieldTampering(t *testing.T) {
	l := newTestLedger(t)
	appendIntake(t, l, "e-1")
	appendIntake(t, l, "e-2")

	rows := readRows(t, l.Path())
	rows[0]["actor_user_id"] = "someone_else"
	writeRows(t, l.Path(), rows)

	valid, reason, err := l.ValidateChain()
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, ReasonRecordHashMismatch, reason)
}

func TestValidateDetectsDeletedLine(t *testing.T) {
	l := newTestLedger(t)
	appendIntake(t, l, "e-1")
	appendIntake(t, l, "e-2")
	appendIntake(t, l, "e-3")

	rows := readRows(t, l.Path())
	writeRows(t, l.Path(), append(rows[:1], rows[2:]...))

	valid, reason, err := l.ValidateChain()
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, ReasonPrevHashMismatch, reason)
}

func TestValidateDetectsMissingSignature(t *testing.T) {
	l := newTestLedger(t)
	appendIntake(t, l, "e-1")

	rows := readRows(t, l.Path())
	rows[0]["signature_b64"] = ""
	resealRow(t, rows[0])
	writeRows(t, l.Path(), rows)

	valid, reason, err := l.ValidateChain()
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, ReasonMissingSignature, reason)
}

func TestValidateDetectsForgedSignature(t *testing.T) {
	l := newTestLedger(t)
	appendIntake(t, l, "e-1")

	rows := readRows(t, l.Path())
	forged := make([]byte, 64)
	_, err := rand.Read(forged)
	require.NoError(t, err)
	rows[0]["signature_b64"] = base64.StdEncoding.EncodeToString(forged)
	resealRow(t, rows[0])
	writeRows(t, l.Path(), rows)

	valid, reason, err := l.ValidateChain()
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, ReasonInvalidSignature, reason)
}

func TestTransferQuorum(t *testing.T) {
	l := newTestLedger(t)
	intake := appendIntake(t, l, "e-1")

	status, _, _, err := l.ComputeEndorsementStatus(intake)
	require.NoError(t, err)
	assert.Equal(t, StatusFinal, status, "single-org action finalizes at write time")

	transfer, err := l.AppendEvent(AppendRequest{
		EvidenceID:     "e-1",
		ActionType:     ActionTransfer,
		Principal:      officer,
		ExpectedSHA256: intake.ExpectedSHA256,
		IntegrityOK:    true,
		Endorse:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, transfer.RequiredEndorserOrgs)
	assert.Equal(t, StatusPending, transfer.EndorsementStatus)

	// An ENDORSE line from the writer's own org is accepted but adds no new
	// org, so the transfer stays pending.
	_, err = l.EndorseEvent(transfer.TxID, "e-1", officer)
	require.NoError(t, err)
	status, unique, _, err := l.ComputeEndorsementStatus(transfer)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.Equal(t, 1, unique)

	// A second ENDORSE line from that org is a duplicate.
	_, err = l.EndorseEvent(transfer.TxID, "e-1", officer)
	assert.ErrorIs(t, err, ErrDuplicateEndorsement)

	endorse, err := l.EndorseEvent(transfer.TxID, "e-1", analyst)
	require.NoError(t, err)
	assert.Equal(t, ActionEndorse, endorse.ActionType)
	assert.Equal(t, transfer.TxID, endorse.Details["endorsed_tx_id"])

	status, unique, required, err := l.ComputeEndorsementStatus(transfer)
	require.NoError(t, err)
	assert.Equal(t, StatusFinal, status)
	assert.Equal(t, 2, unique)
	assert.Equal(t, 2, required)

	orgs, err := l.EndorserOrgIDs(transfer)
	require.NoError(t, err)
	assert.Equal(t, []string{"FORENSIC_LAB", "KPS"}, orgs)

	// A second endorsement from FORENSIC_LAB is still a duplicate.
	_, err = l.EndorseEvent(transfer.TxID, "e-1", authz.Principal{
		UserID: "analyst2", Role: authz.RoleForensicAnalyst, OrgID: "FORENSIC_LAB",
	})
	assert.ErrorIs(t, err, ErrDuplicateEndorsement)

	valid, reason, err := l.ValidateChain()
	require.NoError(t, err)
	assert.True(t, valid, reason)
}

func TestEndorseEventReportsFinal(t *testing.T) {
	l := newTestLedger(t)
	intake := appendIntake(t, l, "e-1")
	endorse, err := l.EndorseEvent(intake.TxID, "e-1", analyst)
	require.NoError(t, err)

	status, unique, required, err := l.ComputeEndorsementStatus(endorse)
	require.NoError(t, err)
	assert.Equal(t, StatusFinal, status)
	assert.Equal(t, 1, unique)
	assert.Equal(t, 1, required)

	orgs, err := l.EndorserOrgIDs(endorse)
	require.NoError(t, err)
	assert.Equal(t, []string{"FORENSIC_LAB"}, orgs)
}

func TestGetTimelineAndGetEvent(t *testing.T) {
	l := newTestLedger(t)
	first := appendIntake(t, l, "e-1")
	appendIntake(t, l, "e-2")
	second := appendIntake(t, l, "e-1")

	timeline, err := l.GetTimeline("e-1")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, first.TxID, timeline[0].TxID)
	assert.Equal(t, second.TxID, timeline[1].TxID)

	got, err := l.GetEvent(first.TxID)
	require.NoError(t, err)
	assert.Equal(t, first.RecordHash, got.RecordHash)

	_, err = l.GetEvent("no-such-tx")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestIntegrityFailureIsRecordedNotRejected(t *testing.T) {
	l := newTestLedger(t)
	bad := crypto.HashBytes([]byte("tampered"))
	ev, err := l.AppendEvent(AppendRequest{
		EvidenceID:      "e-1",
		ActionType:      ActionAccess,
		Principal:       analyst,
		ExpectedSHA256:  crypto.HashBytes([]byte("hello")),
		PresentedSHA256: &bad,
		IntegrityOK:     false,
		Endorse:         true,
	})
	require.NoError(t, err)
	assert.False(t, ev.IntegrityOK)

	valid, _, err := l.ValidateChain()
	require.NoError(t, err)
	assert.True(t, valid, "a recorded mismatch does not invalidate the chain")
}

func TestChainValidityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	actions := []ActionType{ActionTransfer, ActionAccess, ActionAnalysis, ActionStorage, ActionCourtSubmission}

	properties.Property("any append sequence yields a valid chain", prop.ForAll(
		func(picks []int) bool {
			dir, err := os.MkdirTemp("", "ledger-prop")
			if err != nil {
				return false
			}
			defer func() { _ = os.RemoveAll(dir) }()

			l, err := New(filepath.Join(dir, "ledger.jsonl"), crypto.NewKeyStore(filepath.Join(dir, "keys")))
			if err != nil {
				return false
			}

			prev := Genesis
			for _, pick := range picks {
				ev, err := l.AppendEvent(AppendRequest{
					EvidenceID:     "e-1",
					ActionType:     actions[pick%len(actions)],
					Principal:      officer,
					ExpectedSHA256: crypto.HashBytes([]byte("hello")),
					IntegrityOK:    true,
					Endorse:        true,
				})
				if err != nil {
					return false
				}
				if ev.PrevHash != prev {
					return false
				}
				prev = ev.RecordHash
			}

			valid, _, err := l.ValidateChain()
			return err == nil && valid
		},
		gen.SliceOfN(8, gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}

// readRows parses every ledger line preserving number literals.
func readRows(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var rows []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		row, err := decodeRow(append([]byte(nil), raw...))
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.NoError(t, sc.Err())
	return rows
}

func writeRows(t *testing.T, path string, rows []map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	for _, row := range rows {
		line, err := canonicalize.Bytes(row)
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// resealRow recomputes record_hash after a test mutation so only the intended
// check trips.
func resealRow(t *testing.T, row map[string]any) {
	t.Helper()
	hashed := canonicalWithoutForTest(t, row, "record_hash")
	row["record_hash"] = canonicalize.HashBytes(hashed)
}

func canonicalWithoutForTest(t *testing.T, row map[string]any, keys ...string) []byte {
	t.Helper()
	out, err := canonicalWithout(row, keys...)
	require.NoError(t, err)
	return out
}
