package ledger

import "time"

// ActionType categorizes a custody event. The set is closed.
type ActionType string

const (
	ActionIntake          ActionType = "INTAKE"
	ActionTransfer        ActionType = "TRANSFER"
	ActionAccess          ActionType = "ACCESS"
	ActionAnalysis        ActionType = "ANALYSIS"
	ActionStorage         ActionType = "STORAGE"
	ActionCourtSubmission ActionType = "COURT_SUBMISSION"
	ActionEndorse         ActionType = "ENDORSE"
)

// ValidActionType reports whether a is a member of the closed action set.
func ValidActionType(a ActionType) bool {
	switch a {
	case ActionIntake, ActionTransfer, ActionAccess, ActionAnalysis,
		ActionStorage, ActionCourtSubmission, ActionEndorse:
		return true
	}
	return false
}

// Genesis is the prev_hash sentinel of the first ledger line.
const Genesis = "GENESIS"

// EndorsementStatus is the quorum state of an event.
type EndorsementStatus string

const (
	StatusFinal   EndorsementStatus = "FINAL"
	StatusPending EndorsementStatus = "PENDING_ENDORSEMENT"
)

// Endorsement records one organization's co-signature attached at write time.
type Endorsement struct {
	OrgID  string `json:"org_id"`
	UserID string `json:"user_id"`
}

// Event is one line of the append-only custody log. Events are created
// exactly once and never updated or deleted; the persisted form is the
// canonical JSON encoding of all fields.
//
// EndorsementStatus here is the snapshot taken at write time. The
// authoritative status is recomputed on read from later ENDORSE lines; see
// Ledger.ComputeEndorsementStatus.
type Event struct {
	TxID                 string            `json:"tx_id"`
	EvidenceID           string            `json:"evidence_id"`
	ActionType           ActionType        `json:"action_type"`
	RequiredEndorserOrgs int               `json:"required_endorser_orgs"`
	ActorUserID          string            `json:"actor_user_id"`
	ActorRole            string            `json:"actor_role"`
	ActorOrgID           string            `json:"actor_org_id"`
	Timestamp            string            `json:"timestamp"`
	PresentedSHA256      *string           `json:"presented_sha256"`
	ExpectedSHA256       string            `json:"expected_sha256"`
	IntegrityOK          bool              `json:"integrity_ok"`
	PrevHash             string            `json:"prev_hash"`
	EndorsementStatus    EndorsementStatus `json:"endorsement_status"`
	Endorsements         []Endorsement     `json:"endorsements"`
	Details              map[string]any    `json:"details"`
	SignerPubkeyB64      string            `json:"signer_pubkey_b64"`
	SignatureB64         string            `json:"signature_b64"`
	RecordHash           string            `json:"record_hash"`
}

// timeLayout renders RFC 3339 with microsecond precision and an explicit
// numeric offset; UTC prints as +00:00.
const timeLayout = "2006-01-02T15:04:05.000000-07:00"

// FormatTimestamp renders t as the ledger's canonical timestamp string.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// UTCNowISO returns the current UTC time in the ledger timestamp format.
func UTCNowISO() string {
	return FormatTimestamp(time.Now())
}
