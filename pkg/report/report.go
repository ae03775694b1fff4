// Package report builds the read-side projections over the custody ledger
// and evidence store: the per-evidence court report and the per-case audit
// rollup. Both are pure reads; nothing here writes to the ledger.
package report

import (
	"fmt"

	"github.com/sentinel-custody/core/pkg/ledger"
	"github.com/sentinel-custody/core/pkg/store"
)

// LegalBasis names the statutes and standards the report is generated under.
type LegalBasis struct {
	EvidenceAct string   `json:"evidence_act"`
	Standards   []string `json:"standards"`
}

// ChainValidation is the ledger-wide validation verdict embedded in reports.
type ChainValidation struct {
	ChainValid bool   `json:"chain_valid"`
	Message    string `json:"message"`
}

// Actor identifies the writer of one custody event.
type Actor struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	OrgID  string `json:"org_id"`
}

// Signing carries the signature material of one custody event.
type Signing struct {
	SignerPubkeyB64 string `json:"signer_pubkey_b64"`
	SignatureB64    string `json:"signature_b64"`
}

// EventRecord is one row of the chain-of-custody timeline in a court report.
type EventRecord struct {
	TxID                 string                   `json:"tx_id"`
	ActionType           ledger.ActionType        `json:"action_type"`
	Timestamp            string                   `json:"timestamp"`
	Actor                Actor                    `json:"actor"`
	RequiredEndorserOrgs int                      `json:"required_endorser_orgs"`
	EndorsementStatus    ledger.EndorsementStatus `json:"endorsement_status"`
	IntegrityOK          bool                     `json:"integrity_ok"`
	PresentedSHA256      *string                  `json:"presented_sha256"`
	ExpectedSHA256       string                   `json:"expected_sha256"`
	Details              map[string]any           `json:"details"`
	Signing              Signing                  `json:"signing"`
	RecordHash           string                   `json:"record_hash"`
	PrevHash             string                   `json:"prev_hash"`
}

// Attestation is the closing statement attached to every court report.
type Attestation struct {
	Notes string `json:"notes"`
}

// CourtReport is the court-ready summary for one piece of evidence.
type CourtReport struct {
	GeneratedAt      string             `json:"generated_at"`
	Jurisdiction     string             `json:"jurisdiction"`
	LegalBasis       LegalBasis         `json:"legal_basis"`
	LedgerValidation ChainValidation    `json:"ledger_validation"`
	Evidence         *store.EvidenceRow `json:"evidence"`
	ChainOfCustody   []EventRecord      `json:"chain_of_custody"`
	Attestation      Attestation        `json:"attestation"`
}

// EvidenceAudit is the per-evidence slice of a case audit rollup.
type EvidenceAudit struct {
	EvidenceID          string  `json:"evidence_id"`
	FileName            string  `json:"file_name"`
	SHA256              string  `json:"sha256"`
	EventCount          int     `json:"event_count"`
	IntegrityFailures   int     `json:"integrity_failures"`
	PendingEndorsements int     `json:"pending_endorsements"`
	LastEventAt         *string `json:"last_event_at"`
	ComplianceStatus    string  `json:"compliance_status"`
}

// Compliance statuses for case audits.
const (
	StatusCompliant         = "COMPLIANT"
	StatusAttentionRequired = "ATTENTION_REQUIRED"
)

// CaseAudit aggregates audit counters across all evidence in a case.
type CaseAudit struct {
	CaseID                 string          `json:"case_id"`
	GeneratedAt            string          `json:"generated_at"`
	LedgerValidation       ChainValidation `json:"ledger_validation"`
	EvidenceCount          int             `json:"evidence_count"`
	TotalEvents            int             `json:"total_events"`
	IntegrityFailures      int             `json:"integrity_failures"`
	PendingEndorsements    int             `json:"pending_endorsements"`
	CompliantEvidenceCount int             `json:"compliant_evidence_count"`
	EvidenceAudits         []EvidenceAudit `json:"evidence_audits"`
}

const attestationNotes = "This report is generated from an append-only, hash-chained custody ledger. " +
	"Any tampering breaks hash continuity and validation."

// Builder renders reports against a ledger under a fixed jurisdiction and
// legal basis.
type Builder struct {
	ledger       *ledger.Ledger
	jurisdiction string
	legalBasis   LegalBasis
}

// NewBuilder creates a report builder.
func NewBuilder(l *ledger.Ledger, jurisdiction string, basis LegalBasis) *Builder {
	return &Builder{ledger: l, jurisdiction: jurisdiction, legalBasis: basis}
}

// CourtReport builds the court-ready report for one piece of evidence:
// validation header, metadata, then the chronological timeline with the
// authoritative (recomputed) endorsement status per event.
func (b *Builder) CourtReport(ev *store.EvidenceRow) (*CourtReport, error) {
	valid, msg, err := b.ledger.ValidateChain()
	if err != nil {
		return nil, fmt.Errorf("report: validate chain: %w", err)
	}
	timeline, err := b.ledger.GetTimeline(ev.EvidenceID)
	if err != nil {
		return nil, fmt.Errorf("report: timeline: %w", err)
	}

	records := make([]EventRecord, 0, len(timeline))
	for _, e := range timeline {
		status, _, _, err := b.ledger.ComputeEndorsementStatus(e)
		if err != nil {
			return nil, fmt.Errorf("report: endorsement status: %w", err)
		}
		records = append(records, EventRecord{
			TxID:       e.TxID,
			ActionType: e.ActionType,
			Timestamp:  e.Timestamp,
			Actor: Actor{
				UserID: e.ActorUserID,
				Role:   e.ActorRole,
				OrgID:  e.ActorOrgID,
			},
			RequiredEndorserOrgs: e.RequiredEndorserOrgs,
			EndorsementStatus:    status,
			IntegrityOK:          e.IntegrityOK,
			PresentedSHA256:      e.PresentedSHA256,
			ExpectedSHA256:       e.ExpectedSHA256,
			Details:              e.Details,
			Signing: Signing{
				SignerPubkeyB64: e.SignerPubkeyB64,
				SignatureB64:    e.SignatureB64,
			},
			RecordHash: e.RecordHash,
			PrevHash:   e.PrevHash,
		})
	}

	return &CourtReport{
		GeneratedAt:      ledger.UTCNowISO(),
		Jurisdiction:     b.jurisdiction,
		LegalBasis:       b.legalBasis,
		LedgerValidation: ChainValidation{ChainValid: valid, Message: msg},
		Evidence:         ev,
		ChainOfCustody:   records,
		Attestation:      Attestation{Notes: attestationNotes},
	}, nil
}

// CaseAudit builds the rollup for every evidence item in a case. An evidence
// item is COMPLIANT iff it has no integrity failures and no pending
// endorsements.
func (b *Builder) CaseAudit(caseID string, items []*store.EvidenceRow) (*CaseAudit, error) {
	valid, msg, err := b.ledger.ValidateChain()
	if err != nil {
		return nil, fmt.Errorf("report: validate chain: %w", err)
	}

	audit := &CaseAudit{
		CaseID:           caseID,
		GeneratedAt:      ledger.UTCNowISO(),
		LedgerValidation: ChainValidation{ChainValid: valid, Message: msg},
		EvidenceCount:    len(items),
		EvidenceAudits:   make([]EvidenceAudit, 0, len(items)),
	}

	for _, item := range items {
		timeline, err := b.ledger.GetTimeline(item.EvidenceID)
		if err != nil {
			return nil, fmt.Errorf("report: timeline: %w", err)
		}

		row := EvidenceAudit{
			EvidenceID: item.EvidenceID,
			FileName:   item.FileName,
			SHA256:     item.SHA256,
			EventCount: len(timeline),
		}
		for _, e := range timeline {
			if !e.IntegrityOK {
				row.IntegrityFailures++
			}
			if e.ActionType != ledger.ActionEndorse {
				status, _, _, err := b.ledger.ComputeEndorsementStatus(e)
				if err != nil {
					return nil, fmt.Errorf("report: endorsement status: %w", err)
				}
				if status == ledger.StatusPending {
					row.PendingEndorsements++
				}
			}
			ts := e.Timestamp
			row.LastEventAt = &ts
		}

		row.ComplianceStatus = StatusAttentionRequired
		if row.IntegrityFailures == 0 && row.PendingEndorsements == 0 {
			row.ComplianceStatus = StatusCompliant
			audit.CompliantEvidenceCount++
		}

		audit.TotalEvents += row.EventCount
		audit.IntegrityFailures += row.IntegrityFailures
		audit.PendingEndorsements += row.PendingEndorsements
		audit.EvidenceAudits = append(audit.EvidenceAudits, row)
	}

	return audit, nil
}
