// Package service implements the custody verbs behind the API: intake,
// event recording, integrity verification, endorsement and the read-side
// views. All verbs are RBAC-gated and every state change goes through the
// signed ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/sentinel-custody/core/pkg/authz"
	"github.com/sentinel-custody/core/pkg/cipher"
	"github.com/sentinel-custody/core/pkg/crypto"
	"github.com/sentinel-custody/core/pkg/ledger"
	"github.com/sentinel-custody/core/pkg/report"
	"github.com/sentinel-custody/core/pkg/store"
)

// Service wires the evidence store, ledger, optional payload cipher and
// report builder behind RBAC-checked verbs. A nil cipher means payloads are
// stored as plaintext.
type Service struct {
	store       *store.EvidenceStore
	ledger      *ledger.Ledger
	cipher      *cipher.EvidenceCipher
	reports     *report.Builder
	evidenceDir string
	log         *slog.Logger
}

// New assembles the service. cipher may be nil.
func New(st *store.EvidenceStore, l *ledger.Ledger, c *cipher.EvidenceCipher,
	rb *report.Builder, evidenceDir string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:       st,
		ledger:      l,
		cipher:      c,
		reports:     rb,
		evidenceDir: evidenceDir,
		log:         log,
	}
}

// EventView is the API shape of a custody event: the stored record plus the
// authoritative endorsement state recomputed at read time. The outer fields
// shadow the embedded snapshot in the JSON encoding.
type EventView struct {
	*ledger.Event
	EndorsementStatus  ledger.EndorsementStatus `json:"endorsement_status"`
	EndorserOrgIDs     []string                 `json:"endorser_org_ids"`
	UniqueEndorserOrgs int                      `json:"unique_endorser_orgs"`
}

func (s *Service) eventView(ev *ledger.Event) (*EventView, error) {
	status, unique, _, err := s.ledger.ComputeEndorsementStatus(ev)
	if err != nil {
		return nil, errStorage("read endorsement status", err)
	}
	orgs, err := s.ledger.EndorserOrgIDs(ev)
	if err != nil {
		return nil, errStorage("read endorser orgs", err)
	}
	return &EventView{
		Event:              ev,
		EndorsementStatus:  status,
		EndorserOrgIDs:     orgs,
		UniqueEndorserOrgs: unique,
	}, nil
}

// IntakeRequest registers one evidence item with its payload bytes.
type IntakeRequest struct {
	CaseID            string
	Description       string
	SourceDevice      *string
	AcquisitionMethod string
	FileName          string
	Raw               []byte
}

// IntakeResult returns the persisted metadata and the INTAKE ledger event.
type IntakeResult struct {
	Evidence *store.EvidenceRow `json:"evidence"`
	Event    *EventView         `json:"event"`
}

// Intake hashes the plaintext payload, stores it (encrypted when a cipher is
// configured), persists the metadata row and appends the INTAKE event. The
// recorded sha256 is always the plaintext digest.
func (s *Service) Intake(ctx context.Context, p authz.Principal, req IntakeRequest) (*IntakeResult, error) {
	if err := authz.RequireAction(p, authz.ActionRegisterEvidence); err != nil {
		return nil, errForbidden(err)
	}
	if req.CaseID == "" || req.FileName == "" || len(req.Raw) == 0 {
		return nil, errBadRequest("case_id, file_name and file content are required", nil)
	}

	evidenceID := uuid.New().String()
	sha := crypto.HashBytes(req.Raw)

	stored := req.Raw
	if s.cipher != nil {
		enc, err := s.cipher.EncryptForStorage(req.Raw)
		if err != nil {
			return nil, errCrypto("encrypt evidence payload", err)
		}
		stored = enc
	}

	path, err := store.WritePayload(s.evidenceDir, evidenceID, req.FileName, stored)
	if err != nil {
		return nil, errStorage("store evidence payload", err)
	}

	row := store.EvidenceRow{
		EvidenceID:        evidenceID,
		CaseID:            req.CaseID,
		Description:       req.Description,
		SourceDevice:      req.SourceDevice,
		AcquisitionMethod: req.AcquisitionMethod,
		FileName:          req.FileName,
		SHA256:            sha,
		CreatedAt:         ledger.UTCNowISO(),
	}
	if err := s.store.Insert(ctx, row, path); err != nil {
		return nil, errStorage("persist evidence metadata", err)
	}

	ev, err := s.ledger.AppendEvent(ledger.AppendRequest{
		EvidenceID:      evidenceID,
		ActionType:      ledger.ActionIntake,
		Principal:       p,
		ExpectedSHA256:  sha,
		PresentedSHA256: &sha,
		IntegrityOK:     true,
		Details: map[string]any{
			"case_id":   req.CaseID,
			"file_name": req.FileName,
		},
		Endorse: true,
	})
	if err != nil {
		return nil, errStorage("append intake event", err)
	}

	s.log.Info("evidence registered",
		"evidence_id", evidenceID, "case_id", req.CaseID,
		"sha256", sha, "actor", p.UserID, "encrypted", s.cipher != nil)

	view, err := s.eventView(ev)
	if err != nil {
		return nil, err
	}
	return &IntakeResult{Evidence: &row, Event: view}, nil
}

// RecordEventRequest appends one custody event to existing evidence. A
// non-nil PresentedSHA256 is the hash the actor observed; Endorse attaches
// the actor's organization as a write-time co-signature.
type RecordEventRequest struct {
	EvidenceID      string
	ActionType      ledger.ActionType
	Details         map[string]any
	PresentedSHA256 *string
	Endorse         bool
}

// RecordEvent appends a custody event for existing evidence. INTAKE and
// ENDORSE are written by their dedicated verbs and are rejected here. When a
// presented hash is given, integrity_ok is its comparison against the intake
// digest; a mismatch is recorded, never rejected.
func (s *Service) RecordEvent(ctx context.Context, p authz.Principal, req RecordEventRequest) (*EventView, error) {
	if err := authz.RequireAction(p, authz.ActionRecordEvent); err != nil {
		return nil, errForbidden(err)
	}
	if !ledger.ValidActionType(req.ActionType) ||
		req.ActionType == ledger.ActionIntake || req.ActionType == ledger.ActionEndorse {
		return nil, errBadRequest(fmt.Sprintf("unsupported action type %q", req.ActionType), nil)
	}

	row, err := s.store.Get(ctx, req.EvidenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("evidence not found", err)
		}
		return nil, errStorage("load evidence", err)
	}

	integrityOK := true
	if req.PresentedSHA256 != nil {
		integrityOK = *req.PresentedSHA256 == row.SHA256
	}

	ev, err := s.ledger.AppendEvent(ledger.AppendRequest{
		EvidenceID:      req.EvidenceID,
		ActionType:      req.ActionType,
		Principal:       p,
		ExpectedSHA256:  row.SHA256,
		PresentedSHA256: req.PresentedSHA256,
		IntegrityOK:     integrityOK,
		Details:         req.Details,
		Endorse:         req.Endorse,
	})
	if err != nil {
		return nil, errStorage("append custody event", err)
	}

	if !integrityOK {
		s.log.Warn("integrity mismatch recorded",
			"evidence_id", req.EvidenceID, "expected", row.SHA256, "presented", *req.PresentedSHA256)
	}
	s.log.Info("custody event recorded",
		"evidence_id", req.EvidenceID, "action", req.ActionType, "actor", p.UserID, "tx_id", ev.TxID)

	return s.eventView(ev)
}

// VerifyResult reports one integrity check and the ACCESS event recording it.
type VerifyResult struct {
	EvidenceID      string     `json:"evidence_id"`
	IntegrityOK     bool       `json:"integrity_ok"`
	PresentedSHA256 string     `json:"presented_sha256"`
	ExpectedSHA256  string     `json:"expected_sha256"`
	Event           *EventView `json:"event"`
}

// Verify rehashes the stored payload (decrypting first when needed), compares
// against the intake digest and appends an ACCESS event. A mismatch is not an
// error: it is recorded with integrity_ok=false so the trail preserves it.
func (s *Service) Verify(ctx context.Context, p authz.Principal, evidenceID string) (*VerifyResult, error) {
	if err := authz.RequireAction(p, authz.ActionVerifyIntegrity); err != nil {
		return nil, errForbidden(err)
	}

	row, err := s.store.Get(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("evidence not found", err)
		}
		return nil, errStorage("load evidence", err)
	}
	path, err := s.store.FilePath(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("evidence payload not found", err)
		}
		return nil, errStorage("load evidence payload path", err)
	}

	presented, err := s.hashPayload(path)
	if err != nil {
		return nil, err
	}
	match := presented == row.SHA256

	ev, err := s.ledger.AppendEvent(ledger.AppendRequest{
		EvidenceID:      evidenceID,
		ActionType:      ledger.ActionAccess,
		Principal:       p,
		ExpectedSHA256:  row.SHA256,
		PresentedSHA256: &presented,
		IntegrityOK:     match,
		Details:         map[string]any{"purpose": "integrity_verification"},
		Endorse:         true,
	})
	if err != nil {
		return nil, errStorage("append verification event", err)
	}

	if !match {
		s.log.Warn("integrity check failed",
			"evidence_id", evidenceID, "expected", row.SHA256, "presented", presented)
	}

	view, err := s.eventView(ev)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		EvidenceID:      evidenceID,
		IntegrityOK:     match,
		PresentedSHA256: presented,
		ExpectedSHA256:  row.SHA256,
		Event:           view,
	}, nil
}

// hashPayload returns the plaintext sha256 of the payload at path. Without a
// cipher the file is streamed; with one it is read and decrypted first.
func (s *Service) hashPayload(path string) (string, error) {
	if s.cipher == nil {
		sum, err := crypto.HashFile(path)
		if err != nil {
			return "", errStorage("hash evidence payload", err)
		}
		return sum, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errStorage("read evidence payload", err)
	}
	plain, err := s.cipher.DecryptFromStorage(data)
	if err != nil {
		return "", errCrypto("decrypt evidence payload", err)
	}
	return crypto.HashBytes(plain), nil
}

// EndorseResult carries the written ENDORSE event and the target's
// recomputed quorum state.
type EndorseResult struct {
	Endorsement  *EventView               `json:"endorsement"`
	TargetTxID   string                   `json:"target_tx_id"`
	TargetStatus ledger.EndorsementStatus `json:"target_status"`
}

// Endorse co-signs an existing event on behalf of the principal's
// organization. A second endorsement from the same organization conflicts.
func (s *Service) Endorse(ctx context.Context, p authz.Principal, txID string) (*EndorseResult, error) {
	if err := authz.RequireAction(p, authz.ActionRecordEvent); err != nil {
		return nil, errForbidden(err)
	}

	target, err := s.ledger.GetEvent(txID)
	if err != nil {
		if errors.Is(err, ledger.ErrEventNotFound) {
			return nil, errNotFound("event not found", err)
		}
		return nil, errStorage("load target event", err)
	}

	ev, err := s.ledger.EndorseEvent(txID, target.EvidenceID, p)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEndorsement) {
			return nil, &Error{Code: CodeDuplicateEndorsement, Message: "duplicate endorsement from org", Err: err}
		}
		return nil, errStorage("append endorsement", err)
	}

	status, _, _, err := s.ledger.ComputeEndorsementStatus(target)
	if err != nil {
		return nil, errStorage("read endorsement status", err)
	}

	s.log.Info("event endorsed",
		"target_tx_id", txID, "org", p.OrgID, "actor", p.UserID, "target_status", status)

	view, err := s.eventView(ev)
	if err != nil {
		return nil, err
	}
	return &EndorseResult{Endorsement: view, TargetTxID: txID, TargetStatus: status}, nil
}

// Timeline returns the full custody history of one evidence item in ledger
// order, with recomputed endorsement state per event.
func (s *Service) Timeline(ctx context.Context, p authz.Principal, evidenceID string) ([]*EventView, error) {
	if err := authz.RequireAction(p, authz.ActionViewEvidence); err != nil {
		return nil, errForbidden(err)
	}
	if _, err := s.store.Get(ctx, evidenceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("evidence not found", err)
		}
		return nil, errStorage("load evidence", err)
	}

	events, err := s.ledger.GetTimeline(evidenceID)
	if err != nil {
		return nil, errStorage("read timeline", err)
	}
	views := make([]*EventView, 0, len(events))
	for _, ev := range events {
		view, err := s.eventView(ev)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Report builds the court-ready report for one evidence item.
func (s *Service) Report(ctx context.Context, p authz.Principal, evidenceID string) (*report.CourtReport, error) {
	if err := authz.RequireAction(p, authz.ActionGenerateReport); err != nil {
		return nil, errForbidden(err)
	}
	row, err := s.store.Get(ctx, evidenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("evidence not found", err)
		}
		return nil, errStorage("load evidence", err)
	}
	rep, err := s.reports.CourtReport(row)
	if err != nil {
		return nil, errStorage("build court report", err)
	}
	return rep, nil
}

// CaseSummary lists the evidence registered under one case.
type CaseSummary struct {
	CaseID        string               `json:"case_id"`
	EvidenceCount int                  `json:"evidence_count"`
	Evidence      []*store.EvidenceRow `json:"evidence"`
}

// Case returns the evidence inventory of a case. Unknown cases return an
// empty inventory rather than an error.
func (s *Service) Case(ctx context.Context, p authz.Principal, caseID string) (*CaseSummary, error) {
	if err := authz.RequireAction(p, authz.ActionViewEvidence); err != nil {
		return nil, errForbidden(err)
	}
	items, err := s.store.ListByCase(ctx, caseID)
	if err != nil {
		return nil, errStorage("list case evidence", err)
	}
	if items == nil {
		items = []*store.EvidenceRow{}
	}
	return &CaseSummary{CaseID: caseID, EvidenceCount: len(items), Evidence: items}, nil
}

// CaseAudit builds the compliance rollup across all evidence in a case.
func (s *Service) CaseAudit(ctx context.Context, p authz.Principal, caseID string) (*report.CaseAudit, error) {
	if err := authz.RequireAction(p, authz.ActionGenerateReport); err != nil {
		return nil, errForbidden(err)
	}
	items, err := s.store.ListByCase(ctx, caseID)
	if err != nil {
		return nil, errStorage("list case evidence", err)
	}
	audit, err := s.reports.CaseAudit(caseID, items)
	if err != nil {
		return nil, errStorage("build case audit", err)
	}
	return audit, nil
}

// Health reports service liveness plus the full-chain validation verdict.
type Health struct {
	Status     string `json:"status"`
	ChainValid bool   `json:"chain_valid"`
	Message    string `json:"message"`
}

// Health validates the whole ledger. The service stays up on an invalid
// chain; the verdict is the signal.
func (s *Service) Health() (*Health, error) {
	valid, msg, err := s.ledger.ValidateChain()
	if err != nil {
		return nil, errStorage("validate ledger", err)
	}
	status := "ok"
	if !valid {
		status = "degraded"
	}
	return &Health{Status: status, ChainValid: valid, Message: msg}, nil
}

// EncryptionStatus reports the at-rest encryption configuration.
func (s *Service) EncryptionStatus() cipher.Status {
	if s.cipher == nil {
		return cipher.Status{Enabled: false, Algorithm: "none"}
	}
	return s.cipher.Status()
}
