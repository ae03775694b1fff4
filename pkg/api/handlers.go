package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sentinel-custody/core/pkg/authz"
	"github.com/sentinel-custody/core/pkg/identity"
	"github.com/sentinel-custody/core/pkg/ledger"
	"github.com/sentinel-custody/core/pkg/service"
)

// maxBodyBytes bounds request bodies; evidence payloads arrive base64-encoded
// inline.
const maxBodyBytes = 64 << 20

// Server exposes the custody service over HTTP.
type Server struct {
	svc      *service.Service
	provider *identity.Provider
	rateRPM  int
	log      *slog.Logger
}

// NewServer creates the HTTP server wiring.
func NewServer(svc *service.Service, provider *identity.Provider, rateRPM int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, provider: provider, rateRPM: rateRPM, log: log}
}

// Routes builds the full handler chain. Health, encryption status and token
// issuance are open; everything else requires an authenticated principal.
func (s *Server) Routes() http.Handler {
	open := http.NewServeMux()
	open.HandleFunc("GET /health", s.handleHealth)
	open.HandleFunc("GET /encryption/status", s.handleEncryptionStatus)
	open.HandleFunc("POST /auth/token", s.handleToken)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /evidence/intake", s.handleIntake)
	protected.HandleFunc("POST /evidence/event", s.handleRecordEvent)
	protected.HandleFunc("POST /evidence/endorse", s.handleEndorse)
	protected.HandleFunc("POST /evidence/{id}/verify", s.handleVerify)
	protected.HandleFunc("GET /evidence/{id}/timeline", s.handleTimeline)
	protected.HandleFunc("GET /evidence/{id}/report", s.handleReport)
	protected.HandleFunc("GET /case/{id}", s.handleCase)
	protected.HandleFunc("GET /case/{id}/audit", s.handleCaseAudit)

	authed := Authenticate(s.provider)(RateLimit(s.rateRPM)(protected))

	root := http.NewServeMux()
	root.Handle("/health", open)
	root.Handle("/encryption/status", open)
	root.Handle("/auth/token", open)
	root.Handle("/", authed)

	return RequestID(root)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

// writeServiceError maps classified service failures onto problem responses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *service.Error
	if errors.As(err, &serr) {
		status := serr.HTTPStatus()
		if status >= 500 {
			s.log.Error("request failed", "path", r.URL.Path, "code", serr.Code, "error", err)
		}
		WriteErrorR(w, r, status, string(serr.Code), serr.Message)
		return
	}
	WriteInternal(w, err)
}

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (authz.Principal, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
	}
	return p, ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type intakeBody struct {
	CaseID            string  `json:"case_id"`
	Description       string  `json:"description"`
	SourceDevice      *string `json:"source_device"`
	AcquisitionMethod string  `json:"acquisition_method"`
	FileName          string  `json:"file_name"`
	FileBytesB64      string  `json:"file_bytes_b64"`
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var body intakeBody
	if !decodeBody(w, r, &body) {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(body.FileBytesB64)
	if err != nil {
		WriteBadRequest(w, "file_bytes_b64 is not valid base64")
		return
	}

	res, err := s.svc.Intake(r.Context(), p, service.IntakeRequest{
		CaseID:            body.CaseID,
		Description:       body.Description,
		SourceDevice:      body.SourceDevice,
		AcquisitionMethod: body.AcquisitionMethod,
		FileName:          body.FileName,
		Raw:               raw,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

type eventBody struct {
	EvidenceID      string         `json:"evidence_id"`
	ActionType      string         `json:"action_type"`
	Details         map[string]any `json:"details"`
	PresentedSHA256 *string        `json:"presented_sha256"`
	Endorse         bool           `json:"endorse"`
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var body eventBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.EvidenceID == "" || body.ActionType == "" {
		WriteBadRequest(w, "evidence_id and action_type are required")
		return
	}

	view, err := s.svc.RecordEvent(r.Context(), p, service.RecordEventRequest{
		EvidenceID:      body.EvidenceID,
		ActionType:      ledger.ActionType(body.ActionType),
		Details:         body.Details,
		PresentedSHA256: body.PresentedSHA256,
		Endorse:         body.Endorse,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

type endorseBody struct {
	TxID string `json:"tx_id"`
}

func (s *Server) handleEndorse(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var body endorseBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.TxID == "" {
		WriteBadRequest(w, "tx_id is required")
		return
	}

	res, err := s.svc.Endorse(r.Context(), p, body.TxID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Verify(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	views, err := s.svc.Timeline(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"evidence_id": r.PathValue("id"),
		"events":      views,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	rep, err := s.svc.Report(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCase(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	summary, err := s.svc.Case(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCaseAudit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	audit, err := s.svc.CaseAudit(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, audit)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.svc.Health()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleEncryptionStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.EncryptionStatus())
}

type tokenBody struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body tokenBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" {
		WriteBadRequest(w, "user_id is required")
		return
	}
	tok, err := s.provider.IssueToken(body.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownUser) {
			WriteUnauthorized(w, "unknown user")
			return
		}
		WriteInternal(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}
