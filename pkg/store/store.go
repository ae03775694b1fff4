// Package store persists evidence metadata in an embedded sqlite database
// and evidence payloads as files keyed by evidence id. Metadata rows are
// created exactly once at intake and never mutated; the recorded sha256 is
// the plaintext digest that anchors all later integrity checks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown evidence ids.
var ErrNotFound = errors.New("evidence not found")

const schema = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS evidence (
    evidence_id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    description TEXT NOT NULL,
    source_device TEXT,
    acquisition_method TEXT NOT NULL,
    file_name TEXT NOT NULL,
    sha256 TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_file (
    evidence_id TEXT PRIMARY KEY,
    file_path TEXT NOT NULL,
    FOREIGN KEY (evidence_id) REFERENCES evidence(evidence_id)
);
`

// EvidenceRow is the immutable metadata record created at intake.
type EvidenceRow struct {
	EvidenceID        string  `json:"evidence_id"`
	CaseID            string  `json:"case_id"`
	Description       string  `json:"description"`
	SourceDevice      *string `json:"source_device"`
	AcquisitionMethod string  `json:"acquisition_method"`
	FileName          string  `json:"file_name"`
	SHA256            string  `json:"sha256"`
	CreatedAt         string  `json:"created_at"`
}

// EvidenceStore wraps the sqlite database.
type EvidenceStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at dbPath and applies
// the schema.
func Open(dbPath string) (*EvidenceStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &EvidenceStore{db: db}, nil
}

// Close closes the underlying database.
func (s *EvidenceStore) Close() error {
	return s.db.Close()
}

// Insert writes the evidence row and its payload location in one
// transaction.
func (s *EvidenceStore) Insert(ctx context.Context, row EvidenceRow, filePath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO evidence (evidence_id, case_id, description, source_device, acquisition_method, file_name, sha256, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EvidenceID, row.CaseID, row.Description, row.SourceDevice,
		row.AcquisitionMethod, row.FileName, row.SHA256, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert evidence: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO evidence_file (evidence_id, file_path) VALUES (?, ?)`,
		row.EvidenceID, filePath,
	)
	if err != nil {
		return fmt.Errorf("store: insert evidence file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Get returns the evidence row for evidenceID, or ErrNotFound.
func (s *EvidenceStore) Get(ctx context.Context, evidenceID string) (*EvidenceRow, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT evidence_id, case_id, description, source_device, acquisition_method, file_name, sha256, created_at
        FROM evidence WHERE evidence_id = ?`, evidenceID)
	ev, err := scanEvidence(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get evidence: %w", err)
	}
	return ev, nil
}

// ListByCase returns all evidence rows grouped under caseID, in no
// particular order; callers that need ordering sort by created_at.
func (s *EvidenceStore) ListByCase(ctx context.Context, caseID string) ([]*EvidenceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT evidence_id, case_id, description, source_device, acquisition_method, file_name, sha256, created_at
        FROM evidence WHERE case_id = ?`, caseID)
	if err != nil {
		return nil, fmt.Errorf("store: list by case: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*EvidenceRow
	for rows.Next() {
		ev, err := scanEvidence(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return out, nil
}

// FilePath returns the absolute payload path for evidenceID, or ErrNotFound.
func (s *EvidenceStore) FilePath(ctx context.Context, evidenceID string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT file_path FROM evidence_file WHERE evidence_id = ?`, evidenceID).Scan(&path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: get file path: %w", err)
	}
	return path, nil
}

func scanEvidence(scan func(dest ...any) error) (*EvidenceRow, error) {
	var (
		ev     EvidenceRow
		device sql.NullString
	)
	err := scan(&ev.EvidenceID, &ev.CaseID, &ev.Description, &device,
		&ev.AcquisitionMethod, &ev.FileName, &ev.SHA256, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	if device.Valid {
		ev.SourceDevice = &device.String
	}
	return &ev, nil
}
