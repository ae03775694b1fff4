package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *EvidenceStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRow(evidenceID, caseID string) EvidenceRow {
	device := "Samsung A52"
	return EvidenceRow{
		EvidenceID:        evidenceID,
		CaseID:            caseID,
		Description:       "seized mobile phone",
		SourceDevice:      &device,
		AcquisitionMethod: "physical extraction",
		FileName:          "image.bin",
		SHA256:            "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		CreatedAt:         "2026-03-14T06:26:53.589793+00:00",
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := sampleRow("e-1", "CASE-001")
	require.NoError(t, s.Insert(ctx, row, "/payloads/e-1/image.bin"))

	got, err := s.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, &row, got)

	path, err := s.FilePath(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "/payloads/e-1/image.bin", path)
}

func TestGetUnknownEvidence(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FilePath(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertDuplicateEvidenceID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, sampleRow("e-1", "CASE-001"), "/p/1"))
	assert.Error(t, s.Insert(ctx, sampleRow("e-1", "CASE-001"), "/p/2"))
}

func TestNullSourceDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := sampleRow("e-1", "CASE-001")
	row.SourceDevice = nil
	require.NoError(t, s.Insert(ctx, row, "/p/1"))

	got, err := s.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Nil(t, got.SourceDevice)
}

func TestListByCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, sampleRow("e-1", "CASE-001"), "/p/1"))
	require.NoError(t, s.Insert(ctx, sampleRow("e-2", "CASE-001"), "/p/2"))
	require.NoError(t, s.Insert(ctx, sampleRow("e-3", "CASE-002"), "/p/3"))

	items, err := s.ListByCase(ctx, "CASE-001")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = s.ListByCase(ctx, "CASE-999")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWritePayload(t *testing.T) {
	dir := t.TempDir()

	path, err := WritePayload(dir, "e-1", "image.bin", []byte("payload"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestWritePayloadNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	_, err := WritePayload(dir, "e-1", "image.bin", []byte("first"))
	require.NoError(t, err)

	_, err = WritePayload(dir, "e-1", "image.bin", []byte("second"))
	assert.ErrorIs(t, err, ErrPayloadExists)
}

func TestWritePayloadRejectsBadComponents(t *testing.T) {
	dir := t.TempDir()
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := WritePayload(dir, bad, "f", []byte("x"))
		assert.Error(t, err, "evidence id %q", bad)
		_, err = WritePayload(dir, "e", bad, []byte("x"))
		assert.Error(t, err, "file name %q", bad)
	}
}
