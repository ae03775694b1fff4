package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-custody/core/pkg/authz"
)

func TestDefaultUsersCoverEveryRole(t *testing.T) {
	users := DefaultUsers()
	seen := make(map[authz.Role]bool)
	for id, p := range users {
		assert.Equal(t, id, p.UserID)
		assert.True(t, authz.ValidRole(p.Role), id)
		assert.NotEmpty(t, p.OrgID, id)
		seen[p.Role] = true
	}
	assert.Len(t, seen, len(authz.Roles()))
}

func TestResolve(t *testing.T) {
	p := NewProvider(nil, []byte("secret"), time.Hour)

	got, err := p.Resolve("officer1")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleFieldOfficer, got.Role)
	assert.Equal(t, "KPS", got.OrgID)

	_, err = p.Resolve("ghost")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestTokenRoundtrip(t *testing.T) {
	p := NewProvider(nil, []byte("secret"), time.Hour)

	tok, err := p.IssueToken("analyst1")
	require.NoError(t, err)

	got, err := p.ResolveToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "analyst1", got.UserID)
	assert.Equal(t, authz.RoleForensicAnalyst, got.Role)
	assert.Equal(t, "FORENSIC_LAB", got.OrgID)
}

func TestIssueTokenUnknownUser(t *testing.T) {
	p := NewProvider(nil, []byte("secret"), time.Hour)
	_, err := p.IssueToken("ghost")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestResolveTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewProvider(nil, []byte("secret-a"), time.Hour)
	verifier := NewProvider(nil, []byte("secret-b"), time.Hour)

	tok, err := issuer.IssueToken("officer1")
	require.NoError(t, err)
	_, err = verifier.ResolveToken(tok)
	assert.Error(t, err)
}

func TestResolveTokenRejectsExpired(t *testing.T) {
	p := NewProvider(nil, []byte("secret"), time.Nanosecond)
	tok, err := p.IssueToken("officer1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = p.ResolveToken(tok)
	assert.Error(t, err)
}

func TestResolveTokenRejectsGarbage(t *testing.T) {
	p := NewProvider(nil, []byte("secret"), time.Hour)
	_, err := p.ResolveToken("not.a.token")
	assert.Error(t, err)
}

func TestLoadUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  officer9:
    role: FIELD_OFFICER
    org_id: KPS
  judge3:
    role: JUDGE
    org_id: JUDICIARY
`), 0o644))

	users, err := LoadUsers(path)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, authz.RoleJudge, users["judge3"].Role)
	assert.Equal(t, "KPS", users["officer9"].OrgID)
}

func TestLoadUsersRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"unknown role": "users:\n  u1:\n    role: WIZARD\n    org_id: X\n",
		"missing org":  "users:\n  u1:\n    role: JUDGE\n    org_id: \"\"\n",
		"empty file":   "users: {}\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "users.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadUsers(path)
			assert.Error(t, err)
		})
	}
}
