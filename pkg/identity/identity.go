// Package identity resolves user ids to custody principals and issues HS256
// bearer tokens. The user directory is static: the built-in defaults or a
// YAML file loaded at startup.
package identity

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"github.com/sentinel-custody/core/pkg/authz"
)

// ErrUnknownUser is returned when a user id has no directory entry.
var ErrUnknownUser = errors.New("unknown user")

// DefaultUsers is the built-in directory used when no users file is
// configured. One user per role, spread across the participating
// organizations.
func DefaultUsers() map[string]authz.Principal {
	return map[string]authz.Principal{
		"officer1":    {UserID: "officer1", Role: authz.RoleFieldOfficer, OrgID: "KPS"},
		"analyst1":    {UserID: "analyst1", Role: authz.RoleForensicAnalyst, OrgID: "FORENSIC_LAB"},
		"supervisor1": {UserID: "supervisor1", Role: authz.RoleSupervisor, OrgID: "KPS"},
		"prosecutor1": {UserID: "prosecutor1", Role: authz.RoleProsecutor, OrgID: "ODPP"},
		"judge1":      {UserID: "judge1", Role: authz.RoleJudge, OrgID: "JUDICIARY"},
		"auditor1":    {UserID: "auditor1", Role: authz.RoleSystemAuditor, OrgID: "INTERNAL_AUDIT"},
	}
}

type userEntry struct {
	Role  string `yaml:"role"`
	OrgID string `yaml:"org_id"`
}

// LoadUsers reads a YAML user directory of the form
//
//	users:
//	  officer1: {role: FIELD_OFFICER, org_id: KPS}
//
// Every entry must carry a known role and a non-empty org id.
func LoadUsers(path string) (map[string]authz.Principal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read users file: %w", err)
	}
	var doc struct {
		Users map[string]userEntry `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("identity: parse users file: %w", err)
	}
	if len(doc.Users) == 0 {
		return nil, fmt.Errorf("identity: users file %s has no users", path)
	}

	out := make(map[string]authz.Principal, len(doc.Users))
	for id, u := range doc.Users {
		role := authz.Role(u.Role)
		if !authz.ValidRole(role) {
			return nil, fmt.Errorf("identity: user %s: unknown role %q", id, u.Role)
		}
		if u.OrgID == "" {
			return nil, fmt.Errorf("identity: user %s: org_id is required", id)
		}
		out[id] = authz.Principal{UserID: id, Role: role, OrgID: u.OrgID}
	}
	return out, nil
}

// Provider resolves principals and mints bearer tokens over a fixed user
// directory.
type Provider struct {
	users    map[string]authz.Principal
	secret   []byte
	tokenTTL time.Duration
}

// NewProvider creates a provider. A nil users map falls back to the defaults;
// the secret signs and verifies bearer tokens.
func NewProvider(users map[string]authz.Principal, secret []byte, tokenTTL time.Duration) *Provider {
	if users == nil {
		users = DefaultUsers()
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &Provider{users: users, secret: secret, tokenTTL: tokenTTL}
}

// Resolve returns the principal for userID, or ErrUnknownUser.
func (p *Provider) Resolve(userID string) (authz.Principal, error) {
	pr, ok := p.users[userID]
	if !ok {
		return authz.Principal{}, fmt.Errorf("identity: %s: %w", userID, ErrUnknownUser)
	}
	return pr, nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	OrgID string `json:"org_id"`
}

// IssueToken mints an HS256 bearer token for a known user.
func (p *Provider) IssueToken(userID string) (string, error) {
	pr, err := p.Resolve(userID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   pr.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
		},
		Role:  string(pr.Role),
		OrgID: pr.OrgID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// ResolveToken verifies a bearer token and returns the directory principal
// for its subject. The directory is authoritative; role and org claims in the
// token are informational only.
func (p *Provider) ResolveToken(token string) (authz.Principal, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return authz.Principal{}, fmt.Errorf("identity: parse token: %w", err)
	}
	if !parsed.Valid {
		return authz.Principal{}, errors.New("identity: invalid token")
	}
	return p.Resolve(claims.Subject)
}
