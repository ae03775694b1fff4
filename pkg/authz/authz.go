// Package authz defines the closed role and action sets for the custody
// service, the exact role→action permission matrix, and the endorsement
// quorum policy.
package authz

import (
	"errors"
	"fmt"
)

// Role is one of the six custody roles. The set is closed.
type Role string

const (
	RoleFieldOfficer    Role = "FIELD_OFFICER"
	RoleForensicAnalyst Role = "FORENSIC_ANALYST"
	RoleSupervisor      Role = "SUPERVISOR"
	RoleProsecutor      Role = "PROSECUTOR"
	RoleJudge           Role = "JUDGE"
	RoleSystemAuditor   Role = "SYSTEM_AUDITOR"
)

// Action is a service verb gate. The set is closed.
type Action string

const (
	ActionRegisterEvidence Action = "REGISTER_EVIDENCE"
	ActionRecordEvent      Action = "RECORD_EVENT"
	ActionVerifyIntegrity  Action = "VERIFY_INTEGRITY"
	ActionViewEvidence     Action = "VIEW_EVIDENCE"
	ActionGenerateReport   Action = "GENERATE_REPORT"
)

// roleActions is the permission matrix. Roles absent from the map grant
// nothing.
var roleActions = map[Role]map[Action]bool{
	RoleFieldOfficer: {
		ActionRegisterEvidence: true,
		ActionRecordEvent:      true,
		ActionVerifyIntegrity:  true,
		ActionViewEvidence:     true,
	},
	RoleForensicAnalyst: {
		ActionRecordEvent:     true,
		ActionVerifyIntegrity: true,
		ActionViewEvidence:    true,
	},
	RoleSupervisor: {
		ActionRecordEvent:     true,
		ActionVerifyIntegrity: true,
		ActionViewEvidence:    true,
		ActionGenerateReport:  true,
	},
	RoleProsecutor: {
		ActionViewEvidence:   true,
		ActionGenerateReport: true,
	},
	RoleJudge: {
		ActionViewEvidence:   true,
		ActionGenerateReport: true,
	},
	RoleSystemAuditor: {
		ActionViewEvidence:   true,
		ActionGenerateReport: true,
	},
}

// ErrForbidden is wrapped by RequireAction failures.
var ErrForbidden = errors.New("action not permitted")

// Principal identifies an authenticated actor.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	OrgID  string `json:"org_id"`
}

// ValidRole reports whether r is one of the closed role set.
func ValidRole(r Role) bool {
	_, ok := roleActions[r]
	return ok
}

// RequireAction returns an error wrapping ErrForbidden when the principal's
// role does not include the action.
func RequireAction(p Principal, a Action) error {
	if roleActions[p.Role][a] {
		return nil
	}
	return fmt.Errorf("role %s not permitted to perform %s: %w", p.Role, a, ErrForbidden)
}

// Allowed reports whether the role grants the action.
func Allowed(r Role, a Action) bool {
	return roleActions[r][a]
}

// Roles returns the closed role set.
func Roles() []Role {
	return []Role{
		RoleFieldOfficer,
		RoleForensicAnalyst,
		RoleSupervisor,
		RoleProsecutor,
		RoleJudge,
		RoleSystemAuditor,
	}
}

// Actions returns the closed action set.
func Actions() []Action {
	return []Action{
		ActionRegisterEvidence,
		ActionRecordEvent,
		ActionVerifyIntegrity,
		ActionViewEvidence,
		ActionGenerateReport,
	}
}

// RequiredEndorserOrgs returns the quorum of distinct organizations needed
// before an event of the given action type counts as FINAL. Custody transfers
// and court submissions need a second organization to co-sign.
func RequiredEndorserOrgs(actionType string) int {
	switch actionType {
	case "TRANSFER", "COURT_SUBMISSION":
		return 2
	default:
		return 1
	}
}
