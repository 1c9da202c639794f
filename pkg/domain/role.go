package domain

import (
	"strings"

	dErrors "intake/pkg/domain-errors"
)

// Role is an operator role. Invariant: the value is one of the supported roles.
//
// Usage: construct via ParseRole at trust boundaries (token claims, admin input);
// direct casting bypasses validation.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDEO       Role = "DEO"
	RoleValidator Role = "VALIDATOR"
	RoleViewer    Role = "VIEWER"
)

var validRoles = map[Role]bool{
	RoleAdmin:     true,
	RoleDEO:       true,
	RoleValidator: true,
	RoleViewer:    true,
}

// ParseRole validates an external role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
	return r, nil
}

func (r Role) String() string { return string(r) }

// OneOf reports whether r is any of roles.
func (r Role) OneOf(roles ...Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}
