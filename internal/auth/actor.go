package auth

import (
	"fmt"
	"strings"

	"vantadb.org/internal/access"
)

// Role is the coarse capability level of an actor at its tenancy scope.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// ParseRole normalizes a role name.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleViewer:
		return RoleViewer, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleOwner:
		return RoleOwner, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is an authenticated identity defined at one tenancy scope with a
// role. It satisfies the engine's authorization contract: an actor may
// act on access resources at its own scope and below.
type Actor struct {
	Name  string
	Role  Role
	Scope access.Target
}

// ID identifies the acting party for log lines.
func (a Actor) ID() string {
	return a.Name
}

// Allowed checks the actor's role and scope against the requested action
// and target level.
func (a Actor) Allowed(action access.Action, t access.Target) error {
	if action == access.ActionEdit && a.Role == RoleViewer {
		return fmt.Errorf("%w: role %s cannot edit access resources", access.ErrDenied, a.Role)
	}
	if !a.contains(t) {
		return fmt.Errorf("%w: actor scope %s does not cover %s", access.ErrDenied, a.Scope.Level, t.Level)
	}
	return nil
}

// contains reports whether the actor's scope is an ancestor of (or equal
// to) the target scope.
func (a Actor) contains(t access.Target) bool {
	switch a.Scope.Level {
	case access.LevelRoot:
		return true
	case access.LevelNamespace:
		return t.Level != access.LevelRoot && t.Namespace == a.Scope.Namespace
	case access.LevelDatabase:
		return t.Level == access.LevelDatabase &&
			t.Namespace == a.Scope.Namespace &&
			t.Database == a.Scope.Database
	}
	return false
}
