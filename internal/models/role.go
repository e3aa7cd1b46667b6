package models

import "slices"

// Role is a collaboration role. The zero value is RoleNone (no access).
type Role string

const (
	RoleNone         Role = ""
	RoleViewer       Role = "viewer"
	RoleCollaborator Role = "collaborator"
	RoleEditor       Role = "editor"
	RoleAdmin        Role = "admin"
	RoleOwner        Role = "owner"
)

// Rank orders roles: owner > admin > editor > collaborator > viewer > none.
// Unknown roles rank as none.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 5
	case RoleAdmin:
		return 4
	case RoleEditor:
		return 3
	case RoleCollaborator:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is a grantable role.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank() && r.Rank() > 0
}

// InheritGrants adds the valid grants of grants to acc for users acc does not
// know yet. Feeding the collaborator maps of an entry and then each ancestor
// in turn leaves every user with their nearest valid grant, the same role
// the resolver finds walking up.
func InheritGrants(acc, grants map[string]Role) {
	for u, r := range grants {
		if !r.Valid() {
			continue
		}
		if _, ok := acc[u]; !ok {
			acc[u] = r
		}
	}
}

// GrantedUsers returns the users of acc holding a valid role, sorted.
func GrantedUsers(acc map[string]Role) []string {
	users := make([]string, 0, len(acc))
	for u, r := range acc {
		if r.Valid() {
			users = append(users, u)
		}
	}
	slices.Sort(users)
	return users
}
