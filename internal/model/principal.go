package model

import "strings"

type PrincipalType string

const (
	PrincipalTypeUser  PrincipalType = "user"
	PrincipalTypeGroup PrincipalType = "group"
)

// Drive roles, highest privilege first. "organizer" only exists at the
// shared-drive root; on folders the backend reports it as "fileOrganizer".
const (
	RoleOrganizer     = "organizer"
	RoleFileOrganizer = "fileOrganizer"
	RoleWriter        = "writer"
	RoleCommenter     = "commenter"
	RoleReader        = "reader"
)

var roleRank = map[string]int{
	RoleOrganizer:     5,
	RoleFileOrganizer: 4,
	RoleWriter:        3,
	RoleCommenter:     2,
	RoleReader:        1,
}

// RoleRank returns the privilege rank of a role. Unknown roles rank below
// reader so that "pick highest" resolution never prefers them.
func RoleRank(role string) int {
	return roleRank[role]
}

// HigherRole picks the more privileged of two roles.
func HigherRole(a string, b string) string {
	if RoleRank(b) > RoleRank(a) {
		return b
	}
	return a
}

// Principal is one user or group identity plus the role it holds (or should
// hold) on a folder. Identifier is always a lowercased email; Type is part of
// identity, so a user and a group sharing an email are distinct principals.
type Principal struct {
	Type       PrincipalType `json:"type"`
	Identifier string        `json:"identifier"`
	Role       string        `json:"role"`
}

// Key is the identity key used for set membership: "type:identifier".
// Role is deliberately excluded; role mismatches are detected separately.
func (p Principal) Key() string {
	return string(p.Type) + ":" + strings.ToLower(p.Identifier)
}
