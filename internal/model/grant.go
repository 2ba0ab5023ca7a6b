package model

import "strings"

// GrantDetail is one entry of the per-detail list the backend returns
// alongside the top-level inheritance flags. The two signals are redundant
// for historical API reasons and may disagree; classification treats a grant
// as inherited if either says so.
type GrantDetail struct {
	PermissionType string `json:"permissionType"`
	Role           string `json:"role"`
	Inherited      bool   `json:"inherited"`
	InheritedFrom  string `json:"inheritedFrom"`
}

// ObservedGrant is one ACL entry read from the storage backend for one
// folder.
type ObservedGrant struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	EmailAddress  string        `json:"emailAddress,omitempty"`
	Domain        string        `json:"domain,omitempty"`
	DisplayName   string        `json:"displayName,omitempty"`
	Role          string        `json:"role"`
	Inherited     bool          `json:"inherited,omitempty"`
	InheritedFrom string        `json:"inheritedFrom,omitempty"`
	Deleted       bool          `json:"deleted,omitempty"`
	Details       []GrantDetail `json:"permissionDetails,omitempty"`
}

// Identifier returns the lowercased email (or domain for domain grants).
func (g ObservedGrant) Identifier() string {
	if g.EmailAddress != "" {
		return strings.ToLower(g.EmailAddress)
	}
	return strings.ToLower(g.Domain)
}

// Key is the identity key matching Principal.Key.
func (g ObservedGrant) Key() string {
	return g.Type + ":" + g.Identifier()
}

// Classification of one observed grant relative to its folder.
type Classification string

const (
	// Directly set on the folder.
	ClassificationNotInherited Classification = "NOT_INHERITED"
	// Inherited from the shared-drive root; the backend refuses to revoke
	// these via folder-level deletion, so they are never violations.
	ClassificationNonRemovableDriveMembership Classification = "NON_REMOVABLE_DRIVE_MEMBERSHIP"
	// Inherited from an ordinary ancestor folder; removable once the folder
	// is switched to limited access.
	ClassificationRemovableParentFolder Classification = "REMOVABLE_PARENT_FOLDER"
)

// DiffResult is the corrective plan for one folder.
type DiffResult struct {
	ToAdd    []Principal     `json:"to_add"`
	ToRemove []ObservedGrant `json:"to_remove"`
	// Human-readable violation descriptions, including unexpected direct
	// grants on open folders that are flagged but never removed.
	Violations []string `json:"violations,omitempty"`
	// True when the folder's actual limited-access flag differs from the
	// template's.
	LimitedAccessMismatch bool `json:"limited_access_mismatch"`
	Compliant             bool `json:"compliant"`
}

// Enforcement entry statuses.
const (
	EnforcementApplied = "applied"
	EnforcementSkipped = "skipped"
	EnforcementFailed  = "failed"
)

// EnforcementEntry records the outcome of one corrective operation.
type EnforcementEntry struct {
	Action     string `json:"action"` // remove | add | set_limited_access
	Type       string `json:"type,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Role       string `json:"role,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// ExecutionReport summarizes one folder's enforcement pass.
type ExecutionReport struct {
	FolderID             string             `json:"folder_id"`
	Entries              []EnforcementEntry `json:"entries"`
	Removed              int                `json:"removed"`
	Added                int                `json:"added"`
	Skipped              int                `json:"skipped"`
	Failed               int                `json:"failed"`
	ToggledLimitedAccess bool               `json:"toggled_limited_access"`
	RediffRounds         int                `json:"rediff_rounds"`
	Compliant            bool               `json:"compliant"`
}

func (r *ExecutionReport) Record(entry EnforcementEntry) {
	r.Entries = append(r.Entries, entry)
	switch entry.Status {
	case EnforcementSkipped:
		r.Skipped++
	case EnforcementFailed:
		r.Failed++
	case EnforcementApplied:
		switch entry.Action {
		case "remove":
			r.Removed++
		case "add":
			r.Added++
		}
	}
}
