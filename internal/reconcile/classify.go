package reconcile

import (
	"strings"

	"drive-warden/internal/model"
)

// Shared-drive IDs carry a reserved prefix; used only when the caller could
// not resolve the containing drive's ID.
const sharedDriveIDPrefix = "0A"

// Classify determines how one observed grant relates to its folder.
//
// The backend reports inheritance in two places: a top-level flag and a
// per-detail list. The signals are redundant but may disagree, so a grant is
// treated as inherited if either says so. The exception is a grant carrying
// any non-inherited detail, which is classified NOT_INHERITED because the
// backend cannot revoke just the inherited half of a dual-sourced grant.
//
// driveID is the shared-drive ID of the folder's container; pass "" when
// unknown, in which case the reserved ID prefix is used as a fallback.
func Classify(grant model.ObservedGrant, driveID string) model.Classification {
	inherited := grant.Inherited
	inheritedFrom := grant.InheritedFrom
	hasDirectDetail := false

	for _, detail := range grant.Details {
		if !detail.Inherited {
			hasDirectDetail = true
			continue
		}
		inherited = true
		if detail.InheritedFrom != "" {
			inheritedFrom = detail.InheritedFrom
		}
	}

	if hasDirectDetail || !inherited {
		return model.ClassificationNotInherited
	}

	// Inherited with no source info: treat conservatively as drive
	// membership rather than risking an unremovable "removable" grant.
	if inheritedFrom == "" {
		return model.ClassificationNonRemovableDriveMembership
	}

	if driveID != "" {
		if inheritedFrom == driveID {
			return model.ClassificationNonRemovableDriveMembership
		}
		return model.ClassificationRemovableParentFolder
	}

	if strings.HasPrefix(inheritedFrom, sharedDriveIDPrefix) {
		return model.ClassificationNonRemovableDriveMembership
	}

	return model.ClassificationRemovableParentFolder
}
