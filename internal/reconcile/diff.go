package reconcile

import (
	"fmt"

	"drive-warden/internal/model"
)

// Diff compares one folder's expected permissions against its observed ACL
// entries and produces the corrective plan.
//
// Rules:
//   - Grants inherited from the shared-drive root are excluded from
//     comparison entirely; the backend will not revoke them folder-level.
//   - On an open folder (limitedAccess false) inherited grants are the
//     intended state and are never flagged; only unexpected direct grants
//     count as violations, and only when the expected set is non-empty. An
//     open folder with an empty expected set relies purely on inheritance
//     and is skipped from the direct-grant check too.
//   - Removals are only planned on limited-access folders. Unexpected direct
//     grants on open folders are reported as violations without a removal.
//   - A role mismatch is remediated by removing the old grant and adding the
//     expected one. The backend's in-place role update is unreliable, so it
//     is always delete-then-recreate.
//
// actualLimitedAccess is the folder's live flag; driveID the containing
// shared drive's ID ("" when unknown). Pure function, deterministic: output
// order follows observed order for removals and template order for
// additions.
func Diff(expected model.FolderPermissions, observed []model.ObservedGrant, actualLimitedAccess bool, driveID string) model.DiffResult {
	result := model.DiffResult{
		ToAdd:    []model.Principal{},
		ToRemove: []model.ObservedGrant{},
	}

	expectedList := expected.Expected()
	expectedByKey := make(map[string]model.Principal, len(expectedList))
	for _, principal := range expectedList {
		expectedByKey[principal.Key()] = principal
	}

	// Open folder relying purely on inheritance: nothing to check.
	inheritanceOnly := !expected.LimitedAccess && len(expectedList) == 0

	matched := make(map[string]bool)
	reAdded := make(map[string]bool)

	for _, grant := range observed {
		if grant.Deleted {
			continue
		}
		// Domain-wide and anyone grants are managed outside per-folder
		// reconciliation.
		if grant.Type != string(model.PrincipalTypeUser) && grant.Type != string(model.PrincipalTypeGroup) {
			continue
		}

		switch Classify(grant, driveID) {
		case model.ClassificationNonRemovableDriveMembership:
			continue
		case model.ClassificationRemovableParentFolder:
			if !expected.LimitedAccess {
				continue
			}
		}

		if inheritanceOnly {
			continue
		}

		want, ok := expectedByKey[grant.Key()]
		if !ok {
			result.Violations = append(result.Violations,
				fmt.Sprintf("unexpected grant %s (%s)", grant.Key(), NormalizeRole(grant.Role)))
			if expected.LimitedAccess {
				result.ToRemove = append(result.ToRemove, grant)
			}
			continue
		}

		matched[grant.Key()] = true

		if NormalizeRole(grant.Role) != want.Role {
			result.Violations = append(result.Violations,
				fmt.Sprintf("role mismatch for %s: have %s, want %s",
					grant.Key(), NormalizeRole(grant.Role), want.Role))
			result.ToRemove = append(result.ToRemove, grant)
			if !reAdded[want.Key()] {
				result.ToAdd = append(result.ToAdd, want)
				reAdded[want.Key()] = true
			}
		}
	}

	for _, want := range expectedList {
		if !matched[want.Key()] && !reAdded[want.Key()] {
			result.ToAdd = append(result.ToAdd, want)
		}
	}

	result.LimitedAccessMismatch = actualLimitedAccess != expected.LimitedAccess
	result.Compliant = len(result.ToAdd) == 0 &&
		len(result.ToRemove) == 0 &&
		len(result.Violations) == 0 &&
		!result.LimitedAccessMismatch

	return result
}
