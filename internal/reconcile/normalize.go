// Package reconcile holds the pure decision core: normalizing template and
// backend principal shapes into one canonical model, classifying observed
// grants, flattening template trees, and computing corrective diffs. Nothing
// in this package performs I/O.
package reconcile

import (
	"strings"

	"drive-warden/internal/model"
)

// NormalizeRole collapses the shared-drive role quirk: the backend returns
// and accepts "organizer" as "fileOrganizer" for group principals on
// folders. All other role strings pass through verbatim, including ones this
// service has never seen, so new platform roles do not break comparison.
func NormalizeRole(role string) string {
	if role == model.RoleOrganizer || role == model.RoleFileOrganizer {
		return model.RoleFileOrganizer
	}
	return role
}

// NormalizeGroup converts a raw template group row into a canonical
// Principal. Returns nil for rows without an identifier; callers skip those
// instead of failing the pass.
func NormalizeGroup(entry model.TemplateEntry) *model.Principal {
	return normalizeEntry(model.PrincipalTypeGroup, entry)
}

// NormalizeUser converts a raw template user row into a canonical Principal.
func NormalizeUser(entry model.TemplateEntry) *model.Principal {
	return normalizeEntry(model.PrincipalTypeUser, entry)
}

func normalizeEntry(principalType model.PrincipalType, entry model.TemplateEntry) *model.Principal {
	email := strings.ToLower(strings.TrimSpace(entry.Email))
	if email == "" {
		return nil
	}

	role := strings.TrimSpace(entry.Role)
	if role == "" {
		role = model.RoleReader
	}

	return &model.Principal{
		Type:       principalType,
		Identifier: email,
		Role:       NormalizeRole(role),
	}
}
