package reconcile

import (
	"fmt"
	"log/slog"
	"strings"

	"drive-warden/internal/model"
)

// Flatten walks a template tree depth-first into a flat map from
// slash-joined folder path to expected permissions. Root paths carry no
// leading separator. Principals are normalized on the way; malformed rows
// (no email) are dropped with a warning rather than failing the pass.
//
// A path seen twice means the template tree is malformed; the whole load is
// rejected rather than guessing a merge strategy.
func Flatten(roots []model.TemplateNode) (map[string]model.FolderPermissions, error) {
	out := make(map[string]model.FolderPermissions)
	if err := flattenInto(out, roots, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out map[string]model.FolderPermissions, nodes []model.TemplateNode, parentPath string) error {
	for _, node := range nodes {
		name := strings.TrimSpace(node.Name)
		if name == "" {
			slog.Warn("skipping template node without a name", "parent_path", parentPath)
			continue
		}

		path := name
		if parentPath != "" {
			path = parentPath + "/" + name
		}

		if _, exists := out[path]; exists {
			return fmt.Errorf("%w: %q", model.ErrDuplicateTemplatePath, path)
		}

		out[path] = model.FolderPermissions{
			Groups:        normalizeEntries(model.PrincipalTypeGroup, node.Groups, path),
			Users:         normalizeEntries(model.PrincipalTypeUser, node.Users, path),
			LimitedAccess: node.LimitedAccess,
		}

		if err := flattenInto(out, node.Children, path); err != nil {
			return err
		}
	}

	return nil
}

func normalizeEntries(principalType model.PrincipalType, entries []model.TemplateEntry, path string) []model.Principal {
	out := make([]model.Principal, 0, len(entries))
	for _, entry := range entries {
		principal := normalizeEntry(principalType, entry)
		if principal == nil {
			slog.Warn("skipping template principal without an email",
				"path", path, "type", string(principalType), "role", entry.Role)
			continue
		}
		out = append(out, *principal)
	}
	return out
}
