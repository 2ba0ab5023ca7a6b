package model

import (
	"encoding/json"
	"time"
)

// TemplateEntry is one raw group or user row as stored in a template
// snapshot. Normalization into a Principal happens in the reconcile package.
type TemplateEntry struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TemplateNode is one folder in the declarative template tree.
//
// Two historical shapes exist in stored snapshots: the legacy editor wrote
// {"name": ..., "children": [...]} and the tree editor v2 writes
// {"text": ..., "nodes": [...]}. UnmarshalJSON resolves both into this one
// canonical struct so nothing downstream has to care which shape it came
// from.
type TemplateNode struct {
	Name          string          `json:"name"`
	LimitedAccess bool            `json:"limitedAccess"`
	Groups        []TemplateEntry `json:"groups,omitempty"`
	Users         []TemplateEntry `json:"users,omitempty"`
	Children      []TemplateNode  `json:"children,omitempty"`
}

func (n *TemplateNode) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name          string          `json:"name"`
		Text          string          `json:"text"`
		LimitedAccess bool            `json:"limitedAccess"`
		Groups        []TemplateEntry `json:"groups"`
		Users         []TemplateEntry `json:"users"`
		Children      []TemplateNode  `json:"children"`
		Nodes         []TemplateNode  `json:"nodes"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// v2 keys win when both are present.
	n.Name = raw.Text
	if n.Name == "" {
		n.Name = raw.Name
	}

	n.LimitedAccess = raw.LimitedAccess
	n.Groups = raw.Groups
	n.Users = raw.Users

	n.Children = raw.Nodes
	if len(n.Children) == 0 {
		n.Children = raw.Children
	}

	return nil
}

// FolderPermissions is one flattened template entry: the principals expected
// to hold access on a folder, keyed in the flattened map by the slash-joined
// path from the tree root.
type FolderPermissions struct {
	Groups        []Principal `json:"groups"`
	Users         []Principal `json:"users"`
	LimitedAccess bool        `json:"limited_access"`
}

// Expected returns groups and users as one slice.
func (f FolderPermissions) Expected() []Principal {
	out := make([]Principal, 0, len(f.Groups)+len(f.Users))
	out = append(out, f.Groups...)
	out = append(out, f.Users...)
	return out
}

// TemplateVersion is one immutable template snapshot. Edits never mutate a
// version; they create a new one and flip is_active.
type TemplateVersion struct {
	VersionNumber int            `json:"version_number"`
	IsActive      bool           `json:"is_active"`
	Roots         []TemplateNode `json:"template"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
}
