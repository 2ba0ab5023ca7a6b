// Package drive defines the storage backend boundary: the folder and ACL
// operations the reconciliation core consumes, plus the REST implementation
// against a Drive v3 compatible API.
package drive

import (
	"context"
	"errors"
	"net"
	"sort"

	"drive-warden/internal/model"
)

// Folder is one folder as reported by the backend.
type Folder struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ParentID      string `json:"parent_id,omitempty"`
	DriveID       string `json:"drive_id,omitempty"`
	LimitedAccess bool   `json:"limited_access"`
}

// Client is the full set of backend operations the core depends on. Every
// call honors its context deadline; the caller supplies timeouts and pacing.
type Client interface {
	GetFolder(ctx context.Context, folderID string) (Folder, error)
	ListFolders(ctx context.Context, parentID string) ([]Folder, error)
	CreateFolder(ctx context.Context, parentID string, name string) (Folder, error)
	RenameFolder(ctx context.Context, folderID string, newName string) error
	ListPermissions(ctx context.Context, folderID string) ([]model.ObservedGrant, error)
	AddPermission(ctx context.Context, folderID string, principal model.Principal) (string, error)
	RemovePermission(ctx context.Context, folderID string, grantID string) error
	SetLimitedAccess(ctx context.Context, folderID string, enabled bool) error
}

// FolderRef is one entry of a recursive folder walk, with the slash-joined
// path from the walk root (the root itself is not included).
type FolderRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	ParentID string `json:"parent_id"`
}

// ListFoldersRecursive walks the subtree under rootID depth-first. Children
// are visited in name order so the result is deterministic for a given tree.
func ListFoldersRecursive(ctx context.Context, client Client, rootID string) ([]FolderRef, error) {
	var out []FolderRef
	if err := walkFolders(ctx, client, rootID, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walkFolders(ctx context.Context, client Client, parentID string, parentPath string, out *[]FolderRef) error {
	folders, err := client.ListFolders(ctx, parentID)
	if err != nil {
		return err
	}

	sort.Slice(folders, func(i int, j int) bool { return folders[i].Name < folders[j].Name })

	for _, folder := range folders {
		path := folder.Name
		if parentPath != "" {
			path = parentPath + "/" + folder.Name
		}

		*out = append(*out, FolderRef{ID: folder.ID, Name: folder.Name, Path: path, ParentID: parentID})

		if err := walkFolders(ctx, client, folder.ID, path, out); err != nil {
			return err
		}
	}

	return nil
}

// IsTransient reports whether an error from the backend is worth retrying:
// rate-limit responses, timeouts, and temporary network failures. Permanent
// errors (not found, permission denied) are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var transient *TransientError
	return errors.As(err, &transient)
}

// TransientError wraps a backend failure that is expected to clear on retry
// (5xx responses and the like).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
