package drive

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"drive-warden/internal/model"
)

// FakeClient is a stateful in-memory backend for tests. It records every
// mutating call in order so tests can assert the remove → add → toggle
// sequencing, and supports injecting per-call failures.
type FakeClient struct {
	mu       sync.Mutex
	folders  map[string]Folder
	children map[string][]string
	perms    map[string][]model.ObservedGrant
	failures map[string][]error
	onToggle func(folderID string, enabled bool)
	seq      int

	// Calls holds one entry per mutating or listing call, e.g.
	// "remove:folder1:p2" or "list_permissions:folder1".
	Calls []string
}

var _ Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{
		folders:  map[string]Folder{},
		children: map[string][]string{},
		perms:    map[string][]model.ObservedGrant{},
		failures: map[string][]error{},
	}
}

// PutFolder registers a folder (and its parent linkage) in the fake tree.
func (f *FakeClient) PutFolder(folder Folder) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.folders[folder.ID] = folder
	if folder.ParentID != "" {
		f.children[folder.ParentID] = append(f.children[folder.ParentID], folder.ID)
	}
}

// SeedGrant places an existing ACL entry on a folder.
func (f *FakeClient) SeedGrant(folderID string, grant model.ObservedGrant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[folderID] = append(f.perms[folderID], grant)
}

// FailNext queues an error for the next call matching key (the same string
// that would be appended to Calls). Queued errors are consumed in order.
func (f *FakeClient) FailNext(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(f.failures[key], err)
}

// OnToggle installs a hook invoked after SetLimitedAccess succeeds; used to
// simulate the backend materializing inherited grants when inheritance is
// cut.
func (f *FakeClient) OnToggle(hook func(folderID string, enabled bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onToggle = hook
}

// Grants returns a copy of a folder's current ACL entries.
func (f *FakeClient) Grants(folderID string) []model.ObservedGrant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ObservedGrant(nil), f.perms[folderID]...)
}

func (f *FakeClient) record(key string) error {
	f.Calls = append(f.Calls, key)
	queue := f.failures[key]
	if len(queue) == 0 {
		return nil
	}
	f.failures[key] = queue[1:]
	return queue[0]
}

func (f *FakeClient) GetFolder(_ context.Context, folderID string) (Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("get:" + folderID); err != nil {
		return Folder{}, err
	}

	folder, ok := f.folders[folderID]
	if !ok {
		return Folder{}, fmt.Errorf("%w: %s", model.ErrFolderNotFound, folderID)
	}
	return folder, nil
}

func (f *FakeClient) ListFolders(_ context.Context, parentID string) ([]Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("list_folders:" + parentID); err != nil {
		return nil, err
	}

	out := make([]Folder, 0, len(f.children[parentID]))
	for _, id := range f.children[parentID] {
		out = append(out, f.folders[id])
	}
	return out, nil
}

func (f *FakeClient) CreateFolder(_ context.Context, parentID string, name string) (Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("create:" + parentID + ":" + name); err != nil {
		return Folder{}, err
	}

	f.seq++
	folder := Folder{ID: "folder-" + strconv.Itoa(f.seq), Name: name, ParentID: parentID}
	f.folders[folder.ID] = folder
	f.children[parentID] = append(f.children[parentID], folder.ID)
	return folder, nil
}

func (f *FakeClient) RenameFolder(_ context.Context, folderID string, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("rename:" + folderID + ":" + newName); err != nil {
		return err
	}

	folder, ok := f.folders[folderID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrFolderNotFound, folderID)
	}
	folder.Name = newName
	f.folders[folderID] = folder
	return nil
}

func (f *FakeClient) ListPermissions(_ context.Context, folderID string) ([]model.ObservedGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("list_permissions:" + folderID); err != nil {
		return nil, err
	}
	return append([]model.ObservedGrant(nil), f.perms[folderID]...), nil
}

func (f *FakeClient) AddPermission(_ context.Context, folderID string, principal model.Principal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("add:" + folderID + ":" + principal.Identifier); err != nil {
		return "", err
	}

	f.seq++
	grant := model.ObservedGrant{
		ID:           "perm-" + strconv.Itoa(f.seq),
		Type:         string(principal.Type),
		EmailAddress: principal.Identifier,
		Role:         principal.Role,
	}
	f.perms[folderID] = append(f.perms[folderID], grant)
	return grant.ID, nil
}

func (f *FakeClient) RemovePermission(_ context.Context, folderID string, grantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("remove:" + folderID + ":" + grantID); err != nil {
		return err
	}

	grants := f.perms[folderID]
	for i, grant := range grants {
		if grant.ID == grantID {
			f.perms[folderID] = append(grants[:i:i], grants[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: permission %s", model.ErrFolderNotFound, grantID)
}

func (f *FakeClient) SetLimitedAccess(_ context.Context, folderID string, enabled bool) error {
	f.mu.Lock()

	if err := f.record(fmt.Sprintf("set_limited_access:%s:%t", folderID, enabled)); err != nil {
		f.mu.Unlock()
		return err
	}

	folder, ok := f.folders[folderID]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrFolderNotFound, folderID)
	}
	folder.LimitedAccess = enabled
	f.folders[folderID] = folder
	hook := f.onToggle
	f.mu.Unlock()

	if hook != nil {
		hook(folderID, enabled)
	}
	return nil
}
