package enforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drive-warden/internal/drive"
	"drive-warden/internal/model"
)

func testExecutor(t *testing.T, client drive.Client, protected ...string) *Executor {
	t.Helper()
	return NewExecutor(client, Options{
		CallDelay:   time.Microsecond,
		CallTimeout: time.Second,
		Protected:   protected,
	})
}

func qsWriterExpected(limited bool) model.FolderPermissions {
	return model.FolderPermissions{
		Groups: []model.Principal{
			{Type: model.PrincipalTypeGroup, Identifier: "qs-team@x.com", Role: "writer"},
		},
		LimitedAccess: limited,
	}
}

func TestEnforceOrdering(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "f1", Name: "QS", DriveID: "0AxRoot"})
	fake.SeedGrant("f1", model.ObservedGrant{ID: "p1", Type: "user", EmailAddress: "intruder@x.com", Role: "writer"})
	fake.SeedGrant("f1", model.ObservedGrant{ID: "p2", Type: "group", EmailAddress: "qs-team@x.com", Role: "reader"})

	executor := testExecutor(t, fake)
	report, err := executor.Enforce(context.Background(), "f1", qsWriterExpected(true), "0AxRoot")
	require.NoError(t, err)

	// Removals precede additions, the toggle comes after both, and one
	// verification list follows the toggle.
	require.Equal(t, []string{
		"get:f1",
		"list_permissions:f1",
		"remove:f1:p1",
		"remove:f1:p2",
		"add:f1:qs-team@x.com",
		"set_limited_access:f1:true",
		"list_permissions:f1",
	}, fake.Calls)

	require.Equal(t, 2, report.Removed)
	require.Equal(t, 1, report.Added)
	require.Zero(t, report.Failed)
	require.True(t, report.ToggledLimitedAccess)
	require.Equal(t, 1, report.RediffRounds)
	require.True(t, report.Compliant)

	grants := fake.Grants("f1")
	require.Len(t, grants, 1)
	require.Equal(t, "qs-team@x.com", grants[0].EmailAddress)
	require.Equal(t, "writer", grants[0].Role)
}

func TestEnforceSkipsProtectedPrincipals(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "f1", Name: "QS", DriveID: "0AxRoot", LimitedAccess: true})
	fake.SeedGrant("f1", model.ObservedGrant{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"})
	fake.SeedGrant("f1", model.ObservedGrant{ID: "p2", Type: "user", EmailAddress: "Service-Account@x.com", Role: "organizer"})

	executor := testExecutor(t, fake, "service-account@x.com")
	report, err := executor.Enforce(context.Background(), "f1", qsWriterExpected(true), "0AxRoot")
	require.NoError(t, err)

	require.NotContains(t, fake.Calls, "remove:f1:p2")
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Failed)
	require.Zero(t, report.Removed)

	var skipped *model.EnforcementEntry
	for i := range report.Entries {
		if report.Entries[i].Status == model.EnforcementSkipped {
			skipped = &report.Entries[i]
		}
	}
	require.NotNil(t, skipped)
	require.Equal(t, "remove", skipped.Action)
	require.Equal(t, "service-account@x.com", skipped.Identifier)
}

func TestEnforceContinuesPastFailuresAndDefersToggle(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "f1", Name: "QS", DriveID: "0AxRoot"})
	fake.SeedGrant("f1", model.ObservedGrant{ID: "p1", Type: "user", EmailAddress: "stale-a@x.com", Role: "writer"})
	fake.SeedGrant("f1", model.ObservedGrant{ID: "p2", Type: "user", EmailAddress: "stale-b@x.com", Role: "reader"})
	fake.FailNext("remove:f1:p1", model.ErrPermissionDenied)

	executor := testExecutor(t, fake)
	report, err := executor.Enforce(context.Background(), "f1", qsWriterExpected(true), "0AxRoot")
	require.NoError(t, err)

	// The second removal and the addition still run after the first failure.
	require.Contains(t, fake.Calls, "remove:f1:p2")
	require.Contains(t, fake.Calls, "add:f1:qs-team@x.com")

	// Toggling limited access while a stale grant survived would freeze it
	// in place, so the toggle is deferred.
	require.NotContains(t, fake.Calls, "set_limited_access:f1:true")
	require.False(t, report.ToggledLimitedAccess)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Removed)
	require.False(t, report.Compliant)

	var deferred bool
	for _, entry := range report.Entries {
		if entry.Action == "set_limited_access" && entry.Status == model.EnforcementSkipped {
			deferred = true
		}
	}
	require.True(t, deferred)
}

func TestEnforceSweepsGrantsMaterializedByToggle(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "f1", Name: "QS", DriveID: "0AxRoot"})
	fake.SeedGrant("f1", model.ObservedGrant{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"})

	// Cutting inheritance makes the backend pin formerly-inherited grants as
	// direct ones; simulate that on toggle.
	fake.OnToggle(func(folderID string, enabled bool) {
		if enabled {
			fake.SeedGrant(folderID, model.ObservedGrant{
				ID: "p9", Type: "user", EmailAddress: "legacy@x.com", Role: "writer",
			})
		}
	})

	executor := testExecutor(t, fake)
	report, err := executor.Enforce(context.Background(), "f1", qsWriterExpected(true), "0AxRoot")
	require.NoError(t, err)

	require.True(t, report.ToggledLimitedAccess)
	require.Equal(t, 1, report.RediffRounds)
	require.Contains(t, fake.Calls, "remove:f1:p9")
	require.True(t, report.Compliant)

	grants := fake.Grants("f1")
	require.Len(t, grants, 1)
	require.Equal(t, "qs-team@x.com", grants[0].EmailAddress)
}

func TestEnforceRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "f1", Name: "QS", DriveID: "0AxRoot", LimitedAccess: true})
	fake.FailNext("add:f1:qs-team@x.com", &drive.TransientError{Err: errors.New("backend 503")})
	fake.FailNext("add:f1:qs-team@x.com", model.ErrRateLimited)

	executor := testExecutor(t, fake)
	report, err := executor.Enforce(context.Background(), "f1", qsWriterExpected(true), "0AxRoot")
	require.NoError(t, err)

	var addCalls int
	for _, call := range fake.Calls {
		if call == "add:f1:qs-team@x.com" {
			addCalls++
		}
	}
	require.Equal(t, 3, addCalls)
	require.Equal(t, 1, report.Added)
	require.Zero(t, report.Failed)
	require.True(t, report.Compliant)
}

func TestEnforceCompliantFolderMakesNoMutations(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "f1", Name: "QS", DriveID: "0AxRoot", LimitedAccess: true})
	fake.SeedGrant("f1", model.ObservedGrant{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"})

	executor := testExecutor(t, fake)
	report, err := executor.Enforce(context.Background(), "f1", qsWriterExpected(true), "0AxRoot")
	require.NoError(t, err)

	require.Equal(t, []string{"get:f1", "list_permissions:f1"}, fake.Calls)
	require.True(t, report.Compliant)
	require.Empty(t, report.Entries)
}

func TestEnforceListFailureAbortsPass(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "f1", Name: "QS", DriveID: "0AxRoot"})
	fake.FailNext("list_permissions:f1", model.ErrPermissionDenied)

	executor := testExecutor(t, fake)
	_, err := executor.Enforce(context.Background(), "f1", qsWriterExpected(true), "0AxRoot")
	require.ErrorIs(t, err, model.ErrPermissionDenied)
}
