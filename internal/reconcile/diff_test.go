package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"drive-warden/internal/model"
)

func expectedFor(limited bool, groups ...model.Principal) model.FolderPermissions {
	return model.FolderPermissions{Groups: groups, LimitedAccess: limited}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	qsWriter := model.Principal{Type: model.PrincipalTypeGroup, Identifier: "qs-team@x.com", Role: "writer"}

	t.Run("role mismatch plus non-removable inherited grant", func(t *testing.T) {
		expected := expectedFor(true, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "reader"},
			{ID: "p2", Type: "group", EmailAddress: "hse-team@x.com", Role: "reader",
				Inherited: true, InheritedFrom: "0AxRoot"},
		}

		result := Diff(expected, observed, true, "")

		require.Len(t, result.ToRemove, 1)
		require.Equal(t, "p1", result.ToRemove[0].ID)
		require.Len(t, result.ToAdd, 1)
		require.Equal(t, qsWriter, result.ToAdd[0])
		require.False(t, result.Compliant)
	})

	t.Run("matching state is compliant", func(t *testing.T) {
		expected := expectedFor(true, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"},
		}

		result := Diff(expected, observed, true, "")

		require.Empty(t, result.ToAdd)
		require.Empty(t, result.ToRemove)
		require.True(t, result.Compliant)
	})

	t.Run("diff is idempotent", func(t *testing.T) {
		expected := expectedFor(true, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "reader"},
			{ID: "p3", Type: "user", EmailAddress: "intruder@x.com", Role: "writer"},
		}

		first := Diff(expected, observed, true, "")
		second := Diff(expected, observed, true, "")

		require.Equal(t, first, second)
	})

	t.Run("organizer and fileOrganizer compare equal for groups", func(t *testing.T) {
		expected := expectedFor(true,
			model.Principal{Type: model.PrincipalTypeGroup, Identifier: "pm@x.com", Role: NormalizeRole("organizer")})
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "pm@x.com", Role: "fileOrganizer"},
		}

		result := Diff(expected, observed, true, "")

		require.True(t, result.Compliant)
	})

	t.Run("missing expected principal yields an addition", func(t *testing.T) {
		expected := expectedFor(true, qsWriter)

		result := Diff(expected, nil, true, "")

		require.Equal(t, []model.Principal{qsWriter}, result.ToAdd)
		require.Empty(t, result.ToRemove)
		require.False(t, result.Compliant)
	})

	t.Run("non-removable membership is never added or removed", func(t *testing.T) {
		// hse-team is inherited from the drive root AND absent from the
		// expected set; it must not show up anywhere in the plan.
		expected := expectedFor(true, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"},
			{ID: "p2", Type: "group", EmailAddress: "hse-team@x.com", Role: "reader",
				Inherited: true, InheritedFrom: "0AxRoot"},
		}

		result := Diff(expected, observed, true, "0AxRoot")

		for _, grant := range result.ToRemove {
			require.NotEqual(t, "hse-team@x.com", grant.Identifier())
		}
		for _, principal := range result.ToAdd {
			require.NotEqual(t, "hse-team@x.com", principal.Identifier)
		}
		require.True(t, result.Compliant)
	})

	t.Run("open folder with empty expected set is compliant regardless of grants", func(t *testing.T) {
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "anyone@x.com", Role: "writer",
				Inherited: true, InheritedFrom: "1Parent"},
			{ID: "p2", Type: "user", EmailAddress: "direct@x.com", Role: "reader"},
		}

		result := Diff(expectedFor(false), observed, false, "0AxRoot")

		require.Empty(t, result.ToAdd)
		require.Empty(t, result.ToRemove)
		require.True(t, result.Compliant)
	})

	t.Run("open folder never flags inherited grants", func(t *testing.T) {
		expected := expectedFor(false, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"},
			{ID: "p2", Type: "group", EmailAddress: "other@x.com", Role: "reader",
				Inherited: true, InheritedFrom: "1Parent"},
		}

		result := Diff(expected, observed, false, "0AxRoot")

		require.Empty(t, result.ToRemove)
		require.True(t, result.Compliant)
	})

	t.Run("open folder flags unexpected direct grants without removing them", func(t *testing.T) {
		expected := expectedFor(false, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"},
			{ID: "p2", Type: "user", EmailAddress: "intruder@x.com", Role: "writer"},
		}

		result := Diff(expected, observed, false, "0AxRoot")

		require.Empty(t, result.ToRemove)
		require.Len(t, result.Violations, 1)
		require.False(t, result.Compliant)
	})

	t.Run("case-insensitive identifier matching", func(t *testing.T) {
		expected := expectedFor(true, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "QS-Team@X.com", Role: "writer"},
		}

		result := Diff(expected, observed, true, "")

		require.True(t, result.Compliant)
	})

	t.Run("domain grants are ignored", func(t *testing.T) {
		expected := expectedFor(true, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"},
			{ID: "p2", Type: "domain", Domain: "x.com", Role: "reader"},
		}

		result := Diff(expected, observed, true, "")

		require.Empty(t, result.ToRemove)
		require.True(t, result.Compliant)
	})

	t.Run("limited access drift alone breaks compliance", func(t *testing.T) {
		expected := expectedFor(true, qsWriter)
		observed := []model.ObservedGrant{
			{ID: "p1", Type: "group", EmailAddress: "qs-team@x.com", Role: "writer"},
		}

		result := Diff(expected, observed, false, "")

		require.Empty(t, result.ToAdd)
		require.Empty(t, result.ToRemove)
		require.True(t, result.LimitedAccessMismatch)
		require.False(t, result.Compliant)
	})
}
