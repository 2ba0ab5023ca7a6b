package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"drive-warden/internal/model"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	const driveID = "0AbcSharedDrive"

	t.Run("direct grant is not inherited", func(t *testing.T) {
		grant := model.ObservedGrant{Type: "group", EmailAddress: "team@x.com", Role: "writer"}

		require.Equal(t, model.ClassificationNotInherited, Classify(grant, driveID))
	})

	t.Run("inherited from the shared drive root is non-removable", func(t *testing.T) {
		grant := model.ObservedGrant{
			Type: "group", EmailAddress: "team@x.com", Role: "reader",
			Inherited: true, InheritedFrom: driveID,
		}

		require.Equal(t, model.ClassificationNonRemovableDriveMembership, Classify(grant, driveID))
	})

	t.Run("inherited from a parent folder is removable", func(t *testing.T) {
		grant := model.ObservedGrant{
			Type: "group", EmailAddress: "team@x.com", Role: "reader",
			Inherited: true, InheritedFrom: "1FolderParent",
		}

		require.Equal(t, model.ClassificationRemovableParentFolder, Classify(grant, driveID))
	})

	t.Run("detail-level inheritance counts even when the top-level flag is unset", func(t *testing.T) {
		grant := model.ObservedGrant{
			Type: "group", EmailAddress: "team@x.com", Role: "reader",
			Details: []model.GrantDetail{{Inherited: true, InheritedFrom: "1FolderParent"}},
		}

		require.Equal(t, model.ClassificationRemovableParentFolder, Classify(grant, driveID))
	})

	t.Run("any direct detail wins over an inherited component", func(t *testing.T) {
		grant := model.ObservedGrant{
			Type: "group", EmailAddress: "team@x.com", Role: "writer",
			Inherited: true,
			Details: []model.GrantDetail{
				{Inherited: true, InheritedFrom: "1FolderParent"},
				{Inherited: false},
			},
		}

		require.Equal(t, model.ClassificationNotInherited, Classify(grant, driveID))
	})

	t.Run("inherited with no source info is treated as drive membership", func(t *testing.T) {
		grant := model.ObservedGrant{
			Type: "user", EmailAddress: "alice@x.com", Role: "reader",
			Inherited: true,
		}

		require.Equal(t, model.ClassificationNonRemovableDriveMembership, Classify(grant, driveID))
	})

	t.Run("falls back to the reserved ID prefix when the drive ID is unknown", func(t *testing.T) {
		fromRoot := model.ObservedGrant{
			Type: "group", EmailAddress: "team@x.com", Role: "reader",
			Inherited: true, InheritedFrom: "0AxRoot",
		}
		fromFolder := model.ObservedGrant{
			Type: "group", EmailAddress: "team@x.com", Role: "reader",
			Inherited: true, InheritedFrom: "1FolderParent",
		}

		require.Equal(t, model.ClassificationNonRemovableDriveMembership, Classify(fromRoot, ""))
		require.Equal(t, model.ClassificationRemovableParentFolder, Classify(fromFolder, ""))
	})

	t.Run("returns exactly one of the three classifications", func(t *testing.T) {
		grants := []model.ObservedGrant{
			{},
			{Inherited: true},
			{Inherited: true, InheritedFrom: driveID},
			{Inherited: true, InheritedFrom: "1Folder"},
			{Details: []model.GrantDetail{{Inherited: true}}},
			{Details: []model.GrantDetail{{Inherited: false}}},
		}

		for _, grant := range grants {
			cls := Classify(grant, driveID)
			require.Contains(t, []model.Classification{
				model.ClassificationNotInherited,
				model.ClassificationNonRemovableDriveMembership,
				model.ClassificationRemovableParentFolder,
			}, cls)
		}
	})
}
