package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"drive-warden/internal/model"
)

func TestNormalizeRole(t *testing.T) {
	t.Parallel()

	t.Run("collapses organizer to fileOrganizer", func(t *testing.T) {
		require.Equal(t, "fileOrganizer", NormalizeRole("organizer"))
		require.Equal(t, "fileOrganizer", NormalizeRole("fileOrganizer"))
	})

	t.Run("passes known roles through", func(t *testing.T) {
		require.Equal(t, "writer", NormalizeRole("writer"))
		require.Equal(t, "commenter", NormalizeRole("commenter"))
		require.Equal(t, "reader", NormalizeRole("reader"))
	})

	t.Run("preserves unknown roles verbatim", func(t *testing.T) {
		require.Equal(t, "futureRole", NormalizeRole("futureRole"))
	})
}

func TestNormalizeGroup(t *testing.T) {
	t.Parallel()

	t.Run("lowercases the identifier and normalizes the role", func(t *testing.T) {
		principal := NormalizeGroup(model.TemplateEntry{Email: "QS-Team@X.com", Role: "organizer"})

		require.NotNil(t, principal)
		require.Equal(t, model.PrincipalTypeGroup, principal.Type)
		require.Equal(t, "qs-team@x.com", principal.Identifier)
		require.Equal(t, "fileOrganizer", principal.Role)
	})

	t.Run("defaults missing role to reader", func(t *testing.T) {
		principal := NormalizeGroup(model.TemplateEntry{Email: "hse-team@x.com"})

		require.NotNil(t, principal)
		require.Equal(t, "reader", principal.Role)
	})

	t.Run("returns nil for a row without an email", func(t *testing.T) {
		require.Nil(t, NormalizeGroup(model.TemplateEntry{Role: "writer"}))
		require.Nil(t, NormalizeGroup(model.TemplateEntry{Email: "   "}))
	})
}

func TestNormalizeUser(t *testing.T) {
	t.Parallel()

	principal := NormalizeUser(model.TemplateEntry{Email: "Alice@X.com", Role: "writer"})

	require.NotNil(t, principal)
	require.Equal(t, model.PrincipalTypeUser, principal.Type)
	require.Equal(t, "alice@x.com", principal.Identifier)
	require.Equal(t, "writer", principal.Role)
}

func TestPrincipalKeyDistinguishesTypes(t *testing.T) {
	t.Parallel()

	group := model.Principal{Type: model.PrincipalTypeGroup, Identifier: "team@x.com", Role: "reader"}
	user := model.Principal{Type: model.PrincipalTypeUser, Identifier: "team@x.com", Role: "reader"}

	require.NotEqual(t, group.Key(), user.Key())
}
