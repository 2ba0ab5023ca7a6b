package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"drive-warden/internal/model"
)

func TestFlatten(t *testing.T) {
	t.Parallel()

	t.Run("builds slash-joined paths without a leading separator", func(t *testing.T) {
		roots := []model.TemplateNode{
			{
				Name: "Commercial",
				Children: []model.TemplateNode{
					{Name: "Contracts", LimitedAccess: true,
						Groups: []model.TemplateEntry{{Email: "legal@x.com", Role: "writer"}}},
				},
			},
			{Name: "HSE"},
		}

		flat, err := Flatten(roots)
		require.NoError(t, err)

		require.Len(t, flat, 3)
		require.Contains(t, flat, "Commercial")
		require.Contains(t, flat, "Commercial/Contracts")
		require.Contains(t, flat, "HSE")

		contracts := flat["Commercial/Contracts"]
		require.True(t, contracts.LimitedAccess)
		require.Len(t, contracts.Groups, 1)
		require.Equal(t, "legal@x.com", contracts.Groups[0].Identifier)
	})

	t.Run("accepts both historical node shapes", func(t *testing.T) {
		legacy := []byte(`[{"name":"Root","children":[{"name":"Child","limitedAccess":true}]}]`)
		v2 := []byte(`[{"text":"Root","nodes":[{"text":"Child","limitedAccess":true}]}]`)

		for _, raw := range [][]byte{legacy, v2} {
			var roots []model.TemplateNode
			require.NoError(t, json.Unmarshal(raw, &roots))

			flat, err := Flatten(roots)
			require.NoError(t, err)
			require.Contains(t, flat, "Root")
			require.Contains(t, flat, "Root/Child")
			require.True(t, flat["Root/Child"].LimitedAccess)
		}
	})

	t.Run("empty groups and users are valid", func(t *testing.T) {
		flat, err := Flatten([]model.TemplateNode{{Name: "Public"}})
		require.NoError(t, err)

		public := flat["Public"]
		require.False(t, public.LimitedAccess)
		require.Empty(t, public.Groups)
		require.Empty(t, public.Users)
	})

	t.Run("drops principals without an email but keeps the folder", func(t *testing.T) {
		roots := []model.TemplateNode{{
			Name:   "Root",
			Groups: []model.TemplateEntry{{Role: "writer"}, {Email: "team@x.com", Role: "reader"}},
		}}

		flat, err := Flatten(roots)
		require.NoError(t, err)
		require.Len(t, flat["Root"].Groups, 1)
		require.Equal(t, "team@x.com", flat["Root"].Groups[0].Identifier)
	})

	t.Run("skips nameless nodes together with their subtree", func(t *testing.T) {
		roots := []model.TemplateNode{
			{Name: "Root"},
			{Children: []model.TemplateNode{{Name: "Orphan"}}},
		}

		flat, err := Flatten(roots)
		require.NoError(t, err)
		require.Len(t, flat, 1)
		require.Contains(t, flat, "Root")
	})

	t.Run("rejects a template with duplicate flattened paths", func(t *testing.T) {
		roots := []model.TemplateNode{{Name: "Root"}, {Name: "Root"}}

		_, err := Flatten(roots)
		require.ErrorIs(t, err, model.ErrDuplicateTemplatePath)
	})
}
