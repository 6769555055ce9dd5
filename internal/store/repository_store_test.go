package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/stream-go/internal/models"
	"github.com/vrsandeep/stream-go/internal/store"
	"github.com/vrsandeep/stream-go/internal/testutil"
)

func TestRepositoryStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	st := store.New(db)

	first := models.RepositoryData{ID: "first.1", URL: "https://example.com/first.json", Name: "First", Enabled: true}
	second := models.RepositoryData{ID: "second.2", URL: "https://example.com/second.json", Name: "Second", Enabled: true}

	t.Run("Upsert and list in insertion order", func(t *testing.T) {
		require.NoError(t, st.UpsertRepository(first))
		require.NoError(t, st.UpsertRepository(second))

		repos, err := st.GetAllRepositories()
		require.NoError(t, err)
		require.Len(t, repos, 2)
		assert.Equal(t, "first.1", repos[0].ID)
		assert.Equal(t, "second.2", repos[1].ID)
	})

	t.Run("Upsert by url replaces the record", func(t *testing.T) {
		renamed := first
		renamed.Name = "First Renamed"
		renamed.Shortcode = "abc"
		require.NoError(t, st.UpsertRepository(renamed))

		repos, err := st.GetAllRepositories()
		require.NoError(t, err)
		require.Len(t, repos, 2)
		assert.Equal(t, "First Renamed", repos[0].Name)
		assert.Equal(t, "abc", repos[0].Shortcode)
	})

	t.Run("Find by id or url", func(t *testing.T) {
		byID, err := st.FindRepository("second.2")
		require.NoError(t, err)
		byURL, err := st.FindRepository(second.URL)
		require.NoError(t, err)
		assert.Equal(t, byID, byURL)

		_, err = st.FindRepository("nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, st.DeleteRepository(first.URL))
		_, err := st.FindRepository(first.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
