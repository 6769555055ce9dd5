package store_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/stream-go/internal/models"
	"github.com/vrsandeep/stream-go/internal/store"
	"github.com/vrsandeep/stream-go/internal/testutil"
)

func TestPluginStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	st := store.New(db)

	demo := models.PluginData{
		InternalName:  "Demo",
		URL:           "https://example.com/demo.cs3",
		IsOnline:      true,
		FilePath:      "/data/Extensions/repo.1/Demo.2",
		Version:       2,
		RepositoryURL: "https://example.com/repo.json",
		Name:          "Demo Plugin",
		Status:        1,
		Authors:       []string{"alice", "bob"},
		TvTypes:       []string{"Movie"},
		Enabled:       true,
	}

	t.Run("Upsert and Get", func(t *testing.T) {
		require.NoError(t, st.UpsertPlugin(demo))

		got, err := st.GetPlugin(demo.FilePath)
		require.NoError(t, err)
		assert.Equal(t, demo, *got)
	})

	t.Run("Upsert replaces by file path", func(t *testing.T) {
		updated := demo
		updated.Version = 3
		updated.Name = "Demo Renamed"
		require.NoError(t, st.UpsertPlugin(updated))

		all, err := st.ListPlugins()
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, 3, all[0].Version)
		assert.Equal(t, "Demo Renamed", all[0].Name)
	})

	t.Run("Find is case insensitive", func(t *testing.T) {
		got, err := st.FindPlugin(demo.RepositoryURL, "demo")
		require.NoError(t, err)
		assert.Equal(t, demo.FilePath, got.FilePath)

		got, err = st.FindPluginByName("DEMO")
		require.NoError(t, err)
		assert.Equal(t, demo.FilePath, got.FilePath)

		_, err = st.FindPlugin("https://other.example/repo.json", "demo")
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("List repository plugins by url or folder", func(t *testing.T) {
		stray := models.PluginData{
			InternalName: "Stray",
			IsOnline:     true,
			FilePath:     "/data/Extensions/repo.1/Stray.9",
			Version:      1,
			Enabled:      true,
		}
		lookalike := models.PluginData{
			InternalName: "Other",
			IsOnline:     true,
			FilePath:     "/data/Extensions/repo.10/Other.1",
			Version:      1,
			Enabled:      true,
		}
		require.NoError(t, st.UpsertPlugin(stray))
		require.NoError(t, st.UpsertPlugin(lookalike))

		got, err := st.ListRepositoryPlugins(demo.RepositoryURL, "/data/Extensions/repo.1")
		require.NoError(t, err)
		var paths []string
		for _, p := range got {
			paths = append(paths, p.FilePath)
		}
		assert.ElementsMatch(t, []string{demo.FilePath, stray.FilePath}, paths)
	})

	t.Run("Enable and delete", func(t *testing.T) {
		require.NoError(t, st.SetPluginEnabled(demo.FilePath, false))
		got, err := st.GetPlugin(demo.FilePath)
		require.NoError(t, err)
		assert.False(t, got.Enabled)

		assert.ErrorIs(t, st.SetPluginEnabled("/missing", true), store.ErrNotFound)

		require.NoError(t, st.DeletePlugin(demo.FilePath))
		_, err = st.GetPlugin(demo.FilePath)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
