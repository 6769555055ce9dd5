package plugins_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vrsandeep/stream-go/internal/models"
	"github.com/vrsandeep/stream-go/internal/plugins"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestReadManifest(t *testing.T) {
	log := zaptest.NewLogger(t)

	t.Run("Root manifest", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "manifest.json"), `{"pluginClassName":"DemoPlugin","version":3,"name":"Demo"}`)

		m, err := plugins.ReadManifest(dir, log)
		require.NoError(t, err)
		assert.Equal(t, "DemoPlugin", m.PluginClassName)
		require.NotNil(t, m.Version)
		assert.Equal(t, 3, *m.Version)
		require.NotNil(t, m.Name)
		assert.Equal(t, "Demo", *m.Name)
	})

	t.Run("Nested case-insensitive match", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "build", "MANIFEST.JSON"), `{"pluginClassName":"Nested"}`)

		m, err := plugins.ReadManifest(dir, log)
		require.NoError(t, err)
		assert.Equal(t, "Nested", m.PluginClassName)
		assert.Nil(t, m.Version)
	})

	t.Run("Root wins over nested and extras are warned about", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a", "manifest.json"), `{"pluginClassName":"Sample"}`)
		writeFile(t, filepath.Join(dir, "manifest.json"), `{"pluginClassName":"Root"}`)

		m, err := plugins.ReadManifest(dir, zap.New(core))
		require.NoError(t, err)
		assert.Equal(t, "Root", m.PluginClassName)
		require.Equal(t, 1, logs.FilterMessage("multiple manifests found, using one").Len())
	})

	t.Run("Missing manifest", func(t *testing.T) {
		_, err := plugins.ReadManifest(t.TempDir(), log)
		assert.ErrorIs(t, err, plugins.ErrManifestNotFound)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "manifest.json"), `{"pluginClassName":`)
		_, err := plugins.ReadManifest(dir, log)
		assert.Error(t, err)
	})
}

func TestManifestApply(t *testing.T) {
	data := models.PluginData{InternalName: "demo", Version: 2, Name: "Remote Name"}

	version := 3
	m := plugins.Manifest{PluginClassName: "Demo", Version: &version}
	updated := m.Apply(data)
	assert.Equal(t, 3, updated.Version)
	assert.Equal(t, "Remote Name", updated.Name)

	name := "Manifest Name"
	m = plugins.Manifest{PluginClassName: "Demo", Name: &name}
	updated = m.Apply(data)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Manifest Name", updated.Name)
}
