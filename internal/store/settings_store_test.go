package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/stream-go/internal/store"
	"github.com/vrsandeep/stream-go/internal/testutil"
)

func TestPluginSettings(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))

	require.NoError(t, st.SetPluginSetting("Demo", "prefs", "quality", "1080p"))
	require.NoError(t, st.SetPluginSetting("Demo", "prefs", "retries", 3))
	require.NoError(t, st.SetPluginSetting("Demo", "other", "quality", "720p"))
	require.NoError(t, st.SetPluginSetting("Demo", "prefs", "quality", "4k"))

	got, err := st.GetPluginSettings("Demo", "prefs")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"quality": "4k", "retries": float64(3)}, got)

	require.NoError(t, st.DeletePluginSetting("Demo", "prefs", "retries"))
	got, err = st.GetPluginSettings("Demo", "prefs")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"quality": "4k"}, got)

	empty, err := st.GetPluginSettings("Unknown", "prefs")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
