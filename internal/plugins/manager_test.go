package plugins_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vrsandeep/stream-go/internal/models"
	"github.com/vrsandeep/stream-go/internal/plugins"
	"github.com/vrsandeep/stream-go/internal/providers"
	"github.com/vrsandeep/stream-go/internal/repository"
	"github.com/vrsandeep/stream-go/internal/store"
	"github.com/vrsandeep/stream-go/internal/testutil"
)

type managerFixture struct {
	manager  *plugins.Manager
	loader   *testutil.FakeLoader
	conv     *testutil.FakeConverter
	registry *providers.Registry
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		loader:   testutil.NewFakeLoader(),
		conv:     &testutil.FakeConverter{},
		registry: providers.NewRegistry(),
	}
	f.manager = plugins.NewManager(f.loader, f.conv, f.registry, nil, zaptest.NewLogger(t))
	return f
}

func TestManagerUnloadIsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	assert.NotPanics(t, func() {
		f.manager.Unload(filepath.Join(t.TempDir(), "nothing"))
		f.manager.Unload("")
	})
	assert.Empty(t, f.manager.LoadedPaths())
}

func TestManagerLoad(t *testing.T) {
	t.Run("Loads and merges manifest", func(t *testing.T) {
		f := newManagerFixture(t)
		demo := &testutil.DemoPlugin{Name: "Demo"}
		f.loader.Register("DemoPlugin", func() plugins.BasePlugin { return demo })

		dir := t.TempDir()
		testutil.WritePluginDir(t, dir, "DemoPlugin", testutil.IntPtr(3))

		data, err := f.manager.Load(dir, models.PluginData{InternalName: "demo", Version: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, data.Version)
		assert.True(t, f.manager.IsLoaded(dir))
		assert.Equal(t, dir, demo.Filename())

		p, ok := f.registry.Get("Demo")
		require.True(t, ok, "InitAll runs after load")
		assert.Equal(t, dir, p.SourcePlugin)

		require.NotNil(t, demo.Context)
		assert.Equal(t, "demo", demo.Context.PluginKey)
		assert.Equal(t, dir, demo.Context.FilesDir)
	})

	t.Run("Bare plugin receives no context", func(t *testing.T) {
		f := newManagerFixture(t)
		bare := &testutil.BarePlugin{}
		f.loader.Register("Bare", func() plugins.BasePlugin { return bare })

		dir := t.TempDir()
		testutil.WritePluginDir(t, dir, "Bare", nil)

		data, err := f.manager.Load(dir, models.PluginData{InternalName: "bare", Version: 7})
		require.NoError(t, err)
		assert.Equal(t, 7, data.Version)
		assert.True(t, bare.Loaded)
		_, ok := f.registry.Lookup(providers.KindExtractor, "bare-extractor")
		assert.True(t, ok)
	})

	t.Run("Reload never duplicates", func(t *testing.T) {
		f := newManagerFixture(t)
		var created []*testutil.DemoPlugin
		f.loader.Register("DemoPlugin", func() plugins.BasePlugin {
			d := &testutil.DemoPlugin{Name: "Demo"}
			created = append(created, d)
			return d
		})
		dir := t.TempDir()
		testutil.WritePluginDir(t, dir, "DemoPlugin", nil)

		for i := 0; i < 2; i++ {
			_, err := f.manager.Load(dir, models.PluginData{InternalName: "demo"})
			require.NoError(t, err)
		}

		assert.Len(t, f.manager.LoadedPaths(), 1)
		assert.Len(t, f.registry.OwnedBy(dir), 1)
		assert.Equal(t, 1, f.loader.OpenUnits(), "previous unit is closed")
		require.Len(t, created, 2)
		_, unloads := created[0].Counts()
		assert.Equal(t, 1, unloads)
		assert.Equal(t, 1, f.conv.Calls(), "conversion is cached across reloads")
	})

	t.Run("Manifest problems fail fast", func(t *testing.T) {
		f := newManagerFixture(t)

		_, err := f.manager.Load(t.TempDir(), models.PluginData{})
		assert.ErrorIs(t, err, plugins.ErrManifestNotFound)

		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "manifest.json"), `{"pluginClassName":"  "}`)
		writeFile(t, filepath.Join(dir, "index.ts"), "")
		_, err = f.manager.Load(dir, models.PluginData{})
		assert.ErrorIs(t, err, plugins.ErrMissingClassName)

		dir = t.TempDir()
		writeFile(t, filepath.Join(dir, "manifest.json"), `{"pluginClassName":"Demo"}`)
		_, err = f.manager.Load(dir, models.PluginData{})
		assert.ErrorIs(t, err, plugins.ErrSourceNotFound)
		assert.Equal(t, 0, f.loader.Opened())
	})
}

func TestManagerLoadFailureLeavesNothing(t *testing.T) {
	testCases := []struct {
		name    string
		factory func() plugins.BasePlugin
		class   string
	}{
		{"Unknown class", nil, "Missing"},
		{"Nil instance", func() plugins.BasePlugin { return nil }, "Nil"},
		{"Load error", func() plugins.BasePlugin {
			return &testutil.DemoPlugin{Name: "Failing", LoadErr: errors.New("load failed")}
		}, "Failing"},
		{"Load panic", func() plugins.BasePlugin {
			return &testutil.DemoPlugin{Name: "Panicking", PanicOnLoad: true}
		}, "Panicking"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newManagerFixture(t)
			if tc.factory != nil {
				f.loader.Register(tc.class, tc.factory)
			}
			dir := t.TempDir()
			testutil.WritePluginDir(t, dir, tc.class, nil)

			data, err := f.manager.Load(dir, models.PluginData{InternalName: "x"})
			assert.Error(t, err)
			assert.Nil(t, data)
			assert.False(t, f.manager.IsLoaded(dir))
			assert.Empty(t, f.registry.OwnedBy(dir), "partial registrations are swept")
			assert.Equal(t, 0, f.loader.OpenUnits(), "unit is closed on failure")
		})
	}

	t.Run("Failure does not disturb other plugins", func(t *testing.T) {
		f := newManagerFixture(t)
		f.loader.Register("Good", func() plugins.BasePlugin { return &testutil.DemoPlugin{Name: "Good"} })
		f.loader.Register("Bad", func() plugins.BasePlugin {
			return &testutil.DemoPlugin{Name: "Bad", PanicOnLoad: true}
		})
		good, bad := t.TempDir(), t.TempDir()
		testutil.WritePluginDir(t, good, "Good", nil)
		testutil.WritePluginDir(t, bad, "Bad", nil)

		_, err := f.manager.Load(good, models.PluginData{})
		require.NoError(t, err)
		_, err = f.manager.Load(bad, models.PluginData{})
		require.Error(t, err)

		assert.True(t, f.manager.IsLoaded(good))
		_, ok := f.registry.Get("Good")
		assert.True(t, ok)
	})
}

func TestManagerUnload(t *testing.T) {
	f := newManagerFixture(t)
	demo := &testutil.DemoPlugin{Name: "Demo", UnloadErr: errors.New("hook failed")}
	f.loader.Register("DemoPlugin", func() plugins.BasePlugin { return demo })
	dir := t.TempDir()
	testutil.WritePluginDir(t, dir, "DemoPlugin", nil)

	_, err := f.manager.Load(dir, models.PluginData{})
	require.NoError(t, err)

	f.manager.Unload(dir)
	assert.False(t, f.manager.IsLoaded(dir))
	assert.Empty(t, f.registry.OwnedBy(dir), "cleanup proceeds when the hook fails")
	_, ok := f.registry.Get("Demo")
	assert.False(t, ok)
	assert.Equal(t, 0, f.loader.OpenUnits())

	f.manager.Unload(dir)
	_, unloads := demo.Counts()
	assert.Equal(t, 1, unloads)
}

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Add(p providers.Provider)     { m.Called(p) }
func (m *mockRegistry) RemoveWhere(owner string) int { return m.Called(owner).Int(0) }
func (m *mockRegistry) InitAll()                     { m.Called() }

func TestManagerRegistryCalls(t *testing.T) {
	reg := &mockRegistry{}
	loader := testutil.NewFakeLoader()
	loader.Register("DemoPlugin", func() plugins.BasePlugin { return &testutil.DemoPlugin{Name: "Demo"} })
	manager := plugins.NewManager(loader, &testutil.FakeConverter{}, reg, nil, zaptest.NewLogger(t))

	dir := t.TempDir()
	testutil.WritePluginDir(t, dir, "DemoPlugin", nil)

	reg.On("Add", mock.MatchedBy(func(p providers.Provider) bool {
		return p.Name == "Demo" && p.SourcePlugin == dir && p.Kind == providers.KindMainAPI
	})).Once()
	reg.On("InitAll").Once()
	reg.On("RemoveWhere", dir).Return(1).Once()

	_, err := manager.Load(dir, models.PluginData{})
	require.NoError(t, err)
	manager.Unload(dir)

	reg.AssertExpectations(t)
}

func TestManagerPreferences(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	loader := testutil.NewFakeLoader()
	demo := &testutil.DemoPlugin{Name: "Demo"}
	loader.Register("DemoPlugin", func() plugins.BasePlugin { return demo })
	manager := plugins.NewManager(loader, &testutil.FakeConverter{}, providers.NewRegistry(), st, zaptest.NewLogger(t))

	dir := t.TempDir()
	testutil.WritePluginDir(t, dir, "DemoPlugin", nil)
	_, err := manager.Load(dir, models.PluginData{InternalName: "demo"})
	require.NoError(t, err)

	prefs := demo.Context.Preferences("settings")
	require.NoError(t, prefs.Set("quality", "1080p"))

	stored, err := st.GetPluginSettings("demo", "settings")
	require.NoError(t, err)
	assert.Equal(t, "1080p", stored["quality"])

	v, ok, err := prefs.Get("quality")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1080p", v)

	require.NoError(t, prefs.Remove("quality"))
	_, ok, err = prefs.Get("quality")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, manager.OpenSettings(dir), plugins.ErrNoSettings)
	assert.Error(t, manager.OpenSettings(t.TempDir()))
}

func TestManagerConcurrentLoads(t *testing.T) {
	f := newManagerFixture(t)
	f.loader.Register("DemoPlugin", func() plugins.BasePlugin { return &testutil.DemoPlugin{Name: "Demo"} })

	base := t.TempDir()
	var dirs []string
	for i := 0; i < 8; i++ {
		dir := filepath.Join(base, fmt.Sprintf("p%d", i))
		testutil.WritePluginDir(t, dir, "DemoPlugin", nil)
		dirs = append(dirs, dir)
	}

	var wg sync.WaitGroup
	for _, dir := range dirs {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(dir string) {
				defer wg.Done()
				_, err := f.manager.Load(dir, models.PluginData{})
				assert.NoError(t, err)
			}(dir)
		}
	}
	wg.Wait()

	assert.Len(t, f.manager.LoadedPaths(), len(dirs))
	for _, dir := range dirs {
		assert.Len(t, f.registry.OwnedBy(dir), 1)
	}
	assert.Equal(t, len(dirs), f.loader.OpenUnits())
	assert.Zero(t, f.manager.PathLockCount())

	f.manager.UnloadAll()
	assert.Empty(t, f.manager.LoadedPaths())
	assert.Empty(t, f.registry.List())
	assert.Zero(t, f.manager.PathLockCount())
}

func TestManagerWithPathLock(t *testing.T) {
	f := newManagerFixture(t)
	f.loader.Register("DemoPlugin", func() plugins.BasePlugin { return &testutil.DemoPlugin{Name: "Demo"} })
	dir := filepath.Join(t.TempDir(), "demo")
	testutil.WritePluginDir(t, dir, "DemoPlugin", nil)

	t.Run("Runs load and unload under the held lock", func(t *testing.T) {
		err := f.manager.WithPathLock(dir, func(tx *plugins.PathTx) error {
			assert.Equal(t, dir, tx.Path())
			if _, err := tx.Load(models.PluginData{InternalName: "demo"}); err != nil {
				return err
			}
			assert.True(t, f.manager.IsLoaded(dir))
			tx.Unload()
			_, err := tx.Load(models.PluginData{InternalName: "demo"})
			return err
		})
		require.NoError(t, err)
		assert.True(t, f.manager.IsLoaded(dir))
		assert.Equal(t, 1, f.loader.OpenUnits())
		assert.Zero(t, f.manager.PathLockCount())
	})

	t.Run("Other operations on the path wait", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- f.manager.WithPathLock(dir, func(tx *plugins.PathTx) error {
				tx.Unload()
				close(entered)
				<-release
				return nil
			})
		}()
		<-entered

		unloaded := make(chan struct{})
		go func() {
			f.manager.Unload(dir)
			close(unloaded)
		}()
		select {
		case <-unloaded:
			t.Fatal("Unload ran while the path lock was held")
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
		require.NoError(t, <-done)
		<-unloaded
		assert.False(t, f.manager.IsLoaded(dir))
		assert.Zero(t, f.manager.PathLockCount())
	})

	t.Run("Returns the callback error", func(t *testing.T) {
		boom := errors.New("boom")
		err := f.manager.WithPathLock(dir, func(*plugins.PathTx) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}

func TestEndToEndInstall(t *testing.T) {
	tempDir := t.TempDir()
	archive := testutil.CreateTestZip(t, tempDir, "demo.cs3", testutil.PluginArchive(t, "DemoPlugin", testutil.IntPtr(3), nil))
	archiveBytes := testutil.ReadZip(t, archive)

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repo.json":
			fmt.Fprintf(w, `{"name":"Demo repo","pluginLists":["%s/plugins.json"]}`, srv.URL)
		case "/plugins.json":
			fmt.Fprintf(w, `[{"internalName":"demo","name":"Demo","version":2,"status":1,"url":"%s/demo.archive"}]`, srv.URL)
		case "/demo.archive":
			w.Write(archiveBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	log := zaptest.NewLogger(t)
	ctx := context.Background()
	resolver := repository.NewResolver(srv.Client(), "", log)
	client := repository.NewClient(srv.Client(), false, log)
	f := newManagerFixture(t)
	f.loader.Register("DemoPlugin", func() plugins.BasePlugin { return &testutil.DemoPlugin{Name: "Demo"} })

	repoURL, err := resolver.Resolve(ctx, srv.URL+"/repo.json")
	require.NoError(t, err)
	listed, err := client.ListRepositoryPlugins(ctx, repoURL)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	site := listed[0].Plugin
	assert.Equal(t, "demo", site.InternalName)

	dataDir := filepath.Join(tempDir, "data")
	download, err := client.DownloadTo(ctx, site.URL, filepath.Join(dataDir, "demo.download"))
	require.NoError(t, err)
	defer os.Remove(download)

	pluginDir := plugins.PluginPath(dataDir, site.InternalName, repoURL)
	require.NoError(t, plugins.ExtractArchive(ctx, download, pluginDir, log))

	data, err := f.manager.Load(pluginDir, plugins.ToPluginData(site, repoURL, pluginDir))
	require.NoError(t, err)
	assert.Equal(t, 3, data.Version, "manifest overrides the remote version")
	assert.Equal(t, pluginDir, data.FilePath)
	assert.Equal(t, []string{pluginDir}, f.manager.LoadedPaths())
	assert.Len(t, f.registry.OwnedBy(pluginDir), 1)

	f.manager.Unload(pluginDir)
	assert.Empty(t, f.manager.LoadedPaths())
	assert.Empty(t, f.registry.OwnedBy(pluginDir))
}
