package api_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/stream-go/internal/models"
	"github.com/vrsandeep/stream-go/internal/plugins"
	"github.com/vrsandeep/stream-go/internal/testutil"
)

func TestRepositoryAndPluginFlow(t *testing.T) {
	f := newAPIFixture(t)
	repoURL := f.repo.URL + "/repo.json"

	rr := f.do(t, http.MethodPost, "/api/repositories", map[string]string{"url": repoURL})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	repo := decode[models.RepositoryData](t, rr)
	assert.Equal(t, "Echo repo", repo.Name)
	assert.True(t, repo.Enabled)

	t.Run("List repositories", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/repositories", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		repos := decode[[]models.RepositoryData](t, rr)
		require.Len(t, repos, 1)
		assert.Equal(t, repo.ID, repos[0].ID)
	})

	t.Run("Available plugins", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/repositories/"+repo.ID+"/plugins", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[models.RepositoryPluginsResponse](t, rr)
		require.Len(t, resp.Plugins, 1)
		assert.Equal(t, "echo", resp.Plugins[0].InternalName)
		assert.False(t, resp.Plugins[0].Installed)
	})

	t.Run("Install and search", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/repositories/"+repo.ID+"/plugins/echo/install", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		data := decode[models.PluginData](t, rr)
		assert.Equal(t, plugins.PluginPath(f.app.Config.DataDir, "echo", repoURL), data.FilePath)

		rr = f.do(t, http.MethodGet, "/api/providers", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		list := decode[[]map[string]any](t, rr)
		require.Len(t, list, 1)
		assert.Equal(t, "Echo", list[0]["name"])

		rr = f.do(t, http.MethodGet, "/api/providers/Echo/search?query="+url.QueryEscape("dune"), nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode[map[string]any](t, rr)
		results, ok := body["results"].([]any)
		require.True(t, ok)
		require.Len(t, results, 1)
		assert.Equal(t, map[string]any{"title": "dune", "plugin": "echo"}, results[0])

		rr = f.do(t, http.MethodGet, "/api/providers/Echo/search", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		rr = f.do(t, http.MethodGet, "/api/providers/Nope/search?query=x", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Installed plugins are listed as loaded", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/api/plugins", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		list := decode[[]map[string]any](t, rr)
		require.Len(t, list, 1)
		assert.Equal(t, true, list[0]["loaded"])
	})

	t.Run("Disable and enable", func(t *testing.T) {
		path := plugins.PluginPath(f.app.Config.DataDir, "echo", repoURL)
		rr := f.do(t, http.MethodPost, "/api/plugins/enabled", models.PluginEnableRequest{FilePath: path, Enabled: false})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Empty(t, f.app.Providers.List())

		rr = f.do(t, http.MethodPost, "/api/plugins/enabled", models.PluginEnableRequest{FilePath: path, Enabled: true})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Len(t, f.app.Providers.List(), 1)

		rr = f.do(t, http.MethodPost, "/api/plugins/enabled", models.PluginEnableRequest{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Install by repository url", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/plugins/install", models.PluginInstallRequest{RepositoryURL: repoURL, InternalName: "echo"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = f.do(t, http.MethodPost, "/api/plugins/install", models.PluginInstallRequest{RepositoryURL: repoURL, InternalName: "missing"})
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = f.do(t, http.MethodPost, "/api/plugins/install", models.PluginInstallRequest{RepositoryURL: repo.ID, InternalName: "echo"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, repoURL, decode[models.PluginData](t, rr).RepositoryURL)

		rr = f.do(t, http.MethodPost, "/api/plugins/install", models.PluginInstallRequest{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Auto update with nothing new", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/plugins/autoupdate", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decode[map[string][]any](t, rr)
		assert.Empty(t, body["updated"])
	})

	t.Run("Remove repository plugins", func(t *testing.T) {
		rr := f.do(t, http.MethodDelete, "/api/repositories/"+repo.ID+"/plugins", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		result := decode[models.RemovalResult](t, rr)
		assert.Equal(t, 1, result.Removed)
		assert.Empty(t, f.app.Providers.List())
	})

	t.Run("Install all", func(t *testing.T) {
		rr := f.do(t, http.MethodPost, "/api/repositories/"+repo.ID+"/plugins/install-all", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decode[map[string][]models.PluginData](t, rr)
		assert.Len(t, body["installed"], 1)
	})

	t.Run("Remove plugin", func(t *testing.T) {
		rr := f.do(t, http.MethodDelete, "/api/plugins", models.PluginRemoveRequest{InternalName: "echo"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = f.do(t, http.MethodDelete, "/api/plugins", models.PluginRemoveRequest{InternalName: "echo"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
		rr = f.do(t, http.MethodDelete, "/api/plugins", models.PluginRemoveRequest{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Delete repository", func(t *testing.T) {
		rr := f.do(t, http.MethodDelete, "/api/repositories/"+repo.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = f.do(t, http.MethodDelete, "/api/repositories/"+repo.ID, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		rr = f.do(t, http.MethodGet, "/api/repositories/"+repo.ID+"/plugins", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestAddRepositoryValidation(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodPost, "/api/repositories", "{")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, http.MethodPost, "/api/repositories", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInstallFailureIsUnprocessable(t *testing.T) {
	f := newAPIFixture(t)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repo.json":
			w.Write([]byte(`{"name":"Broken","pluginLists":["` + "http://" + r.Host + `/plugins.json"]}`))
		case "/plugins.json":
			w.Write([]byte(`[{"internalName":"bad","version":1,"status":1,"url":"http://` + r.Host + `/bad.cs3"}]`))
		case "/bad.cs3":
			w.Write([]byte("this is not a zip archive"))
		}
	}))
	defer broken.Close()

	rr := f.do(t, http.MethodPost, "/api/repositories", map[string]string{"url": broken.URL + "/repo.json"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/api/plugins/install", models.PluginInstallRequest{RepositoryURL: broken.URL + "/repo.json", InternalName: "bad"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}

func TestInstallRequiresStoredRepository(t *testing.T) {
	f := newAPIFixture(t)
	repoURL := f.repo.URL + "/repo.json"

	for _, ref := range []string{repoURL, "no-such-repo-id"} {
		rr := f.do(t, http.MethodPost, "/api/plugins/install", models.PluginInstallRequest{RepositoryURL: ref, InternalName: "echo"})
		assert.Equal(t, http.StatusNotFound, rr.Code, ref)
	}

	list, err := f.app.Installer.Plugins()
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.app.Providers.List())
}

func TestUploadPlugin(t *testing.T) {
	f := newAPIFixture(t)
	archive := testutil.CreateTestZip(t, t.TempDir(), "local.cs3", testutil.ScriptPluginArchive("LocalPlugin", "Local"))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "local.cs3")
	require.NoError(t, err)
	_, err = part.Write(testutil.ReadZip(t, archive))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/plugins/local", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	resp := decode[models.PluginUploadResponse](t, rr)
	assert.Equal(t, plugins.LocalPluginPath(f.app.Config.DataDir, "local.cs3"), resp.Path)
	assert.False(t, resp.Plugin.IsOnline)
	_, ok := f.app.Providers.Get("Local")
	assert.True(t, ok)

	rr = f.do(t, http.MethodPost, "/api/plugins/local", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
