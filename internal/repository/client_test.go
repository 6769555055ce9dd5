package repository

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConvertRawGitURL(t *testing.T) {
	c := NewClient(nil, false, zaptest.NewLogger(t))
	raw := "https://raw.githubusercontent.com/some-user/my.repo/main/builds/plugins.json"

	assert.Equal(t, raw, c.ConvertRawGitURL(raw), "rewrite must be inactive when disabled")

	c.SetUseJsdelivr(true)
	assert.True(t, c.UseJsdelivr())
	assert.Equal(t, "https://cdn.jsdelivr.net/gh/some-user/my.repo@main/builds/plugins.json", c.ConvertRawGitURL(raw))
	assert.Equal(t, "https://example.com/plugins.json", c.ConvertRawGitURL("https://example.com/plugins.json"))
	assert.Equal(t, "http://raw.githubusercontent.com/u/r/x", c.ConvertRawGitURL("http://raw.githubusercontent.com/u/r/x"))
}

func newRepoServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repo.json":
			w.Write([]byte(`{"name":"Test","manifestVersion":1,"pluginLists":["` + srv.URL + `/a.json","` + srv.URL + `/broken.json","` + srv.URL + `/b.json"]}`))
		case "/a.json":
			w.Write([]byte(`[{"internalName":"One","url":"x","version":1,"status":1,"name":"One"},{"internalName":"Two","url":"y","version":2,"status":1,"name":"Two"}]`))
		case "/b.json":
			w.Write([]byte(`[{"internalName":"Three","url":"z","version":3,"status":0,"name":"Three"}]`))
		case "/broken.json":
			w.Write([]byte(`{not json`))
		case "/nolists.json":
			w.Write([]byte(`{"name":"Empty"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRepository(t *testing.T) {
	srv := newRepoServer(t)
	c := NewClient(srv.Client(), false, zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("Parses manifest", func(t *testing.T) {
		repo, err := c.FetchRepository(ctx, srv.URL+"/repo.json")
		require.NoError(t, err)
		assert.Equal(t, "Test", repo.Name)
		assert.Len(t, repo.PluginLists, 3)
	})

	t.Run("Non-2xx fails", func(t *testing.T) {
		_, err := c.FetchRepository(ctx, srv.URL+"/missing.json")
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusNotFound, statusErr.Status)
	})

	t.Run("Parse failure fails", func(t *testing.T) {
		_, err := c.FetchRepository(ctx, srv.URL+"/broken.json")
		assert.Error(t, err)
		_, err = c.FetchRepository(ctx, srv.URL+"/nolists.json")
		assert.Error(t, err)
	})
}

func TestFetchPluginList(t *testing.T) {
	srv := newRepoServer(t)
	c := NewClient(srv.Client(), false, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Len(t, c.FetchPluginList(ctx, srv.URL+"/a.json"), 2)

	broken := c.FetchPluginList(ctx, srv.URL+"/broken.json")
	assert.NotNil(t, broken)
	assert.Empty(t, broken)

	assert.Empty(t, c.FetchPluginList(ctx, srv.URL+"/missing.json"))
}

func TestListRepositoryPlugins(t *testing.T) {
	srv := newRepoServer(t)
	c := NewClient(srv.Client(), false, zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("Flattens lists in order and skips broken ones", func(t *testing.T) {
		repoURL := srv.URL + "/repo.json"
		plugins, err := c.ListRepositoryPlugins(ctx, repoURL)
		require.NoError(t, err)
		require.Len(t, plugins, 3)

		var names []string
		for _, p := range plugins {
			assert.Equal(t, repoURL, p.RepositoryURL)
			names = append(names, p.Plugin.InternalName)
		}
		assert.Equal(t, []string{"One", "Two", "Three"}, names)
	})

	t.Run("Fails only when the repository fails", func(t *testing.T) {
		plugins, err := c.ListRepositoryPlugins(ctx, srv.URL+"/missing.json")
		assert.Error(t, err)
		assert.Nil(t, plugins)
	})
}
