// Package repository fetches repository manifests, plugin lists and plugin
// binaries.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vrsandeep/stream-go/internal/models"
)

var rawGitHubPattern = regexp.MustCompile(`^https://raw.githubusercontent.com/([A-Za-z0-9-]+)/([A-Za-z0-9_.-]+)/(.*)$`)

// pluginListFetchLimit caps concurrent plugin-list requests per repository.
const pluginListFetchLimit = 4

// Client fetches repository documents and binaries over HTTP. Every outbound
// URL goes through ConvertRawGitURL.
type Client struct {
	http        *http.Client
	useJsdelivr atomic.Bool
	log         *zap.Logger
}

// NewClient creates a repository client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, useJsdelivr bool, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{http: httpClient, log: log.With(zap.String("component", "repository"))}
	c.useJsdelivr.Store(useJsdelivr)
	return c
}

// SetUseJsdelivr toggles the raw GitHub to jsDelivr rewrite at runtime.
func (c *Client) SetUseJsdelivr(enabled bool) {
	c.useJsdelivr.Store(enabled)
}

// UseJsdelivr reports whether the CDN rewrite is active.
func (c *Client) UseJsdelivr() bool {
	return c.useJsdelivr.Load()
}

// ConvertRawGitURL rewrites raw.githubusercontent.com URLs to the jsDelivr
// mirror when the rewrite is enabled. Other URLs pass through unchanged.
func (c *Client) ConvertRawGitURL(url string) string {
	if !c.useJsdelivr.Load() {
		return url
	}
	m := rawGitHubPattern.FindStringSubmatch(url)
	if m == nil {
		return url
	}
	return "https://cdn.jsdelivr.net/gh/" + m[1] + "/" + m[2] + "@" + m[3]
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	target := c.ConvertRawGitURL(url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: target, Status: resp.StatusCode}
	}
	return resp, nil
}

// FetchRepository downloads and parses the repository manifest at url.
func (c *Client) FetchRepository(ctx context.Context, url string) (*models.Repository, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		c.log.Warn("failed to fetch repository", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	var repo models.Repository
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		c.log.Warn("failed to parse repository", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("failed to parse repository %s: %w", url, err)
	}
	if repo.PluginLists == nil {
		return nil, fmt.Errorf("failed to parse repository %s: missing pluginLists", url)
	}
	return &repo, nil
}

// FetchPluginList downloads one plugin-list document. Any failure is logged
// and yields an empty list.
func (c *Client) FetchPluginList(ctx context.Context, url string) []models.SitePlugin {
	resp, err := c.get(ctx, url)
	if err != nil {
		c.log.Error("failed to fetch plugin list", zap.String("url", url), zap.Error(err))
		return []models.SitePlugin{}
	}
	defer resp.Body.Close()

	var plugins []models.SitePlugin
	if err := json.NewDecoder(resp.Body).Decode(&plugins); err != nil {
		c.log.Error("failed to parse plugin list", zap.String("url", url), zap.Error(err))
		return []models.SitePlugin{}
	}
	if plugins == nil {
		plugins = []models.SitePlugin{}
	}
	return plugins
}

// ListRepositoryPlugins fetches the repository and flattens every plugin list
// it references, preserving list order. It fails only when the repository
// itself cannot be fetched.
func (c *Client) ListRepositoryPlugins(ctx context.Context, repositoryURL string) ([]models.RepositoryPlugin, error) {
	repo, err := c.FetchRepository(ctx, repositoryURL)
	if err != nil {
		return nil, err
	}

	lists := make([][]models.SitePlugin, len(repo.PluginLists))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pluginListFetchLimit)
	for i, listURL := range repo.PluginLists {
		g.Go(func() error {
			lists[i] = c.FetchPluginList(gctx, listURL)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := []models.RepositoryPlugin{}
	for _, list := range lists {
		for _, p := range list {
			result = append(result, models.RepositoryPlugin{RepositoryURL: repositoryURL, Plugin: p})
		}
	}
	return result, nil
}

func httpStatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return strconv.Itoa(code) + " " + text
	}
	return strconv.Itoa(code)
}
