// Package installer orchestrates repository management and the plugin
// install, update and removal flows on top of the plugin manager.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vrsandeep/stream-go/internal/config"
	"github.com/vrsandeep/stream-go/internal/models"
	"github.com/vrsandeep/stream-go/internal/plugins"
	"github.com/vrsandeep/stream-go/internal/repository"
	"github.com/vrsandeep/stream-go/internal/store"
	"github.com/vrsandeep/stream-go/internal/util"
)

const (
	downloadPattern = "plugin-download-*.cs3"
	uploadPattern   = "plugin-upload-*.cs3"

	defaultInstallConcurrency = 4
	defaultTempArchiveMaxAge  = 24 * time.Hour
)

// Service ties the persisted repository and plugin records to what is on
// disk and what the plugin manager has loaded.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	client   *repository.Client
	resolver *repository.Resolver
	manager  *plugins.Manager
	events   Publisher
	log      *zap.Logger
}

// NewService creates the installer. A nil publisher drops events.
func NewService(cfg *config.Config, st *store.Store, client *repository.Client, resolver *repository.Resolver, manager *plugins.Manager, events Publisher, log *zap.Logger) *Service {
	if events == nil {
		events = discardPublisher{}
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		client:   client,
		resolver: resolver,
		manager:  manager,
		events:   events,
		log:      log.With(zap.String("component", "installer")),
	}
}

func (s *Service) dataDir() string {
	return s.cfg.DataDir
}

func (s *Service) installConcurrency() int {
	if n := s.cfg.Plugins.InstallConcurrency; n > 0 {
		return n
	}
	return defaultInstallConcurrency
}

// Repositories returns every stored repository.
func (s *Service) Repositories() ([]*models.RepositoryData, error) {
	return s.store.GetAllRepositories()
}

// Plugins returns every installed plugin record.
func (s *Service) Plugins() ([]*models.PluginData, error) {
	return s.store.ListPlugins()
}

// Repository returns the stored repository whose id or url is idOrURL.
func (s *Service) Repository(idOrURL string) (*models.RepositoryData, error) {
	repo, err := s.store.FindRepository(idOrURL)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, idOrURL)
	}
	return repo, err
}

// AddRepository resolves the request's reference and stores the repository,
// replacing any record with the same id or url. The remote manifest only
// fills in display fields, so an unreachable repository can still be added.
func (s *Service) AddRepository(ctx context.Context, req models.RepositoryAddRequest) (*models.RepositoryData, error) {
	input := strings.TrimSpace(req.URL)
	if input == "" {
		input = strings.TrimSpace(req.Shortcode)
	}
	if input == "" {
		return nil, fmt.Errorf("%w: url or shortcode is required", ErrInvalidRequest)
	}

	url, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		s.log.Warn("could not resolve repository reference, storing it as given", zap.String("input", input), zap.Error(err))
		url = input
	}

	repo := models.RepositoryData{
		ID:        plugins.PluginDirectoryName(url),
		Name:      strings.TrimSpace(req.Name),
		URL:       url,
		Shortcode: strings.TrimSpace(req.Shortcode),
		Enabled:   req.Enabled == nil || *req.Enabled,
	}
	if manifest, err := s.client.FetchRepository(ctx, url); err != nil {
		s.log.Warn("failed to fetch repository manifest", zap.String("url", url), zap.Error(err))
	} else {
		if repo.Name == "" {
			repo.Name = manifest.Name
		}
		repo.IconURL = manifest.IconURL
		repo.Description = manifest.Description
	}
	if repo.Name == "" {
		repo.Name = url
	}

	if err := s.store.UpsertRepository(repo); err != nil {
		return nil, fmt.Errorf("failed to save repository: %w", err)
	}
	s.log.Info("repository added", zap.String("url", url), zap.String("id", repo.ID))
	return &repo, nil
}

// RemoveRepository removes every plugin installed from the repository and
// then the repository record itself.
func (s *Service) RemoveRepository(idOrURL string) (*models.RemovalResult, error) {
	repo, err := s.Repository(idOrURL)
	if err != nil {
		return nil, err
	}
	result, err := s.removeRepositoryPlugins(repo)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteRepository(repo.ID); err != nil {
		return nil, fmt.Errorf("failed to delete repository: %w", err)
	}
	s.log.Info("repository removed", zap.String("url", repo.URL), zap.Int("plugins", result.Removed))
	return result, nil
}

// RepositoryPlugins lists what the repository offers, annotated with the
// installed version of each plugin.
func (s *Service) RepositoryPlugins(ctx context.Context, idOrURL string) (*models.RepositoryPluginsResponse, error) {
	repo, err := s.Repository(idOrURL)
	if err != nil {
		return nil, err
	}
	remote, err := s.client.ListRepositoryPlugins(ctx, repo.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to list repository plugins: %w", err)
	}

	available := make([]models.AvailablePlugin, 0, len(remote))
	for _, rp := range remote {
		entry := models.AvailablePlugin{SitePlugin: rp.Plugin}
		if local, err := s.store.FindPlugin(repo.URL, rp.Plugin.InternalName); err == nil {
			version := local.Version
			entry.Installed = true
			entry.InstalledVersion = &version
			entry.CanUpdate = plugins.ShouldUpdate(local.Version, rp.Plugin.Version)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		available = append(available, entry)
	}
	return &models.RepositoryPluginsResponse{Repository: *repo, Plugins: available}, nil
}

// InstallFromRepository installs the plugin named internalName from the
// repository at repositoryURL. The name is matched case-insensitively.
func (s *Service) InstallFromRepository(ctx context.Context, repositoryURL, internalName string) (*models.PluginData, error) {
	remote, err := s.client.ListRepositoryPlugins(ctx, repositoryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list repository plugins: %w", err)
	}
	for _, rp := range remote {
		if strings.EqualFold(rp.Plugin.InternalName, internalName) {
			data, _, err := s.installSite(ctx, repositoryURL, rp.Plugin)
			return data, err
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrPluginNotFound, internalName, repositoryURL)
}

// InstallAll installs every plugin the repository offers that is not already
// up to date and returns the ones it installed. Individual failures are
// logged and skipped.
func (s *Service) InstallAll(ctx context.Context, idOrURL string) ([]*models.PluginData, error) {
	repo, err := s.Repository(idOrURL)
	if err != nil {
		return nil, err
	}
	remote, err := s.client.ListRepositoryPlugins(ctx, repo.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to list repository plugins: %w", err)
	}

	var (
		mu        sync.Mutex
		installed = []*models.PluginData{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.installConcurrency())
	for _, rp := range remote {
		g.Go(func() error {
			data, changed, err := s.installSite(gctx, repo.URL, rp.Plugin)
			if err != nil {
				s.log.Warn("skipping plugin", zap.String("plugin", rp.Plugin.InternalName), zap.Error(err))
				return nil
			}
			if changed {
				mu.Lock()
				installed = append(installed, data)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	util.SortNaturalBy(installed, func(p *models.PluginData) string { return p.InternalName })
	return installed, nil
}

// installSite downloads and installs one remote plugin. It reports false
// when the installed copy was already up to date.
func (s *Service) installSite(ctx context.Context, repositoryURL string, site models.SitePlugin) (*models.PluginData, bool, error) {
	if err := plugins.CheckAPIVersion(site.APIVersion); err != nil {
		return nil, false, fmt.Errorf("%s: %w", site.InternalName, err)
	}

	dir := plugins.PluginPath(s.dataDir(), site.InternalName, repositoryURL)
	var (
		data     *models.PluginData
		existing *models.PluginData
		changed  bool
	)
	err := s.manager.WithPathLock(dir, func(tx *plugins.PathTx) error {
		var err error
		existing, err = s.store.FindPlugin(repositoryURL, site.InternalName)
		if errors.Is(err, store.ErrNotFound) {
			existing, err = nil, nil
		}
		if err != nil {
			return err
		}
		if existing != nil && upToDate(*existing, site) {
			s.log.Debug("plugin is up to date", zap.String("plugin", site.InternalName), zap.Int("version", existing.Version))
			data = existing
			return nil
		}

		archive, err := s.tempArchive(downloadPattern)
		if err != nil {
			return err
		}
		defer os.Remove(archive)

		if _, err := s.client.DownloadTo(ctx, site.URL, archive); err != nil {
			return fmt.Errorf("failed to download %s: %w", site.InternalName, err)
		}
		data, err = s.installFromArchive(ctx, tx, archive, plugins.ToPluginData(site, repositoryURL, tx.Path()))
		changed = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return data, false, nil
	}

	if existing != nil && cleanPath(existing.FilePath) != data.FilePath {
		// The repository renamed the plugin, so its old copy lives elsewhere.
		s.removeStale(existing)
	}
	if existing != nil {
		s.publish(EventUpdated, *data)
	} else {
		s.publish(EventInstalled, *data)
	}
	s.log.Info("plugin installed", zap.String("plugin", data.InternalName), zap.Int("version", data.Version), zap.String("path", data.FilePath))
	return data, true, nil
}

func (s *Service) removeStale(old *models.PluginData) {
	err := s.manager.WithPathLock(old.FilePath, func(tx *plugins.PathTx) error {
		tx.Unload()
		if err := plugins.DeletePluginDir(tx.Path()); err != nil {
			return err
		}
		return s.store.DeletePlugin(old.FilePath)
	})
	if err != nil {
		s.log.Warn("failed to remove previous plugin copy", zap.String("path", old.FilePath), zap.Error(err))
	}
}

func upToDate(local models.PluginData, site models.SitePlugin) bool {
	if site.Version == models.PluginVersionAlwaysUpdate || local.Version != site.Version {
		return false
	}
	info, err := os.Stat(local.FilePath)
	return err == nil && info.IsDir()
}

// installFromArchive replaces whatever is at the held path with the
// archive's content, loads it and persists the resulting record. A plugin
// that fails to load leaves neither a directory nor a record behind.
func (s *Service) installFromArchive(ctx context.Context, tx *plugins.PathTx, archive string, data models.PluginData) (*models.PluginData, error) {
	dir := tx.Path()
	tx.Unload()

	if err := plugins.ExtractArchive(ctx, archive, dir, s.log); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	loaded, err := tx.Load(data)
	if err != nil {
		if rmErr := plugins.DeletePluginDir(dir); rmErr != nil {
			s.log.Warn("failed to delete plugin directory", zap.String("path", dir), zap.Error(rmErr))
		}
		if dbErr := s.store.DeletePlugin(dir); dbErr != nil {
			s.log.Warn("failed to delete stale plugin record", zap.String("path", dir), zap.Error(dbErr))
		}
		return nil, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if err := s.store.UpsertPlugin(*loaded); err != nil {
		return nil, fmt.Errorf("failed to save plugin: %w", err)
	}
	return loaded, nil
}

func (s *Service) tempArchive(pattern string) (string, error) {
	if err := os.MkdirAll(s.dataDir(), 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	f, err := os.CreateTemp(s.dataDir(), pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp archive: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}

// RemoveRepositoryPlugins unloads and deletes every plugin that came from the
// repository, then its folder and records.
func (s *Service) RemoveRepositoryPlugins(idOrURL string) (*models.RemovalResult, error) {
	repo, err := s.Repository(idOrURL)
	if err != nil {
		return nil, err
	}
	return s.removeRepositoryPlugins(repo)
}

func (s *Service) removeRepositoryPlugins(repo *models.RepositoryData) (*models.RemovalResult, error) {
	folder := plugins.RepositoryFolder(s.dataDir(), repo.URL)
	records, err := s.store.ListRepositoryPlugins(repo.URL, folder)
	if err != nil {
		return nil, err
	}

	result := &models.RemovalResult{Files: []string{}}
	for _, p := range records {
		err := s.manager.WithPathLock(p.FilePath, func(tx *plugins.PathTx) error {
			tx.Unload()
			if err := plugins.DeletePluginDir(tx.Path()); err != nil {
				s.log.Warn("failed to delete plugin directory", zap.String("path", p.FilePath), zap.Error(err))
			}
			if err := s.store.DeletePlugin(p.FilePath); err != nil {
				return fmt.Errorf("failed to delete plugin record: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, p.FilePath)
		s.publish(EventRemoved, *p)
	}
	if err := plugins.DeletePluginDir(folder); err != nil {
		s.log.Warn("failed to delete repository folder", zap.String("path", folder), zap.Error(err))
	}
	result.Removed = len(records)
	return result, nil
}

// findPlugin resolves a removal request by path, by repository and name,
// or by name alone.
func (s *Service) findPlugin(req models.PluginRemoveRequest) (*models.PluginData, error) {
	var (
		p   *models.PluginData
		err error
	)
	switch {
	case req.FilePath != "":
		p, err = s.store.GetPlugin(cleanPath(req.FilePath))
	case req.RepositoryURL != "" && req.InternalName != "":
		p, err = s.store.FindPlugin(req.RepositoryURL, req.InternalName)
	case req.InternalName != "":
		p, err = s.store.FindPluginByName(req.InternalName)
	default:
		return nil, fmt.Errorf("%w: filePath or internalName is required", ErrInvalidRequest)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPluginNotFound
	}
	return p, err
}

// RemovePlugin unloads the plugin, deletes its directory and its record.
func (s *Service) RemovePlugin(req models.PluginRemoveRequest) (*models.PluginData, error) {
	p, err := s.findPlugin(req)
	if err != nil {
		return nil, err
	}
	err = s.manager.WithPathLock(p.FilePath, func(tx *plugins.PathTx) error {
		// A concurrent removal may have won the lock first.
		if _, err := s.store.GetPlugin(p.FilePath); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrPluginNotFound
			}
			return err
		}
		tx.Unload()
		if err := plugins.DeletePluginDir(tx.Path()); err != nil {
			return fmt.Errorf("failed to delete plugin directory: %w", err)
		}
		if err := s.store.DeletePlugin(p.FilePath); err != nil {
			return fmt.Errorf("failed to delete plugin record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(EventRemoved, *p)
	s.log.Info("plugin removed", zap.String("plugin", p.InternalName), zap.String("path", p.FilePath))
	return p, nil
}

// AutoUpdate reinstalls every online plugin of an enabled repository whose
// remote version supersedes the installed one.
func (s *Service) AutoUpdate(ctx context.Context) ([]*models.PluginData, error) {
	repos, err := s.store.GetAllRepositories()
	if err != nil {
		return nil, err
	}

	updated := []*models.PluginData{}
	for _, repo := range repos {
		if !repo.Enabled {
			continue
		}
		remote, err := s.client.ListRepositoryPlugins(ctx, repo.URL)
		if err != nil {
			s.log.Warn("skipping repository during update", zap.String("url", repo.URL), zap.Error(err))
			continue
		}
		for _, rp := range remote {
			local, err := s.store.FindPlugin(repo.URL, rp.Plugin.InternalName)
			if err != nil {
				continue
			}
			switch {
			case !local.IsOnline:
				continue
			case !plugins.ValidOnlineData(s.dataDir(), *local, repo.URL):
				s.log.Warn("plugin is not where its repository expects it", zap.String("plugin", local.InternalName), zap.String("path", local.FilePath))
				continue
			case plugins.IsDisabled(rp.Plugin):
				s.log.Debug("plugin disabled by repository", zap.String("plugin", local.InternalName))
				continue
			case !plugins.ShouldUpdate(local.Version, rp.Plugin.Version):
				continue
			}

			data, changed, err := s.installSite(ctx, repo.URL, rp.Plugin)
			if err != nil {
				s.log.Error("failed to update plugin", zap.String("plugin", local.InternalName), zap.Error(err))
				continue
			}
			if changed {
				updated = append(updated, data)
			}
		}
	}
	s.log.Info("plugin update finished", zap.Int("updated", len(updated)))
	return updated, nil
}

// InstallLocal installs an uploaded archive as a side-loaded plugin.
func (s *Service) InstallLocal(ctx context.Context, fileName string, r io.Reader) (*models.PluginUploadResponse, error) {
	base := filepath.Base(strings.TrimSpace(fileName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	}

	archive, err := s.tempArchive(uploadPattern)
	if err != nil {
		return nil, err
	}
	defer os.Remove(archive)

	out, err := os.OpenFile(archive, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	size, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	dir := plugins.LocalPluginPath(s.dataDir(), base)
	var (
		data      *models.PluginData
		lookupErr error
	)
	err = s.manager.WithPathLock(dir, func(tx *plugins.PathTx) error {
		_, lookupErr = s.store.GetPlugin(dir)
		var err error
		data, err = s.installFromArchive(ctx, tx, archive, plugins.ToLocalPluginData(dir, "", size))
		return err
	})
	if err != nil {
		return nil, err
	}
	if lookupErr == nil {
		s.publish(EventUpdated, *data)
	} else {
		s.publish(EventInstalled, *data)
	}
	s.log.Info("local plugin installed", zap.String("file", base), zap.String("path", dir))
	return &models.PluginUploadResponse{Plugin: *data, Path: dir}, nil
}

// SetEnabled loads or unloads the plugin at filePath and persists the flag.
func (s *Service) SetEnabled(filePath string, enabled bool) (*models.PluginData, error) {
	p, err := s.findPlugin(models.PluginRemoveRequest{FilePath: filePath})
	if err != nil {
		return nil, err
	}

	var result *models.PluginData
	err = s.manager.WithPathLock(p.FilePath, func(tx *plugins.PathTx) error {
		current, err := s.store.GetPlugin(p.FilePath)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPluginNotFound
		}
		if err != nil {
			return err
		}

		if !enabled {
			tx.Unload()
			if err := s.store.SetPluginEnabled(current.FilePath, false); err != nil {
				return fmt.Errorf("failed to save plugin: %w", err)
			}
			current.Enabled = false
			result = current
			return nil
		}

		loaded, err := tx.Load(*current)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInstallFailed, err)
		}
		loaded.Enabled = true
		if err := s.store.UpsertPlugin(*loaded); err != nil {
			return fmt.Errorf("failed to save plugin: %w", err)
		}
		result = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if enabled {
		s.publish(EventLoaded, *result)
	} else {
		s.publish(EventUnloaded, *result)
	}
	return result, nil
}

// LoadOnStartup loads every enabled plugin whose directory still exists and
// returns how many loaded.
func (s *Service) LoadOnStartup() (int, error) {
	records, err := s.store.ListPlugins()
	if err != nil {
		return 0, err
	}

	var (
		mu     sync.Mutex
		loaded int
		g      errgroup.Group
	)
	g.SetLimit(s.installConcurrency())
	for _, p := range records {
		if !p.Enabled {
			continue
		}
		if info, err := os.Stat(p.FilePath); err != nil || !info.IsDir() {
			s.log.Warn("plugin directory is missing", zap.String("plugin", p.InternalName), zap.String("path", p.FilePath))
			continue
		}
		g.Go(func() error {
			var data *models.PluginData
			err := s.manager.WithPathLock(p.FilePath, func(tx *plugins.PathTx) error {
				var err error
				if data, err = tx.Load(*p); err != nil {
					return err
				}
				if data.Version != p.Version || data.Name != p.Name {
					if err := s.store.UpsertPlugin(*data); err != nil {
						s.log.Warn("failed to save plugin", zap.String("plugin", p.InternalName), zap.Error(err))
					}
				}
				return nil
			})
			if err != nil {
				s.log.Warn("plugin failed to load on startup", zap.String("plugin", p.InternalName), zap.Error(err))
				return nil
			}
			s.publish(EventLoaded, *data)
			mu.Lock()
			loaded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return loaded, err
	}
	s.log.Info("plugins loaded", zap.Int("loaded", loaded), zap.Int("records", len(records)))
	return loaded, nil
}

// ReloadLocal reloads the side-loaded plugin stored at dir. Directories
// without an enabled local record are ignored.
func (s *Service) ReloadLocal(dir string) error {
	var data *models.PluginData
	err := s.manager.WithPathLock(cleanPath(dir), func(tx *plugins.PathTx) error {
		p, err := s.store.GetPlugin(tx.Path())
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.IsOnline || !p.Enabled {
			return nil
		}

		if data, err = tx.Load(*p); err != nil {
			return err
		}
		return s.store.UpsertPlugin(*data)
	})
	if err != nil || data == nil {
		return err
	}
	s.publish(EventLoaded, *data)
	s.log.Info("local plugin reloaded", zap.String("plugin", data.InternalName))
	return nil
}

// CleanupTempArchives deletes leftover download and upload archives in the
// data directory that are older than the configured age.
func (s *Service) CleanupTempArchives() (int, error) {
	entries, err := os.ReadDir(s.dataDir())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	maxAge := time.Duration(s.cfg.Plugins.TempArchiveMaxAge) * time.Hour
	if maxAge <= 0 {
		maxAge = defaultTempArchiveMaxAge
	}
	cutoff := time.Now().Add(-maxAge)

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isTempArchive(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dataDir(), entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("failed to delete temp archive", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("temp archives cleaned up", zap.Int("removed", removed))
	}
	return removed, nil
}

func isTempArchive(name string) bool {
	if !strings.HasSuffix(name, ".cs3") {
		return false
	}
	return strings.HasPrefix(name, "plugin-download-") || strings.HasPrefix(name, "plugin-upload-")
}

func cleanPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
