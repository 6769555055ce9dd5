package plugins

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/models"
	"github.com/vrsandeep/stream-go/internal/providers"
)

// Unit is an isolated, loadable piece of plugin code.
type Unit interface {
	// Create instantiates the named entry class.
	Create(className string) (BasePlugin, error)
	// Close releases everything the unit holds.
	Close() error
}

// UnitLoader opens a Unit over a converted script.
type UnitLoader interface {
	Open(loadable, pluginDir string) (Unit, error)
}

// ProviderRegistry is the shared registry plugins contribute to.
type ProviderRegistry interface {
	Add(p providers.Provider)
	RemoveWhere(owner string) int
	InitAll()
}

// LoadedPlugin pairs a unit with the instance created from it.
type LoadedPlugin struct {
	Unit     Unit
	Instance BasePlugin
	Data     models.PluginData
}

// Manager loads and unloads plugins keyed by their absolute install path.
// Loads of different paths run in parallel. Operations on one path are
// serialized.
type Manager struct {
	loader    UnitLoader
	converter Converter
	registry  ProviderRegistry
	settings  SettingsStore
	log       *zap.Logger

	mu        sync.Mutex
	plugins   map[string]*LoadedPlugin
	pathLocks map[string]*pathLock
}

// pathLock is dropped from the map once nobody holds or waits on it.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a plugin manager. A nil settings store keeps plugin
// preferences in memory.
func NewManager(loader UnitLoader, converter Converter, registry ProviderRegistry, settings SettingsStore, log *zap.Logger) *Manager {
	if settings == nil {
		settings = NewMemorySettings()
	}
	return &Manager{
		loader:    loader,
		converter: converter,
		registry:  registry,
		settings:  settings,
		log:       log.With(zap.String("component", "plugins")),
		plugins:   make(map[string]*LoadedPlugin),
		pathLocks: make(map[string]*pathLock),
	}
}

func (m *Manager) lockPath(path string) func() {
	m.mu.Lock()
	l, ok := m.pathLocks[path]
	if !ok {
		l = &pathLock{}
		m.pathLocks[path] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.pathLocks, path)
		}
		m.mu.Unlock()
	}
}

// PathTx loads and unloads one path while its lock is held by WithPathLock.
type PathTx struct {
	m    *Manager
	path string
}

// Path returns the absolute install path the transaction holds.
func (tx *PathTx) Path() string { return tx.path }

// Load behaves like Manager.Load for the held path.
func (tx *PathTx) Load(data models.PluginData) (*models.PluginData, error) {
	return tx.m.loadLocked(tx.path, data)
}

// Unload behaves like Manager.Unload for the held path.
func (tx *PathTx) Unload() {
	tx.m.unloadLocked(tx.path)
}

// WithPathLock runs f while holding the lock of path, so a sequence such as
// unload, replace files, load and persist is not interleaved with any other
// operation on the same path.
func (m *Manager) WithPathLock(path string, f func(tx *PathTx) error) error {
	path = absPath(path)
	unlock := m.lockPath(path)
	defer unlock()
	return f(&PathTx{m: m, path: path})
}

// Load loads the plugin extracted in pluginDir and returns data with the
// manifest's version and name merged in. Anything already loaded at the same
// path is unloaded first.
func (m *Manager) Load(pluginDir string, data models.PluginData) (*models.PluginData, error) {
	path := absPath(pluginDir)
	unlock := m.lockPath(path)
	defer unlock()
	return m.loadLocked(path, data)
}

func (m *Manager) loadLocked(path string, data models.PluginData) (*models.PluginData, error) {
	log := m.log.With(zap.String("plugin", filepath.Base(path)))

	manifest, err := ReadManifest(path, log)
	if err != nil {
		return nil, err
	}
	className := strings.TrimSpace(manifest.PluginClassName)
	if className == "" {
		log.Error("manifest missing pluginClassName")
		return nil, fmt.Errorf("%w for %s", ErrMissingClassName, filepath.Base(path))
	}
	loadable, err := EnsureLoadable(path, m.converter, log)
	if err != nil {
		return nil, err
	}

	log.Info("loading plugin", zap.String("class", className))
	m.unloadLocked(path)

	updated, err := m.instantiate(path, loadable, className, manifest, data)
	if err != nil {
		log.Error("failed to load plugin", zap.Error(err), zap.Stack("stack"))
		return nil, err
	}
	m.registry.InitAll()
	return &updated, nil
}

func (m *Manager) instantiate(path, loadable, className string, manifest *Manifest, data models.PluginData) (updated models.PluginData, err error) {
	unit, err := m.loader.Open(loadable, path)
	if err != nil {
		return updated, fmt.Errorf("failed to open plugin unit: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		m.mu.Lock()
		delete(m.plugins, path)
		m.mu.Unlock()
		m.registry.RemoveWhere(path)
		if closeErr := unit.Close(); closeErr != nil {
			m.log.Warn("failed to close plugin unit", zap.String("path", path), zap.Error(closeErr))
		}
	}()
	defer recoverPluginPanic(filepath.Base(path), "load", &err)

	instance, err := unit.Create(className)
	if err != nil {
		return updated, err
	}
	if instance == nil {
		return updated, fmt.Errorf("%w: %s", ErrNotBasePlugin, className)
	}
	instance.base().stamp(path, m.registry)

	updated = manifest.Apply(data)
	m.mu.Lock()
	m.plugins[path] = &LoadedPlugin{Unit: unit, Instance: instance, Data: updated}
	m.mu.Unlock()

	if p, ok := instance.(Plugin); ok {
		err = p.LoadContext(NewContext(data.InternalName, path, m.settings))
	} else {
		err = instance.Load()
	}
	if err != nil {
		return updated, &PluginError{Plugin: filepath.Base(path), Op: "load", Err: err}
	}
	return updated, nil
}

// Unload reverses Load for the plugin at path. Unloading a path with nothing
// loaded is a no-op.
func (m *Manager) Unload(path string) {
	path = absPath(path)
	unlock := m.lockPath(path)
	defer unlock()
	m.unloadLocked(path)
}

func (m *Manager) unloadLocked(path string) {
	m.mu.Lock()
	loaded, ok := m.plugins[path]
	m.mu.Unlock()
	if !ok {
		return
	}
	log := m.log.With(zap.String("plugin", filepath.Base(path)))

	if err := beforeUnload(path, loaded.Instance); err != nil {
		log.Error("failed to run plugin unload hook", zap.Error(err))
	}
	removed := m.registry.RemoveWhere(loaded.Instance.Filename())
	if err := loaded.Unit.Close(); err != nil {
		log.Warn("failed to close plugin unit", zap.Error(err))
	}

	m.mu.Lock()
	delete(m.plugins, path)
	m.mu.Unlock()
	log.Info("plugin unloaded", zap.Int("providers_removed", removed))
}

func beforeUnload(path string, instance BasePlugin) (err error) {
	defer recoverPluginPanic(filepath.Base(path), "beforeUnload", &err)
	return instance.BeforeUnload()
}

// UnloadAll unloads every loaded plugin.
func (m *Manager) UnloadAll() {
	for _, path := range m.LoadedPaths() {
		m.Unload(path)
	}
}

// IsLoaded reports whether a plugin is loaded at path.
func (m *Manager) IsLoaded(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.plugins[absPath(path)]
	return ok
}

// LoadedPaths returns the install paths of every loaded plugin, sorted.
func (m *Manager) LoadedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.plugins))
	for p := range m.plugins {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// LoadedData returns the record the plugin at path was loaded with.
func (m *Manager) LoadedData(path string) (models.PluginData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loaded, ok := m.plugins[absPath(path)]
	if !ok {
		return models.PluginData{}, false
	}
	return loaded.Data, true
}

// lockedPaths reports how many path locks are currently tracked.
func (m *Manager) lockedPaths() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pathLocks)
}

// OpenSettings invokes the settings hook of the plugin loaded at path.
func (m *Manager) OpenSettings(path string) (err error) {
	path = absPath(path)
	m.mu.Lock()
	loaded, ok := m.plugins[path]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no plugin loaded at %s", path)
	}
	opener, ok := loaded.Instance.(SettingsOpener)
	if !ok {
		return ErrNoSettings
	}
	defer recoverPluginPanic(filepath.Base(path), "openSettings", &err)
	return opener.OpenSettings(NewContext(loaded.Data.InternalName, path, m.settings))
}
