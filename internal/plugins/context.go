package plugins

import "sync"

// SettingsStore persists plugin preferences scoped by plugin key and
// preferences name.
type SettingsStore interface {
	GetPluginSettings(pluginKey, prefsName string) (map[string]any, error)
	SetPluginSetting(pluginKey, prefsName, key string, value any) error
	DeletePluginSetting(pluginKey, prefsName, key string) error
}

// Context is handed to Plugin.LoadContext.
type Context struct {
	PluginKey string
	FilesDir  string
	settings  SettingsStore
}

// NewContext builds a load context. A nil store keeps preferences in memory.
func NewContext(pluginKey, filesDir string, settings SettingsStore) *Context {
	if settings == nil {
		settings = NewMemorySettings()
	}
	return &Context{PluginKey: pluginKey, FilesDir: filesDir, settings: settings}
}

// Preferences opens the named preferences file of the plugin.
func (c *Context) Preferences(name string) *Preferences {
	return &Preferences{store: c.settings, pluginKey: c.PluginKey, name: name}
}

// Preferences is a key/value view over one preferences file.
type Preferences struct {
	store     SettingsStore
	pluginKey string
	name      string
}

func (p *Preferences) All() (map[string]any, error) {
	return p.store.GetPluginSettings(p.pluginKey, p.name)
}

// Get returns the stored value and whether it was present.
func (p *Preferences) Get(key string) (any, bool, error) {
	all, err := p.All()
	if err != nil {
		return nil, false, err
	}
	v, ok := all[key]
	return v, ok, nil
}

func (p *Preferences) Set(key string, value any) error {
	return p.store.SetPluginSetting(p.pluginKey, p.name, key, value)
}

func (p *Preferences) Remove(key string) error {
	return p.store.DeletePluginSetting(p.pluginKey, p.name, key)
}

type memorySettings struct {
	mu     sync.Mutex
	values map[[2]string]map[string]any
}

// NewMemorySettings returns a SettingsStore that lives only in memory.
func NewMemorySettings() SettingsStore {
	return &memorySettings{values: make(map[[2]string]map[string]any)}
}

func (m *memorySettings) GetPluginSettings(pluginKey, prefsName string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any)
	for k, v := range m.values[[2]string{pluginKey, prefsName}] {
		out[k] = v
	}
	return out, nil
}

func (m *memorySettings) SetPluginSetting(pluginKey, prefsName, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := [2]string{pluginKey, prefsName}
	if m.values[scope] == nil {
		m.values[scope] = make(map[string]any)
	}
	m.values[scope][key] = value
	return nil
}

func (m *memorySettings) DeletePluginSetting(pluginKey, prefsName, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[[2]string{pluginKey, prefsName}], key)
	return nil
}
