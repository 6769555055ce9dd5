package plugins

import (
	"sync"

	"github.com/vrsandeep/stream-go/internal/providers"
)

// BasePlugin is the contract every plugin instance satisfies. Implementations
// embed Base (or PluginBase), which also provides the no-op lifecycle hooks.
type BasePlugin interface {
	// Filename is the absolute install path stamped by the manager. It is
	// the ownership key of every provider the plugin registers.
	Filename() string
	Load() error
	BeforeUnload() error

	base() *Base
}

// Plugin is the richer variant that receives a Context on load.
type Plugin interface {
	BasePlugin
	LoadContext(ctx *Context) error
}

// SettingsOpener is implemented by plugins that expose a settings entry point.
type SettingsOpener interface {
	OpenSettings(ctx *Context) error
}

// Registrar receives the providers a plugin contributes.
type Registrar interface {
	Add(p providers.Provider)
}

// Base carries the state the manager stamps onto an instance.
type Base struct {
	mu        sync.RWMutex
	filename  string
	registrar Registrar
}

func (b *Base) base() *Base { return b }

func (b *Base) stamp(filename string, registrar Registrar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filename = filename
	b.registrar = registrar
}

func (b *Base) Filename() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filename
}

func (b *Base) Load() error         { return nil }
func (b *Base) BeforeUnload() error { return nil }

func (b *Base) register(p providers.Provider) {
	b.mu.RLock()
	registrar, owner := b.registrar, b.filename
	b.mu.RUnlock()
	if registrar == nil {
		return
	}
	p.SourcePlugin = owner
	registrar.Add(p)
}

// RegisterMainAPI contributes a content provider.
func (b *Base) RegisterMainAPI(name, mainURL, lang string, invoker providers.Invoker) {
	b.register(providers.Provider{Name: name, Kind: providers.KindMainAPI, MainURL: mainURL, Lang: lang, Invoker: invoker})
}

// RegisterExtractor contributes a link extractor.
func (b *Base) RegisterExtractor(name, mainURL string, invoker providers.Invoker) {
	b.register(providers.Provider{Name: name, Kind: providers.KindExtractor, MainURL: mainURL, Invoker: invoker})
}

// PluginBase is embedded by Plugin implementations.
type PluginBase struct {
	Base
}

// RegisterClickAction contributes a video click action.
func (p *PluginBase) RegisterClickAction(name string, invoker providers.Invoker) {
	p.register(providers.Provider{Name: name, Kind: providers.KindClickAction, Invoker: invoker})
}
