// Package providers holds the application-wide registry that loaded plugins
// contribute capability providers to. Every provider records the install
// path of the plugin that registered it, so a plugin's contributions can be
// swept on unload without the plugin's cooperation.
package providers

import (
	"context"
	"sync"

	"github.com/vrsandeep/stream-go/internal/util"
)

// Kind distinguishes the registries a provider can live in.
type Kind string

const (
	KindMainAPI     Kind = "main"
	KindExtractor   Kind = "extractor"
	KindClickAction Kind = "click-action"
)

// Invoker calls a named function of the provider's implementation.
type Invoker interface {
	Invoke(ctx context.Context, function string, args ...any) (any, error)
}

// Provider is one capability contributed by a plugin.
type Provider struct {
	Name         string  `json:"name"`
	Kind         Kind    `json:"kind"`
	MainURL      string  `json:"mainUrl,omitempty"`
	Lang         string  `json:"lang,omitempty"`
	SourcePlugin string  `json:"sourcePlugin"`
	Invoker      Invoker `json:"-"`
}

type activeKey struct {
	kind Kind
	name string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	all []Provider
	// all[:initialized] were present at the last InitAll.
	initialized int
	active      map[activeKey]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[activeKey]Provider)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Add records a provider. It becomes resolvable by name after the next InitAll.
func (r *Registry) Add(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, p)
}

// RemoveWhere drops every provider whose SourcePlugin equals owner and
// returns how many were removed. A name the owner shadowed falls back to the
// provider it had replaced.
func (r *Registry) RemoveWhere(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.all[:0]
	removed, initialized := 0, 0
	for i, p := range r.all {
		if p.SourcePlugin == owner {
			removed++
			continue
		}
		if i < r.initialized {
			initialized++
		}
		kept = append(kept, p)
	}
	// Clear the tail so dropped invokers can be collected.
	for i := len(kept); i < len(r.all); i++ {
		r.all[i] = Provider{}
	}
	r.all = kept
	r.initialized = initialized
	r.rebuild()
	return removed
}

// InitAll recomputes the name lookup from everything registered. When two
// plugins register the same kind and name, the later registration wins.
func (r *Registry) InitAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = len(r.all)
	r.rebuild()
}

func (r *Registry) rebuild() {
	active := make(map[activeKey]Provider, r.initialized)
	for _, p := range r.all[:r.initialized] {
		active[activeKey{p.Kind, p.Name}] = p
	}
	r.active = active
}

// Get returns the active main API with the given name.
func (r *Registry) Get(name string) (Provider, bool) {
	return r.Lookup(KindMainAPI, name)
}

// Lookup returns the active provider of kind with the given name.
func (r *Registry) Lookup(kind Kind, name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.active[activeKey{kind, name}]
	return p, ok
}

// List returns the active providers of every kind in natural name order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	list := make([]Provider, 0, len(r.active))
	for _, p := range r.active {
		list = append(list, p)
	}
	r.mu.RUnlock()

	util.SortNaturalBy(list, func(p Provider) string { return p.Name + "\x00" + string(p.Kind) })
	return list
}

// OwnedBy returns every registered provider, active or not, from owner.
func (r *Registry) OwnedBy(owner string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var owned []Provider
	for _, p := range r.all {
		if p.SourcePlugin == owner {
			owned = append(owned, p)
		}
	}
	return owned
}

// Reset removes everything. Used by tests sharing the default registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = nil
	r.initialized = 0
	r.active = make(map[activeKey]Provider)
}
