package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vrsandeep/stream-go/internal/plugins"
)

// FakeLoader is a plugins.UnitLoader serving Go plugin types by class name.
type FakeLoader struct {
	mu        sync.Mutex
	factories map[string]func() plugins.BasePlugin
	opened    int
	closed    int
	OpenErr   error
}

// NewFakeLoader returns a loader with no registered classes.
func NewFakeLoader() *FakeLoader {
	return &FakeLoader{factories: make(map[string]func() plugins.BasePlugin)}
}

// Register makes className constructible through factory.
func (l *FakeLoader) Register(className string, factory func() plugins.BasePlugin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[className] = factory
}

func (l *FakeLoader) Open(loadable, pluginDir string) (plugins.Unit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.OpenErr != nil {
		return nil, l.OpenErr
	}
	l.opened++
	return &fakeUnit{loader: l}, nil
}

// OpenUnits returns how many units are open.
func (l *FakeLoader) OpenUnits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened - l.closed
}

// Opened returns how many units were ever opened.
func (l *FakeLoader) Opened() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

type fakeUnit struct {
	loader *FakeLoader
	once   sync.Once
}

func (u *fakeUnit) Create(className string) (plugins.BasePlugin, error) {
	u.loader.mu.Lock()
	factory, ok := u.loader.factories[className]
	u.loader.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("class %s not found", className)
	}
	return factory(), nil
}

func (u *fakeUnit) Close() error {
	u.once.Do(func() {
		u.loader.mu.Lock()
		u.loader.closed++
		u.loader.mu.Unlock()
	})
	return nil
}

// FakeConverter writes a placeholder script and counts conversions.
type FakeConverter struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (c *FakeConverter) Convert(source, destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.Err != nil {
		return c.Err
	}
	return os.WriteFile(destination, []byte("module.exports = {};\n"), 0644)
}

// Calls returns how many conversions ran.
func (c *FakeConverter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// StaticInvoker answers every invocation with Result.
type StaticInvoker struct {
	Result any
}

func (s StaticInvoker) Invoke(ctx context.Context, function string, args ...any) (any, error) {
	return s.Result, nil
}

// DemoPlugin registers one main API named Name on load.
type DemoPlugin struct {
	plugins.PluginBase
	Name        string
	LoadErr     error
	PanicOnLoad bool
	UnloadErr   error
	Context     *plugins.Context

	mu      sync.Mutex
	loads   int
	unloads int
}

func (p *DemoPlugin) LoadContext(ctx *plugins.Context) error {
	p.mu.Lock()
	p.loads++
	p.Context = ctx
	p.mu.Unlock()

	p.RegisterMainAPI(p.Name, "https://demo.example", "en", StaticInvoker{Result: p.Name})
	if p.PanicOnLoad {
		panic("demo plugin exploded")
	}
	return p.LoadErr
}

func (p *DemoPlugin) BeforeUnload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloads++
	return p.UnloadErr
}

// Counts returns how often the plugin was loaded and unloaded.
func (p *DemoPlugin) Counts() (loads, unloads int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads, p.unloads
}

// BarePlugin is a BasePlugin without a load context.
type BarePlugin struct {
	plugins.Base
	Loaded bool
}

func (p *BarePlugin) Load() error {
	p.Loaded = true
	p.RegisterExtractor("bare-extractor", "https://bare.example", StaticInvoker{})
	return nil
}

// PluginArchive returns the entries of a minimal plugin archive: a manifest
// and a source file.
func PluginArchive(t *testing.T, className string, version *int, name *string) []ZipEntry {
	t.Helper()
	manifest := map[string]any{"pluginClassName": className}
	if version != nil {
		manifest["version"] = *version
	}
	if name != nil {
		manifest["name"] = *name
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("Failed to encode manifest: %v", err)
	}
	return []ZipEntry{
		{Name: "manifest.json", Body: string(data)},
		{Name: "src/index.ts", Body: "export class " + className + " {}\n"},
	}
}

// WritePluginDir writes a manifest and source file directly into dir.
func WritePluginDir(t *testing.T, dir, className string, version *int) {
	t.Helper()
	for _, e := range PluginArchive(t, className, version, nil) {
		path := filepath.Join(dir, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", path, err)
		}
		if err := os.WriteFile(path, []byte(e.Body), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
