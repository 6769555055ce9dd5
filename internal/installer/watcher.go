package installer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/plugins"
)

// Reloader reloads the side-loaded plugin stored at a directory.
type Reloader interface {
	ReloadLocal(dir string) error
}

// Watcher reloads side-loaded plugins when files under their directory
// change. Bursts of events for one plugin collapse into a single reload.
type Watcher struct {
	root          string
	reloader      Reloader
	log           *zap.Logger
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	stop   chan struct{}
	done   chan struct{}
}

// NewWatcher watches dataDir/plugins.
func NewWatcher(dataDir string, reloader Reloader, log *zap.Logger) *Watcher {
	return &Watcher{
		root:          cleanPath(filepath.Join(dataDir, plugins.LocalPluginsFolder)),
		reloader:      reloader,
		log:           log.With(zap.String("component", "watcher")),
		debounceDelay: 2 * time.Second,
		timers:        make(map[string]*time.Timer),
	}
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounceDelay = d
}

// Start creates the plugins folder if needed and begins watching it.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.processEvents()
	w.log.Info("watching local plugins", zap.String("path", w.root))
	return nil
}

// Stop ends watching and cancels pending reloads.
func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	close(w.stop)
	err := w.watcher.Close()
	<-w.done

	w.mu.Lock()
	for dir, t := range w.timers {
		t.Stop()
		delete(w.timers, dir)
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) processEvents() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", zap.Error(err))
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	// The converter writes plugin.js; reacting to it would reload twice.
	if filepath.Base(event.Name) == plugins.LoadableName {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watcher.Add(event.Name)
		}
	}

	dir, ok := w.pluginDir(event.Name)
	if !ok {
		return
	}
	w.schedule(dir)
}

// pluginDir maps a changed path to the plugin directory directly below root.
func (w *Watcher) pluginDir(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first := strings.Split(filepath.ToSlash(rel), "/")[0]
	return filepath.Join(w.root, first), true
}

func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[dir]; ok {
		t.Stop()
	}
	w.timers[dir] = time.AfterFunc(w.debounceDelay, func() {
		w.mu.Lock()
		delete(w.timers, dir)
		w.mu.Unlock()

		if _, err := os.Stat(dir); err != nil {
			return
		}
		if err := w.reloader.ReloadLocal(dir); err != nil {
			w.log.Error("failed to reload local plugin", zap.String("path", dir), zap.Error(err))
		}
	})
}
