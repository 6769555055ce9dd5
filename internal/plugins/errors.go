package plugins

import (
	"errors"
	"fmt"
)

var (
	ErrManifestNotFound = errors.New("manifest not found")
	ErrMissingClassName = errors.New("manifest missing pluginClassName")
	ErrSourceNotFound   = errors.New("no plugin source file found")
	ErrConversionFailed = errors.New("plugin conversion failed")
	ErrNotBasePlugin    = errors.New("entry class is not a BasePlugin")
	ErrUnsafeEntry      = errors.New("archive entry escapes target directory")
	ErrIncompatibleAPI  = errors.New("incompatible plugin API version")
	ErrUnitClosed       = errors.New("plugin unit is closed")
	ErrNoSettings       = errors.New("plugin has no settings")
)

// PluginError represents an error that occurred in a plugin.
type PluginError struct {
	Plugin  string
	Op      string
	Err     error
	IsPanic bool
}

func (e *PluginError) Error() string {
	if e.IsPanic {
		return fmt.Sprintf("plugin %s: %s: panic: %v", e.Plugin, e.Op, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Op, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// recoverPluginPanic converts a panic raised by plugin code into a
// PluginError stored in *err.
func recoverPluginPanic(plugin, op string, err *error) {
	if r := recover(); r != nil {
		cause, ok := r.(error)
		if !ok {
			cause = fmt.Errorf("%v", r)
		}
		*err = &PluginError{Plugin: plugin, Op: op, Err: cause, IsPanic: true}
	}
}
