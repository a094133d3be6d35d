package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownFactory is returned when a manifest names a factory that
	// was never registered.
	ErrUnknownFactory = errors.New("plugin: unknown factory")

	// ErrInvalidManifest is returned for a manifest that cannot be used.
	ErrInvalidManifest = errors.New("plugin: invalid manifest")

	// ErrDuplicateDriver is returned when two manifests claim one name.
	ErrDuplicateDriver = errors.New("plugin: duplicate driver name")

	// ErrNilHooks is returned when a factory returns no implementation.
	ErrNilHooks = errors.New("plugin: factory returned nil hooks")

	// ErrFactoryPanic wraps a recovered panic from a factory.
	ErrFactoryPanic = errors.New("plugin: factory panicked")
)

// PluginLoadError reports one plugin that could not be loaded.
type PluginLoadError struct {
	Name string
	Path string
	Err  error
}

func (e *PluginLoadError) Error() string {
	switch {
	case e.Name != "" && e.Path != "":
		return fmt.Sprintf("plugin %s (%s): %v", e.Name, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("plugin %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("plugin %s: %v", e.Name, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *PluginLoadError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error for load reports.
func (e *PluginLoadError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name,omitempty"`
		Path  string `json:"path,omitempty"`
		Error string `json:"error"`
	}{e.Name, e.Path, e.Err.Error()})
}
