package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/probebench/internal/driver"
)

// Options are the free-form settings a manifest passes to its factory.
type Options map[string]any

// Factory builds a driver implementation from options.
type Factory func(opts Options) (driver.Hooks, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
	templates   = make(map[string]bool)
)

// Register makes a driver factory available under name. It is meant to be
// called from init and panics if name is taken or f is nil.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if f == nil {
		panic("plugin: Register factory is nil for " + name)
	}
	if _, dup := factories[name]; dup {
		panic("plugin: Register called twice for " + name)
	}
	factories[name] = f
}

// RegisterTemplate registers a factory that has no usable defaults. It is
// only instantiated by manifests, never under its own name.
func RegisterTemplate(name string, f Factory) {
	Register(name, f)

	factoriesMu.Lock()
	templates[name] = true
	factoriesMu.Unlock()
}

func isTemplate(name string) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return templates[name]
}

// Factories returns the registered factory names, sorted.
func Factories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func registeredFactories() map[string]Factory {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	out := make(map[string]Factory, len(factories))
	for k, v := range factories {
		out[k] = v
	}
	return out
}

// String returns the string option key, or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer option key, or def. YAML and JSON numbers of any
// width are accepted.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v) //nolint:gosec // Option values are small
	case float64:
		return int(v)
	}
	return def
}

// Float returns the numeric option key, or def.
func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Strings returns the list option key, or nil. Non-string items are
// formatted with %v so numeric YAML arguments survive.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Bool returns the boolean option key, or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Duration returns the option key parsed as a duration ("250ms"), or def.
// Bare numbers are read as milliseconds.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	switch v := o[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int, int64, float64:
		return time.Duration(o.Float(key, 0) * float64(time.Millisecond))
	}
	return def
}

// build calls f, turning panics and nil results into errors.
func build(f Factory, opts Options) (hooks driver.Hooks, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFactoryPanic, r)
		}
	}()
	hooks, err = f(opts)
	if err == nil && hooks == nil {
		err = ErrNilHooks
	}
	return hooks, err
}
