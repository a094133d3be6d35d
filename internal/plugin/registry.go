package plugin

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"sync"

	"github.com/nerrad567/probebench/internal/driver"
)

// Source values for Descriptor.Source.
const (
	SourceBuiltin  = "builtin"
	SourceManifest = "manifest"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Registry.
type Config struct {
	// Dir is the plugin manifest directory. Empty disables manifests.
	Dir string

	// SkipBuiltins stops registered factories from loading under their own
	// names; only manifests then add drivers.
	SkipBuiltins bool

	// Instance is applied to every driver instance created. Its
	// OnTransition is replaced by the registry's dispatcher.
	Instance driver.Config

	// Defaults are merged under every driver's options; keys set by a
	// manifest win.
	Defaults Options

	// Factories overrides the global Register table when non-nil.
	Factories map[string]Factory
}

// LoadReport summarizes one discovery run.
type LoadReport struct {
	Loaded  []string           `json:"loaded"`
	Reused  []string           `json:"reused"`
	Removed []string           `json:"removed"`
	Failed  []*PluginLoadError `json:"failed"`
}

// Descriptor describes one loaded driver.
type Descriptor struct {
	Name     string              `json:"name"`
	Factory  string              `json:"factory"`
	Source   string              `json:"source"`
	Path     string              `json:"path,omitempty"`
	Commands map[string]string   `json:"supported_commands"`
	State    driver.State        `json:"state"`
	Streams  []driver.StreamInfo `json:"streams"`
}

type entry struct {
	instance    *driver.Instance
	factory     string
	source      string
	path        string
	fingerprint string
}

type plan struct {
	factory string
	options Options
	source  string
	path    string
}

// Registry holds the loaded driver instances.
type Registry struct {
	cfg    Config
	logger Logger

	discoverMu sync.Mutex

	mu       sync.RWMutex
	entries  map[string]*entry
	commands map[string]map[string]string

	hooksMu      sync.RWMutex
	onReload     []func(*LoadReport)
	onTransition []func(driver.Transition)
}

// NewRegistry creates an empty registry. Call Discover to load drivers.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		cfg:      cfg,
		logger:   noopLogger{},
		entries:  make(map[string]*entry),
		commands: make(map[string]map[string]string),
	}
	r.cfg.Instance.OnTransition = r.dispatchTransition
	return r
}

// SetLogger sets the logger for the registry and the instances it creates.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Dir returns the manifest directory.
func (r *Registry) Dir() string {
	return r.cfg.Dir
}

// OnReload adds a callback run after every Discover.
func (r *Registry) OnReload(fn func(*LoadReport)) {
	r.hooksMu.Lock()
	r.onReload = append(r.onReload, fn)
	r.hooksMu.Unlock()
}

// OnTransition adds a callback receiving every instance's transitions.
func (r *Registry) OnTransition(fn func(driver.Transition)) {
	r.hooksMu.Lock()
	r.onTransition = append(r.onTransition, fn)
	r.hooksMu.Unlock()
}

func (r *Registry) dispatchTransition(t driver.Transition) {
	r.hooksMu.RLock()
	callbacks := r.onTransition
	r.hooksMu.RUnlock()
	for _, fn := range callbacks {
		fn(t)
	}
}

// Discover (re)loads the driver set from registered factories and the
// manifest directory. Individual plugin failures are in the report; the
// error is only for an unreadable directory, in which case nothing changes.
func (r *Registry) Discover(_ context.Context) (*LoadReport, error) {
	r.discoverMu.Lock()
	defer r.discoverMu.Unlock()

	manifests, failures, err := LoadManifests(r.cfg.Dir)
	if err != nil {
		return nil, err
	}

	table := r.cfg.Factories
	if table == nil {
		table = registeredFactories()
	}

	plans := make(map[string]plan)
	if !r.cfg.SkipBuiltins {
		for name := range table {
			if isTemplate(name) {
				continue
			}
			plans[name] = plan{factory: name, source: SourceBuiltin}
		}
	}
	for _, m := range manifests {
		if !m.IsEnabled() {
			delete(plans, m.Name)
			continue
		}
		plans[m.Name] = plan{factory: m.FactoryName(), options: m.Options, source: SourceManifest, path: m.Path}
	}
	for name, p := range plans {
		p.options = withDefaults(p.options, r.cfg.Defaults)
		plans[name] = p
	}

	r.mu.RLock()
	old := r.entries
	r.mu.RUnlock()

	report := &LoadReport{Failed: failures}
	entries := make(map[string]*entry, len(plans))
	commands := make(map[string]map[string]string, len(plans))

	for _, name := range sortedKeys(plans) {
		p := plans[name]
		fp := fingerprint(p)

		if prev, ok := old[name]; ok && prev.fingerprint == fp {
			entries[name] = prev
			commands[name] = prev.instance.SupportedCommands()
			report.Reused = append(report.Reused, name)
			continue
		}

		f, ok := table[p.factory]
		if !ok {
			report.Failed = append(report.Failed, &PluginLoadError{Name: name, Path: p.path, Err: ErrUnknownFactory})
			continue
		}
		hooks, err := build(f, p.options)
		if err != nil {
			report.Failed = append(report.Failed, &PluginLoadError{Name: name, Path: p.path, Err: err})
			continue
		}

		inst := driver.New(name, hooks, r.cfg.Instance)
		inst.SetLogger(r.logger)
		entries[name] = &entry{instance: inst, factory: p.factory, source: p.source, path: p.path, fingerprint: fp}
		commands[name] = inst.SupportedCommands()
		report.Loaded = append(report.Loaded, name)
	}

	for name := range old {
		if _, kept := entries[name]; !kept {
			report.Removed = append(report.Removed, name)
		}
	}
	sort.Strings(report.Removed)

	r.mu.Lock()
	r.entries = entries
	r.commands = commands
	r.mu.Unlock()

	for _, f := range report.Failed {
		r.logger.Warn("plugin skipped", "name", f.Name, "path", f.Path, "error", f.Err)
	}
	r.logger.Info("plugins discovered",
		"loaded", len(report.Loaded),
		"reused", len(report.Reused),
		"removed", len(report.Removed),
		"failed", len(report.Failed),
	)

	r.hooksMu.RLock()
	callbacks := r.onReload
	r.hooksMu.RUnlock()
	for _, fn := range callbacks {
		fn(report)
	}
	return report, nil
}

// ListDrivers returns the loaded driver names, sorted.
func (r *Registry) ListDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.entries)
}

// GetDriverInstance returns the instance loaded under name.
func (r *Registry) GetDriverInstance(name string) (*driver.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.instance, true
}

// GetSupportedCommands returns a copy of the command table for name, or
// nil if no such driver is loaded.
func (r *Registry) GetSupportedCommands(name string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds, ok := r.commands[name]
	if !ok {
		return nil
	}
	return maps.Clone(cmds)
}

// Instances returns a snapshot of name to instance.
func (r *Registry) Instances() map[string]*driver.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*driver.Instance, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.instance
	}
	return out
}

// Describe returns the descriptor of a loaded driver.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{
		Name:     name,
		Factory:  e.factory,
		Source:   e.source,
		Path:     e.path,
		Commands: e.instance.SupportedCommands(),
		State:    e.instance.State(),
		Streams:  e.instance.Streams(),
	}, true
}

// withDefaults returns opts with any missing keys filled from defaults.
func withDefaults(opts, defaults Options) Options {
	if len(defaults) == 0 {
		return opts
	}
	merged := make(Options, len(opts)+len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range opts {
		merged[k] = v
	}
	return merged
}

func fingerprint(p plan) string {
	opts, err := json.Marshal(p.options)
	if err != nil {
		// Unencodable options never match, forcing a rebuild.
		return ""
	}
	return p.factory + "\x00" + string(opts)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
