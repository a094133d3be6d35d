package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/probebench/internal/device"
)

// Manifest is one plugin directory entry.
type Manifest struct {
	// Name is the driver name the instance is registered under.
	Name string `yaml:"name"`

	// Factory is the registered factory to build from. Defaults to Name.
	Factory string `yaml:"factory"`

	// Enabled defaults to true; false removes the driver Name.
	Enabled *bool `yaml:"enabled"`

	Options Options `yaml:"options"`

	// Path is the file the manifest was read from.
	Path string `yaml:"-"`
}

// IsEnabled reports whether the manifest adds a driver.
func (m Manifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// FactoryName returns the factory to build from.
func (m Manifest) FactoryName() string {
	if m.Factory == "" {
		return m.Name
	}
	return m.Factory
}

func isManifestFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// ParseManifest reads one manifest file.
func ParseManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is inside the configured plugin directory
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m.Path = path

	if m.Name == "" {
		return m, fmt.Errorf("%w: name is required", ErrInvalidManifest)
	}
	if err := device.ValidateID(m.Name); err != nil {
		return m, fmt.Errorf("%w: name: %v", ErrInvalidManifest, err)
	}
	return m, nil
}

// LoadManifests reads every manifest in dir in file name order. A missing
// directory yields no manifests. Unusable files are returned as load errors
// alongside the good manifests; the error return is for an unreadable
// directory only.
func LoadManifests(dir string) ([]Manifest, []*PluginLoadError, error) {
	if dir == "" {
		return nil, nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading plugin directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isManifestFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		manifests []Manifest
		failures  []*PluginLoadError
		seen      = make(map[string]string)
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		m, err := ParseManifest(path)
		if err != nil {
			failures = append(failures, &PluginLoadError{Name: m.Name, Path: path, Err: err})
			continue
		}
		if prev, dup := seen[m.Name]; dup {
			failures = append(failures, &PluginLoadError{
				Name: m.Name,
				Path: path,
				Err:  fmt.Errorf("%w: also declared in %s", ErrDuplicateDriver, prev),
			})
			continue
		}
		seen[m.Name] = path
		manifests = append(manifests, m)
	}
	return manifests, failures, nil
}
