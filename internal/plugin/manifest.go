package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name Discover looks for.
const ManifestFile = "waveform.yaml"

const defaultExport = "generate"

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Manifest describes a waveform plugin package.
type Manifest struct {
	Metadata Metadata    `yaml:"metadata"`
	Runtime  RuntimeSpec `yaml:"runtime"`

	// Dir is the directory the manifest was loaded from. Relative module paths resolve against it.
	Dir string `yaml:"-"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags,omitempty"`
}

type RuntimeSpec struct {
	Mode   string `yaml:"mode"`
	Module string `yaml:"module"`
	Export string `yaml:"export"`
}

// Load reads a manifest from disk and fills in defaults.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Runtime.Export == "" {
		m.Runtime.Export = defaultExport
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// ModulePath returns the absolute or manifest-relative path of the wasm module.
func (m Manifest) ModulePath() string {
	if filepath.IsAbs(m.Runtime.Module) || m.Dir == "" {
		return m.Runtime.Module
	}
	return filepath.Join(m.Dir, m.Runtime.Module)
}

// Validate ensures the manifest names a loadable wasm generator.
func Validate(m Manifest) error {
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if !namePattern.MatchString(m.Metadata.Name) {
		return fmt.Errorf("metadata.name %q must be lowercase letters, digits, '-' or '_'", m.Metadata.Name)
	}
	if m.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is required")
	}
	switch m.Runtime.Mode {
	case "":
		return fmt.Errorf("runtime.mode is required")
	case "wasm":
		if m.Runtime.Module == "" {
			return fmt.Errorf("runtime.module is required for wasm")
		}
	default:
		return fmt.Errorf("runtime.mode %q not supported", m.Runtime.Mode)
	}
	return nil
}
