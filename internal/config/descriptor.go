package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Descriptor is the top-level bridges file: which bridges to run and
// where their per-bridge configs live.
type Descriptor struct {
	SchemaVersion string      `yaml:"schema_version"`
	DataDir       string      `yaml:"data_dir"`
	Bridges       []BridgeRef `yaml:"bridges"`
}

type BridgeRef struct {
	ID     string `yaml:"id"`
	Config string `yaml:"config"`
}

// LoadDescriptor parses a bridges YAML, validates schema_version, and
// resolves relative per-bridge config paths against the descriptor's
// directory.
func LoadDescriptor(path string) (Descriptor, error) {
	var d Descriptor
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return d, err
	}
	if d.SchemaVersion == "" {
		d.SchemaVersion = supportedSchema
	}
	if d.SchemaVersion != supportedSchema {
		return d, fmt.Errorf("bridges schema_version %q not supported (want %s)", d.SchemaVersion, supportedSchema)
	}
	for i := range d.Bridges {
		if d.Bridges[i].ID == "" {
			return d, fmt.Errorf("bridge %d: id is required", i)
		}
		if cp := d.Bridges[i].Config; cp != "" && !filepath.IsAbs(cp) {
			d.Bridges[i].Config = filepath.Join(filepath.Dir(path), cp)
		}
	}
	if d.DataDir == "" {
		d.DataDir = "data"
	}
	return d, nil
}
