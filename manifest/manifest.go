// Package manifest handles perch.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/perch/vm"
)

// FileName is the manifest file the CLI looks for next to a script.
const FileName = "perch.toml"

// Manifest represents a perch.toml runtime configuration. Every section is
// optional; zero values fall back to the VM defaults.
type Manifest struct {
	VM    VMSection    `toml:"vm"`
	GC    GCSection    `toml:"gc"`
	Trace TraceSection `toml:"trace"`

	// Dir is the directory containing the perch.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMSection configures interpreter limits.
type VMSection struct {
	StackSize int `toml:"stack-size"`
	MaxFrames int `toml:"max-frames"`
}

// GCSection configures the collector.
type GCSection struct {
	Stress       bool `toml:"stress"`
	Log          bool `toml:"log"`
	GrowthFactor int  `toml:"growth-factor"`
}

// TraceSection configures execution diagnostics.
type TraceSection struct {
	Execution bool `toml:"execution"`
}

// Default returns a manifest holding the stock configuration.
func Default() *Manifest {
	return &Manifest{}
}

// Load parses a perch.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a perch.toml file, then loads
// and returns the manifest. Returns the defaults if none is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// Config maps the manifest onto a VM configuration, leaving unset fields to
// the VM's own defaults.
func (m *Manifest) Config() vm.Config {
	config := vm.DefaultConfig()
	if m.VM.StackSize > 0 {
		config.StackSize = m.VM.StackSize
	}
	if m.VM.MaxFrames > 0 {
		config.MaxFrames = m.VM.MaxFrames
	}
	config.GCStress = m.GC.Stress
	config.GCLog = m.GC.Log
	if m.GC.GrowthFactor > 0 {
		config.GCGrowthFactor = m.GC.GrowthFactor
	}
	config.TraceExecution = m.Trace.Execution
	return config
}
