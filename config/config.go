// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Engine configuration (spec.md §1, §6). Grounded on cmd/mkdrivedb's
// DriveDb struct-with-yaml-tags pattern: a plain struct decoded from a
// human-edited YAML file, not a flag-driven or env-driven scheme.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// PCIIdentity mirrors transport.Identity's fields so config stays
// independent of the transport package's types.
type PCIIdentity struct {
	VendorID  uint16 `yaml:"vendor_id"`
	DeviceID  uint16 `yaml:"device_id"`
	ClassCode [3]byte `yaml:"class_code"`
	BARSize   uint32 `yaml:"bar_size"`
}

// Persistence selects and configures a persist.Adapter backend. Backend is
// "file" (the default, using Path) or "kv" (using Name).
type Persistence struct {
	Backend string `yaml:"backend"` // "file" or "kv"
	Path    string `yaml:"path,omitempty"`
	Name    string `yaml:"name,omitempty"` // object name for a KV backend
}

// Config is the engine's complete set of tunables (spec.md §3 invariant 6
// quotas, plus the PCI identity and persistence backend spec.md §6
// names).
type Config struct {
	MaxStorage  int         `yaml:"max_storage"`
	MaxSize     int         `yaml:"max_size"`
	PCI         PCIIdentity `yaml:"pci"`
	Persistence Persistence `yaml:"persistence"`
}

// Default returns the spec.md §3 invariant 6 defaults plus a conventional
// PCI identity and a local file-backed persistence adapter.
func Default() Config {
	return Config{
		MaxStorage: 64 * 1024,
		MaxSize:    32 * 1024,
		PCI: PCIIdentity{
			VendorID:  0x1af4, // virtio vendor ID, reused for the synthetic function
			DeviceID:  0x1057,
			ClassCode: [3]byte{0x00, 0x80, 0x05}, // config-space order 0x09..0x0B: prog IF 0, subclass 0x80 (other), base class 0x05 (memory controller)
			BARSize:   64 * 1024,
		},
		Persistence: Persistence{
			Backend: "file",
			Path:    "/var/lib/varstored/snapshot",
		},
	}
}

// Load reads and parses a YAML config file at path, defaulting any field
// left zero by the file to Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.MaxStorage <= 0 {
		cfg.MaxStorage = Default().MaxStorage
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = Default().MaxSize
	}
	return cfg, nil
}
