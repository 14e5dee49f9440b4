package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for registry files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported registry format")

// LoadFile reads a registry snapshot from path. The format is chosen by file
// extension: .yaml/.yml, .json or .toml.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	snap, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}
	return New(snap), nil
}

// Parse decodes a registry snapshot in the given format ("yaml", "yml",
// "json" or "toml").
func Parse(data []byte, format string) (Snapshot, error) {
	var snap Snapshot
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, err
		}
	case "json":
		if err := json.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, err
		}
	case "toml":
		if err := toml.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, err
		}
	default:
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return snap, nil
}
