package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const configHeader = `# coapfs Configuration File
#
# Values here are overridden by COAPFS_* environment variables
# (e.g. COAPFS_SERVER_PORT=5684) and by command-line flags.
# resources.root must be set here, in COAPFS_RESOURCES_ROOT,
# or as the positional argument of coapfs.

`

// InitConfig writes a configuration file populated with defaults.
//
// Parameters:
//   - path: Destination file (empty string uses GetDefaultConfigPath)
//   - force: Overwrite an existing file
//
// Returns:
//   - string: The path written
//   - error: If the file exists and force is false, or on I/O failure
func InitConfig(path string, force bool) (string, error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}

	data, err := MarshalYAML(GetDefaultConfig())
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return path, nil
}

// MarshalYAML renders cfg as YAML using the same keys Load reads.
//
// The struct is first flattened into maps keyed by the mapstructure tags so
// that one set of tags drives both directions.
func MarshalYAML(cfg *Config) ([]byte, error) {
	var tree map[string]any
	if err := mapstructure.Decode(cfg, &tree); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	return buf.Bytes(), nil
}
