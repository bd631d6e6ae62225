package config

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"brook"
)

// DefaultPayload returns the embedded default configuration file.
func DefaultPayload() ([]byte, error) {
	payload, err := fs.ReadFile(brook.EmbeddedConfigFS, brook.DefaultConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config: read embedded defaults: %w", err)
	}
	return payload, nil
}

// LoadProject loads the configuration of the project in root: the embedded
// defaults, then root/brook.toml (or path when set), then overrides.
func LoadProject(root, path string, overrides map[string]any) (Config, error) {
	defaults, err := DefaultPayload()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		path = FileName
	}
	cfg, err := Load(resolve(root, path), defaults, overrides)
	if err != nil {
		return Config{}, err
	}
	cfg.Root = root
	return cfg, nil
}

// LoadProjectFlat returns the merged flattened values LoadProject decodes.
func LoadProjectFlat(root, path string, overrides map[string]any) (map[string]any, error) {
	defaults, err := DefaultPayload()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = FileName
	}
	return LoadFlat(resolve(root, path), defaults, overrides)
}

func resolve(root, path string) string {
	if root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
