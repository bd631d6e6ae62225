package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrConfigExists = errors.New("config: file already exists")

// WriteDefault installs the defaults payload as brook.toml under dir. An
// existing file is kept unless force is set.
func WriteDefault(dir string, defaultsPayload []byte, force bool) (string, error) {
	path := filepath.Join(dir, FileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !os.IsNotExist(err) {
			return path, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return path, err
	}
	if err := os.WriteFile(path, defaultsPayload, 0o644); err != nil {
		return path, fmt.Errorf("config: write %s: %w", path, err)
	}
	return path, nil
}
