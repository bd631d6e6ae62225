package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPageData decodes the YAML page data file. A missing file yields empty
// data.
func (c Config) LoadPageData() (map[string]any, error) {
	data := map[string]any{}
	if c.Pages.DataFile == "" {
		return data, nil
	}
	path := c.Path(c.Pages.DataFile)
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, fmt.Errorf("config: read page data: %w", err)
	}
	if err := yaml.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("config: decode page data %s: %w", path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
