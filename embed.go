package brook

import "embed"

// EmbeddedConfigFS provides the default project configuration.
//
//go:embed config
var EmbeddedConfigFS embed.FS

// DefaultConfigPath is the location of the defaults inside EmbeddedConfigFS.
const DefaultConfigPath = "config/brook.toml"
