package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema describes brook.toml as JSON Schema.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	s := reflector.Reflect(&Config{})
	if s.Version == "" {
		s.Version = jsonschema.Version
	}
	s.Title = "brook.toml"
	return s
}

// SchemaJSON returns the indented schema document.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
