package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema produces the JSON Schema for the Config struct. Exposed by
// the `coda schema` command for editor integration and documentation.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})
	schema.Title = "coda configuration"
	schema.Description = "Runtime configuration for the coda coding agent, read from CODA_* environment variables."
	return json.MarshalIndent(schema, "", "  ")
}
