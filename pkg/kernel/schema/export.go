package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateScriptJSONSchema produces a JSON Schema Draft 2020-12 document
// from the atscript/v0 Script Go types.
func GenerateScriptJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Script{})
	s.ID = "https://github.com/ormasoftchile/atrun/schemas/atscript-v0.json"
	s.Title = "AT Script (atscript/v0)"
	s.Description = "Schema for atscript/v0 script YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal script schema: %w", err)
	}
	return data, nil
}
