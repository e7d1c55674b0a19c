// Package jsonschemautil converts invopop/jsonschema.Schema values into the
// plain map[string]any shape llmclient.Request.Schema and the provider
// adapters (OpenAI response_format, Anthropic tool input_schema) expect.
package jsonschemautil

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// AsMap round-trips s through JSON to get a generic map representation.
func AsMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("jsonschemautil: marshaling schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("jsonschemautil: unmarshaling schema: %w", err)
	}
	return m, nil
}
