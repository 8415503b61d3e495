package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildMetadataJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. Additional keys are tolerated; the backend is not guaranteed
// to stick to the requested shape, and unknown keys are simply ignored
// downstream.
func BuildMetadataJSONSchema() map[string]any {
	author := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"lastName":     stringOrNull(),
			"firstName":    stringOrNull(),
			"denomination": stringOrNull(),
		},
	}
	tag := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag": map[string]any{"type": "string", "minLength": 3, "pattern": `^\./.+$`},
		},
		"required": []string{"tag"},
	}

	props := map[string]any{
		"title":        stringOrNull(),
		"authors":      arrayOrNull(author),
		"reportNumber": stringOrNull(),
		"institution":  stringOrNull(),
		"place":        stringOrNull(),
		"date": map[string]any{
			"type":    []string{"string", "null"},
			"pattern": `^\d{2}/\d{2}/\d{4}$`,
		},
		"language": stringOrNull(),
		"tags":     arrayOrNull(tag),
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

func stringOrNull() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

func arrayOrNull(items map[string]any) map[string]any {
	return map[string]any{
		"type":  []string{"array", "null"},
		"items": items,
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
