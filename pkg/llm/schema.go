package llm

import (
	"encoding/json"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor returns the JSON schema of T, indented for inclusion in a prompt.
func SchemaFor[T any]() (string, error) {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return "", err
	}
	buf, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// WithSchema appends to prompt the instruction to answer with one JSON
// object matching the schema of T. The prompt is returned unchanged when
// no schema can be derived.
func WithSchema[T any](prompt string) string {
	schema, err := SchemaFor[T]()
	if err != nil {
		slog.Debug("No response schema for prompt", "error", err)
		return prompt
	}
	return prompt + "\n\nRespond with a single JSON object matching this JSON schema:\n" + schema
}
