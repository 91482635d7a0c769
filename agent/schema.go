// ABOUTME: Derives a tool's JSON Schema parameters from a Go struct's tags, for tools that
// ABOUTME: would rather describe their arguments as a type than hand-write raw JSON Schema.

package agent

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/swarmsdk/swarmsdk/llm"
)

// DefinitionFromStruct builds an llm.ToolDefinition whose Parameters schema
// is derived from T's exported fields and their `json`/`jsonschema` struct
// tags. Hand-written json.RawMessage schemas remain equally valid — the
// built-in WorkWith<Target> delegation tool uses those instead, since its
// schema is small and fixed.
func DefinitionFromStruct[T any](name, description string) (llm.ToolDefinition, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return llm.ToolDefinition{}, fmt.Errorf("derive schema for tool %q: %w", name, err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return llm.ToolDefinition{}, fmt.Errorf("marshal schema for tool %q: %w", name, err)
	}
	return llm.ToolDefinition{Name: name, Description: description, Parameters: raw}, nil
}
