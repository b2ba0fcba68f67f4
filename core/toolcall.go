package core

import (
	"fmt"
	"sort"
)

// ParamAttrs describes a single schema parameter.
type ParamAttrs struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// ToolCall is the input/output schema carried by tool ops. InputSchema maps
// argument names to their attributes; OutputSchema defaults to a single
// string output named "{short_name}_result". Index disambiguates multiple
// instances of the same op in one flow by appending "_{index}" to context
// keys.
type ToolCall struct {
	Name         string                `json:"name" yaml:"name"`
	Description  string                `json:"description" yaml:"description"`
	InputSchema  map[string]ParamAttrs `json:"input_schema" yaml:"input_schema"`
	OutputSchema map[string]ParamAttrs `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Index        int                   `json:"index,omitempty" yaml:"index,omitempty"`
}

// EnsureDefaults fills the name, index and the default output schema.
func (t *ToolCall) EnsureDefaults(shortName string, index int) {
	if t.Name == "" {
		t.Name = shortName
	}
	t.Index = index
	if t.InputSchema == nil {
		t.InputSchema = map[string]ParamAttrs{}
	}
	if len(t.OutputSchema) == 0 {
		t.OutputSchema = map[string]ParamAttrs{
			shortName + "_result": {
				Type:        "str",
				Description: fmt.Sprintf("The execution result of the %s.", shortName),
			},
		}
	}
}

// InputKeys returns the input schema keys in deterministic order.
func (t *ToolCall) InputKeys() []string {
	return sortedKeys(t.InputSchema)
}

// OutputKeys returns the output schema keys in deterministic order.
func (t *ToolCall) OutputKeys() []string {
	return sortedKeys(t.OutputSchema)
}

func sortedKeys(m map[string]ParamAttrs) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// jsonType maps the compact schema type vocabulary to JSON Schema types.
func jsonType(t string) string {
	switch t {
	case "str", "string", "":
		return "string"
	case "int", "integer":
		return "integer"
	case "float", "number":
		return "number"
	case "bool", "boolean":
		return "boolean"
	case "list", "array":
		return "array"
	case "dict", "object":
		return "object"
	default:
		return "string"
	}
}

// JSONSchema renders a parameter map as a JSON Schema object. strict
// controls additionalProperties: MCP-mode validation forbids unknown
// fields, HTTP mode passes them through.
func JSONSchema(params map[string]ParamAttrs, strict bool) map[string]any {
	properties := map[string]any{}
	required := []string{}
	for _, name := range sortedKeys(params) {
		attrs := params[name]
		prop := map[string]any{"type": jsonType(attrs.Type)}
		if attrs.Description != "" {
			prop["description"] = attrs.Description
		}
		if attrs.Default != nil {
			prop["default"] = attrs.Default
		}
		properties[name] = prop
		if attrs.Required {
			required = append(required, name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	if strict {
		schema["additionalProperties"] = false
	}
	return schema
}
