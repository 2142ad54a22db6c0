package tools

import (
	"encoding/json"
	"fmt"

	"ratchet/internal/types"
)

// Argument extraction helpers. LLM-provided inputs arrive as loosely typed
// JSON; every accessor tolerates absence and wrong types.

func stringArg(input map[string]interface{}, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(input map[string]interface{}, key string) bool {
	if v, ok := input[key].(bool); ok {
		return v
	}
	return false
}

// intArg reads a number argument. JSON numbers decode as float64.
func intArg(input map[string]interface{}, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func stringSliceArg(input map[string]interface{}, key string) []string {
	raw, ok := input[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func missingArg(call types.ToolCall, key string) types.ToolResult {
	return types.ToolResult{
		Success: false,
		Error:   fmt.Sprintf("%s: required argument %q missing or empty", call.Name, key),
	}
}

func failure(err error) types.ToolResult {
	return types.ToolResult{Success: false, Error: err.Error()}
}

// jsonResult renders a success payload as a JSON document.
func jsonResult(payload interface{}) types.ToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return failure(fmt.Errorf("failed to render result: %w", err))
	}
	return types.ToolResult{Success: true, Output: string(data)}
}

// objectSchema builds a JSON Schema for an object with the given properties.
func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func stringArrayProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": description,
	}
}
