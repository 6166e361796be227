package models

import "context"

// ToolHandler executes a tool invocation. The returned value is stringified
// for the model: strings pass through, anything else is JSON-encoded.
type ToolHandler func(ctx context.Context, input map[string]any) (any, error)

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Handler     ToolHandler    `json:"-"`
}
