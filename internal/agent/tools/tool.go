// Package tools manages the tool surface exposed to language models:
// definitions, JSON Schema inference and validation, and a registry the
// agent loop dispatches through.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/uagent/pkg/models"
)

// Handler executes a tool call. The returned value is stringified for the
// model: strings pass through, anything else is JSON-encoded.
type Handler = models.ToolHandler

// Tool is a callable tool with a JSON Schema describing its input.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
}

// NewTool builds a tool whose input schema is inferred from a sample input
// value, typically a struct with json tags.
func NewTool(name, description string, in any, fn Handler) (*Tool, error) {
	schema, err := InferSchema(in)
	if err != nil {
		return nil, fmt.Errorf("infer schema for tool %q: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Handler:     fn,
	}, nil
}

// Definition converts the tool into the wire-level definition providers
// consume.
func (t *Tool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
		Handler:     t.Handler,
	}
}

// Call validates the input against the tool's schema and runs the handler.
func (t *Tool) Call(ctx context.Context, input map[string]any) (any, error) {
	if t.Handler == nil {
		return nil, fmt.Errorf("tool %q has no handler", t.Name)
	}
	if err := t.Validate(input); err != nil {
		return nil, err
	}
	return t.Handler(ctx, input)
}

// Validate checks the input against the tool's compiled schema. A tool
// without a schema accepts any input.
func (t *Tool) Validate(input map[string]any) error {
	if len(t.InputSchema) == 0 {
		return nil
	}

	t.compileOnce.Do(func() {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			t.compileErr = err
			return
		}
		t.compiled, t.compileErr = jsonschema.CompileString(t.Name+".json", string(raw))
	})
	if t.compileErr != nil {
		return &ToolValidationError{Tool: t.Name, Cause: t.compileErr}
	}

	// Round-trip through JSON so typed values (int, custom types) compare
	// the way the validator expects.
	raw, err := json.Marshal(input)
	if err != nil {
		return &ToolValidationError{Tool: t.Name, Cause: err}
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &ToolValidationError{Tool: t.Name, Cause: err}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := t.compiled.Validate(payload); err != nil {
		return &ToolValidationError{Tool: t.Name, Cause: err}
	}
	return nil
}

// InferSchema derives a JSON Schema from a sample input value. Struct
// fields map through their json tags; fields tagged omitempty are
// optional, the rest are required.
func InferSchema(sample any) (map[string]any, error) {
	if sample == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}

	r := &invopop.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(sample)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}
