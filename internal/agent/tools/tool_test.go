package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type weatherInput struct {
	City  string `json:"city"`
	Units string `json:"units,omitempty"`
}

func weatherTool(t *testing.T) *Tool {
	t.Helper()
	tool, err := NewTool("get_weather", "Look up current weather", weatherInput{},
		func(ctx context.Context, input map[string]any) (any, error) {
			return "sunny in " + input["city"].(string), nil
		})
	if err != nil {
		t.Fatalf("NewTool: %v", err)
	}
	return tool
}

func TestInferSchemaFromStruct(t *testing.T) {
	schema, err := InferSchema(weatherInput{})
	if err != nil {
		t.Fatalf("InferSchema: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("type = %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties = %#v", schema["properties"])
	}
	if _, ok := props["city"]; !ok {
		t.Error("missing city property")
	}
	if _, ok := props["units"]; !ok {
		t.Error("missing units property")
	}

	required, _ := schema["required"].([]any)
	var names []string
	for _, r := range required {
		names = append(names, r.(string))
	}
	if strings.Join(names, ",") != "city" {
		t.Errorf("required = %v, omitempty fields must be optional", names)
	}
}

func TestToolCallValidatesInput(t *testing.T) {
	tool := weatherTool(t)

	out, err := tool.Call(context.Background(), map[string]any{"city": "Paris"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != "sunny in Paris" {
		t.Errorf("out = %v", out)
	}

	_, err = tool.Call(context.Background(), map[string]any{"city": 42})
	if err == nil {
		t.Fatal("expected validation error for wrong type")
	}
	var verr *ToolValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ToolValidationError, got %T: %v", err, err)
	}

	_, err = tool.Call(context.Background(), map[string]any{})
	if !errors.As(err, &verr) {
		t.Fatalf("missing required field should fail validation, got %v", err)
	}
}

func TestToolWithoutSchemaAcceptsAnything(t *testing.T) {
	tool := &Tool{
		Name: "echo",
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			return input, nil
		},
	}
	if _, err := tool.Call(context.Background(), map[string]any{"anything": true}); err != nil {
		t.Fatalf("call: %v", err)
	}
}

func TestToolNilHandler(t *testing.T) {
	tool := &Tool{Name: "stub"}
	if _, err := tool.Call(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	reg.Register(weatherTool(t))
	reg.Register(&Tool{Name: "echo"})

	if reg.Len() != 2 {
		t.Fatalf("len = %d", reg.Len())
	}
	if got := reg.List(); len(got) != 2 || got[0] != "echo" || got[1] != "get_weather" {
		t.Errorf("list = %v", got)
	}
	if !reg.Has("get_weather") {
		t.Error("missing get_weather")
	}

	// Re-registering replaces.
	reg.Register(&Tool{Name: "echo", Description: "v2"})
	tool, err := reg.Get("echo")
	if err != nil {
		t.Fatal(err)
	}
	if tool.Description != "v2" {
		t.Errorf("description = %q, re-register should replace", tool.Description)
	}

	defs := reg.Definitions()
	if len(defs) != 2 || defs[1].Name != "get_weather" {
		t.Errorf("definitions = %+v", defs)
	}

	if !reg.Unregister("echo") {
		t.Error("unregister returned false for existing tool")
	}
	if reg.Unregister("echo") {
		t.Error("unregister returned true for missing tool")
	}

	_, err = reg.Get("echo")
	var notFound *ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ToolNotFoundError, got %T", err)
	}

	reg.Clear()
	if reg.Len() != 0 {
		t.Errorf("len after clear = %d", reg.Len())
	}
}
