package tools

import "fmt"

// ToolNotFoundError is returned when a tool name is not registered.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// ToolValidationError is returned when a tool input fails schema validation.
type ToolValidationError struct {
	Tool  string
	Cause error
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("invalid input for tool %q: %v", e.Tool, e.Cause)
}

func (e *ToolValidationError) Unwrap() error { return e.Cause }
