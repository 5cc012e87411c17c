package tool

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistrySealed is returned when registering after startup has completed.
	ErrRegistrySealed = errors.New("tool registry is sealed")
	// ErrToolNameEmpty is returned for definitions without a name.
	ErrToolNameEmpty = errors.New("tool name is empty")
	// ErrUnknownTool is returned when validating arguments for an unregistered tool.
	ErrUnknownTool = errors.New("unknown tool")
)

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// SchemaError reports arguments that do not satisfy a tool's parameter schema.
type SchemaError struct {
	Tool string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("arguments for %s do not match parameter schema: %v", e.Tool, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ExecutionError is the structured failure a tool returns. Kind and Details are copied
// onto the failed observation and fed to the planning oracle when the step is repaired.
type ExecutionError struct {
	Tool    string
	Kind    string
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s: %s", e.Tool, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Tool, msg)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Failf builds an ExecutionError of the given kind.
func Failf(toolName, kind, format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{Tool: toolName, Kind: kind, Message: fmt.Sprintf(format, args...)}
}
