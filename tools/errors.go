package tools

import (
	"fmt"
	"strings"
)

// NotFoundError reports a dispatch against an unregistered tool name.
type NotFoundError struct {
	Tool string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.Tool)
}

// MissingArgumentsError reports required parameters absent from a call.
type MissingArgumentsError struct {
	Tool    string
	Missing []string
}

func (e *MissingArgumentsError) Error() string {
	return fmt.Sprintf("tool %q called without required arguments: %s",
		e.Tool, strings.Join(e.Missing, ", "))
}

// ExecutionError wraps a failure raised by the tool handler itself.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
