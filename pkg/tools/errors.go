package tools

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// UnknownToolError is returned when a tool name is not in the bound set.
type UnknownToolError struct {
	Name      string
	Available []string
}

func (e *UnknownToolError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown tool %q", e.Name)
	}
	return fmt.Sprintf("unknown tool %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindExecution  ErrorKind = "execution"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindPanic      ErrorKind = "panic"
	ErrorKindNotAllowed ErrorKind = "not_allowed"
)

// ToolExecutionError wraps a failure of the collaborator behind a tool.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Kind   ErrorKind
	Err    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed [%s]: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

func IsUnknownTool(err error) bool {
	var u *UnknownToolError
	return errors.As(err, &u)
}

func IsToolExecutionError(err error) bool {
	var e *ToolExecutionError
	return errors.As(err, &e)
}
