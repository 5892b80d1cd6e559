package tool

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ToolErrorCodeDiscoveryNotFound is returned when a discovery root is missing or empty.
	ToolErrorCodeDiscoveryNotFound = "DISCOVERY_NOT_FOUND"
	// ToolErrorCodeLoadFailure is returned when one candidate unit fails to load.
	ToolErrorCodeLoadFailure = "LOAD_FAILURE"
	// ToolErrorCodeRegistrationConflict is returned for a duplicate tool name.
	ToolErrorCodeRegistrationConflict = "REGISTRATION_CONFLICT"
	// ToolErrorCodeCeilingExceeded is returned when the tool ceiling would be crossed.
	ToolErrorCodeCeilingExceeded = "REGISTRATION_CEILING_EXCEEDED"
	// ToolErrorCodeHandlerFailure is returned when a tool's own logic fails or panics.
	ToolErrorCodeHandlerFailure = "HANDLER_FAILURE"
	// ToolErrorCodeProcessFailure is returned for nonzero exits of CLI tools.
	ToolErrorCodeProcessFailure = "PROCESS_FAILURE"
	// ToolErrorCodeTimeout is returned when invocation times out.
	ToolErrorCodeTimeout = "TIMEOUT"
	// ToolErrorCodeUnsupportedPlatform is returned when the host platform has no activation template.
	ToolErrorCodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
	// ToolErrorCodeToolNotFound is returned when a tool name is not registered.
	ToolErrorCodeToolNotFound = "TOOL_NOT_FOUND"
	// ToolErrorCodeInvalidRequest is returned when a request or descriptor is malformed.
	ToolErrorCodeInvalidRequest = "INVALID_REQUEST"
	// ToolErrorCodeUnexpectedResult is returned when a handler returns a non-text value.
	ToolErrorCodeUnexpectedResult = "UNEXPECTED_RESULT"
	// ToolErrorCodeInvocationFailed is a generic fallback for tool invocation failures.
	ToolErrorCodeInvocationFailed = "INVOCATION_FAILED"
)

var (
	// ErrDiscoveryNotFound indicates a discovery root is missing or has no eligible units.
	ErrDiscoveryNotFound = errors.New("tool: discovery root not found")
	// ErrRegistrationConflict indicates a tool name is already registered.
	ErrRegistrationConflict = errors.New("tool: registration conflict")
	// ErrCeilingExceeded indicates the registry is full.
	ErrCeilingExceeded = errors.New("tool: registration ceiling exceeded")
	// ErrUnsupportedPlatform indicates no CLI activation template exists for the host.
	ErrUnsupportedPlatform = errors.New("tool: unsupported platform")
	// ErrToolNotFound indicates a lookup by name failed.
	ErrToolNotFound = errors.New("tool: tool not found")
)

// ToolError is a structured error that keeps a machine-readable code across
// the dispatcher, host transport, and observability paths.
type ToolError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ToolErrorCodeInvocationFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newToolError(code, message string, retryable bool, cause error) *ToolError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ToolErrorCodeInvocationFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Code:      cleanCode,
		Message:   cleanMsg,
		Retryable: retryable,
		Cause:     cause,
	}
}

func withToolErrorDetails(err *ToolError, details map[string]any) *ToolError {
	if err == nil {
		return nil
	}
	if len(details) == 0 {
		return err
	}
	if err.Details == nil {
		err.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		err.Details[key] = value
	}
	return err
}

func toolErrorFrom(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// ErrorCode returns the ToolError code carried by err, or "" when err is not
// a ToolError.
func ErrorCode(err error) string {
	if toolErr, ok := toolErrorFrom(err); ok && toolErr != nil {
		return toolErr.Code
	}
	var failure *ProcessFailure
	if errors.As(err, &failure) {
		if failure.TimedOut {
			return ToolErrorCodeTimeout
		}
		return ToolErrorCodeProcessFailure
	}
	return ""
}

func errorCodeOrDefault(err error, fallback string) string {
	if code := ErrorCode(err); strings.TrimSpace(code) != "" {
		return code
	}
	if strings.TrimSpace(fallback) == "" {
		return ToolErrorCodeInvocationFailed
	}
	return fallback
}

// ProcessFailure is the structured outcome of a CLI tool that exited nonzero
// or was terminated at its deadline.
type ProcessFailure struct {
	ExitCode int
	Command  string
	Stdout   string
	Stderr   string
	TimedOut bool
	Timeout  time.Duration
	Cause    error
}

func (f *ProcessFailure) Error() string {
	if f == nil {
		return ""
	}
	if f.TimedOut {
		return fmt.Sprintf("tool: command %q timed out", f.Command)
	}
	return fmt.Sprintf("tool: command %q exited with code %d", f.Command, f.ExitCode)
}

// Unwrap exposes the underlying exec error.
func (f *ProcessFailure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}
