package tool

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Payload size policy. A payload of TruncateAt characters or more is cut to
// TruncateTo characters followed by TruncationMarker.
const (
	TruncateAt       = 20000
	TruncateTo       = 19000
	TruncationMarker = "..."
)

// Outcome is the raw result of one execution path: a returned value or an
// error, before classification.
type Outcome struct {
	Value any
	Err   error
}

// Result is the normalized, transport-safe outcome of one invocation. It is
// built once per call by Normalize and not mutated afterwards.
type Result struct {
	Tool      string `json:"tool,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Payload   string `json:"payload"`
	IsError   bool   `json:"is_error"`
	Truncated bool   `json:"truncated,omitempty"`
	// Code is the ToolError code of an error result.
	Code       string `json:"code,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// ContentBlock is one item of a transport envelope.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Envelope is the minimal two-field result shape handed to the host transport.
type Envelope struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// Envelope converts the result into the transport shape. Truncation is only
// visible through the text.
func (r Result) Envelope() Envelope {
	return Envelope{
		Content: []ContentBlock{{Type: "text", Text: r.Payload}},
		IsError: r.IsError,
	}
}

// Normalize classifies an outcome and applies the payload size bound. It is
// the only place error shape and truncation policy live.
//
// Precedence: process failure, other error, text value, anything else.
func Normalize(toolName string, outcome Outcome) Result {
	res := Result{Tool: toolName}

	var failure *ProcessFailure
	switch {
	case outcome.Err != nil && errors.As(outcome.Err, &failure):
		res.IsError = true
		res.Code = ErrorCode(failure)
		res.Payload = formatProcessFailure(failure)
	case outcome.Err != nil:
		res.IsError = true
		res.Code = errorCodeOrDefault(outcome.Err, ToolErrorCodeHandlerFailure)
		res.Payload = formatError(outcome.Err)
	default:
		if text, ok := asText(outcome.Value); ok {
			res.Payload = prefixToolName(toolName, text)
			break
		}
		res.IsError = true
		res.Code = ToolErrorCodeUnexpectedResult
		res.Payload = fmt.Sprintf("%s: tool returned %T, want string: %v", ToolErrorCodeUnexpectedResult, outcome.Value, outcome.Value)
	}

	res.Payload, res.Truncated = Truncate(res.Payload)
	return res
}

// Truncate cuts s to TruncateTo characters plus TruncationMarker when it has
// TruncateAt characters or more. Shorter strings are returned unchanged.
func Truncate(s string) (string, bool) {
	if utf8.RuneCountInString(s) < TruncateAt {
		return s, false
	}
	count := 0
	for i := range s {
		if count == TruncateTo {
			return s[:i] + TruncationMarker, true
		}
		count++
	}
	return s + TruncationMarker, true
}

func asText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

func prefixToolName(toolName, text string) string {
	if toolName == "" {
		return text
	}
	return "[" + toolName + "] " + text
}

func formatProcessFailure(f *ProcessFailure) string {
	var b strings.Builder
	if f.TimedOut {
		fmt.Fprintf(&b, "%s: command timed out", ToolErrorCodeTimeout)
		if f.Timeout > 0 {
			fmt.Fprintf(&b, " after %s", f.Timeout)
		}
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "%s: command failed with exit code %d\n", ToolErrorCodeProcessFailure, f.ExitCode)
	}
	fmt.Fprintf(&b, "Command: %s\n", f.Command)
	fmt.Fprintf(&b, "Stdout:\n%s\n", strings.TrimRight(f.Stdout, "\n"))
	fmt.Fprintf(&b, "Stderr:\n%s", strings.TrimRight(f.Stderr, "\n"))
	return b.String()
}

func formatError(err error) string {
	kind := errorCodeOrDefault(err, ToolErrorCodeHandlerFailure)
	message := err.Error()
	if toolErr, ok := toolErrorFrom(err); ok && strings.TrimSpace(toolErr.Message) != "" {
		message = toolErr.Message
	}
	return kind + ": " + message
}
