package tool

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Kind selects the execution path of a descriptor.
type Kind string

const (
	KindFunction Kind = "function"
	KindCLI      Kind = "cli"
)

// Args carries the ordered and named arguments of one invocation.
type Args struct {
	Positional []any          `json:"positional,omitempty"`
	Named      map[string]any `json:"named,omitempty"`
}

// Func is a synchronous in-process tool handler.
type Func func(ctx context.Context, args Args) (any, error)

// AsyncFunc is an asynchronous in-process tool handler. The returned future
// is resolved by the handler, typically from its own goroutine.
type AsyncFunc func(ctx context.Context, args Args) *Future

// Command is the command template of a CLI tool: a program plus the fixed
// argument list that precedes any per-call arguments.
type Command struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
	Label   string   `json:"label,omitempty"`
}

// Argv returns the template followed by extra, as one argument vector.
func (c Command) Argv(extra ...string) []string {
	out := make([]string, 0, 1+len(c.Args)+len(extra))
	out = append(out, c.Program)
	out = append(out, c.Args...)
	out = append(out, extra...)
	return out
}

// String renders the command template for messages.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Descriptor is the runtime record of one discovered tool.
type Descriptor struct {
	Name        string
	Kind        Kind
	Description string
	// Origin is the path of the unit the descriptor was loaded from.
	Origin string
	// Revision increments each time the descriptor is rebuilt from Origin.
	Revision int

	Func    Func
	Async   AsyncFunc
	Command Command

	ModTime time.Time
}

// Validate checks the structural invariants of a descriptor.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return newToolError(ToolErrorCodeInvalidRequest, "tool: descriptor name is required", false, nil)
	}
	if strings.TrimSpace(d.Description) == "" {
		return newToolError(ToolErrorCodeInvalidRequest, "tool: descriptor "+d.Name+" has no description", false, nil)
	}
	switch d.Kind {
	case KindFunction:
		if d.Func == nil && d.Async == nil {
			return newToolError(ToolErrorCodeInvalidRequest, "tool: function descriptor "+d.Name+" has no handler", false, nil)
		}
		if d.Func != nil && d.Async != nil {
			return newToolError(ToolErrorCodeInvalidRequest, "tool: function descriptor "+d.Name+" has two handlers", false, nil)
		}
	case KindCLI:
		if strings.TrimSpace(d.Command.Program) == "" {
			return newToolError(ToolErrorCodeInvalidRequest, "tool: cli descriptor "+d.Name+" has no program", false, nil)
		}
	default:
		return newToolError(ToolErrorCodeInvalidRequest, "tool: descriptor "+d.Name+" has unknown kind "+string(d.Kind), false, nil)
	}
	return nil
}

// IsAsync reports whether the descriptor is backed by an AsyncFunc.
func (d Descriptor) IsAsync() bool {
	return d.Kind == KindFunction && d.Async != nil
}

func cloneDescriptor(in Descriptor) Descriptor {
	out := in
	out.Command.Args = slices.Clone(in.Command.Args)
	return out
}

// Request is one invocation, constructed per call and discarded after it.
type Request struct {
	ID   string
	Tool string
	Args Args
}
