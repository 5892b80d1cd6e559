package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Invoker  *Invoker
	Runner   *CLIRunner
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Dispatcher is the single entry point for tool execution. It routes a
// descriptor to the in-process invoker or the CLI runner and normalizes the
// outcome. Invoke and Call never fail: every error becomes a Result with
// IsError set.
//
// Descriptors are rebuilt off the call path (see the reload package), so a
// call always runs the handler bound when it looked the descriptor up.
type Dispatcher struct {
	registry *Registry
	invoker  *Invoker
	runner   *CLIRunner
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. Missing collaborators get defaults.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(0)
	}
	if cfg.Invoker == nil {
		cfg.Invoker = NewInvoker(InvokerConfig{})
	}
	if cfg.Runner == nil {
		cfg.Runner = NewCLIRunner(CLIRunnerConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		invoker:  cfg.Invoker,
		runner:   cfg.Runner,
		logger:   cfg.Logger,
	}
}

// Registry returns the registry the dispatcher resolves names against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Call resolves name through the registry and invokes it. An unknown name
// yields a TOOL_NOT_FOUND error result.
func (d *Dispatcher) Call(ctx context.Context, name string, args Args) Result {
	desc, ok := d.registry.Get(name)
	if !ok {
		res := Normalize(name, Outcome{Err: newToolError(ToolErrorCodeToolNotFound,
			fmt.Sprintf("tool %q is not registered", name), false, ErrToolNotFound)})
		res.RequestID = uuid.NewString()
		emitInvokeObservation(InvokeObservation{
			ToolName:  name,
			RequestID: res.RequestID,
			ErrorCode: res.Code,
		})
		return res
	}
	return d.Invoke(ctx, desc, args)
}

// Invoke executes desc with args and returns the normalized result.
func (d *Dispatcher) Invoke(ctx context.Context, desc Descriptor, args Args) (res Result) {
	req := Request{ID: uuid.NewString(), Tool: desc.Name, Args: args}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = Normalize(req.Tool, Outcome{Err: panicFailure(req.Tool, r)})
		}
		res.RequestID = req.ID
		res.DurationMS = time.Since(start).Milliseconds()
		d.observe(desc, res)
	}()

	d.logger.Debug("tool: dispatch",
		slog.String("tool", req.Tool),
		slog.String("kind", string(desc.Kind)),
		slog.String("request_id", req.ID),
	)
	return Normalize(req.Tool, d.execute(ctx, desc, req))
}

func (d *Dispatcher) execute(ctx context.Context, desc Descriptor, req Request) Outcome {
	switch desc.Kind {
	case KindFunction:
		value, err := d.invoker.Call(ctx, desc, req.Args)
		return Outcome{Value: value, Err: err}
	case KindCLI:
		stdout, err := d.runner.Run(ctx, desc.Command, FinalizeArgs(req.Args))
		if err != nil {
			return Outcome{Err: err}
		}
		return Outcome{Value: stdout}
	default:
		return Outcome{Err: newToolError(ToolErrorCodeInvalidRequest,
			fmt.Sprintf("tool: %q has unknown kind %q", desc.Name, desc.Kind), false, nil)}
	}
}

func (d *Dispatcher) observe(desc Descriptor, res Result) {
	if res.IsError {
		d.logger.Warn("tool: invocation failed",
			slog.String("tool", res.Tool),
			slog.String("request_id", res.RequestID),
			slog.String("code", res.Code),
			slog.Int64("duration_ms", res.DurationMS),
		)
	}
	emitInvokeObservation(InvokeObservation{
		ToolName:   res.Tool,
		Kind:       desc.Kind,
		RequestID:  res.RequestID,
		DurationMS: res.DurationMS,
		Success:    !res.IsError,
		Truncated:  res.Truncated,
		ErrorCode:  res.Code,
	})
}
