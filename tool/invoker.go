package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrent = 16

// Future is the handle of a pending in-process invocation. The first Resolve
// wins; later calls are ignored.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved(value any, err error) *Future {
	f := NewFuture()
	f.Resolve(value, err)
	return f
}

// Resolve completes the future. It reports whether this call set the result.
func (f *Future) Resolve(value any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the resolved value. It must only be called after Done is closed.
func (f *Future) Result() (any, error) {
	return f.value, f.err
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, contextFailure(ctx.Err(), 0)
	}
}

// InvokerConfig configures the in-process executor.
type InvokerConfig struct {
	// MaxConcurrent bounds simultaneously running handlers. Defaults to 16.
	// A handler abandoned on timeout or cancellation keeps its slot until it
	// returns.
	MaxConcurrent int64
	// Timeout bounds each call when positive. Zero leaves the caller's context
	// as the only deadline.
	Timeout time.Duration
}

// Invoker executes function descriptors. Synchronous and asynchronous
// handlers are both submitted as futures; Call is the blocking adapter the
// Dispatcher uses, so the difference never reaches callers.
type Invoker struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewInvoker creates an in-process invoker.
func NewInvoker(cfg InvokerConfig) *Invoker {
	width := cfg.MaxConcurrent
	if width <= 0 {
		width = defaultMaxConcurrent
	}
	return &Invoker{
		sem:     semaphore.NewWeighted(width),
		timeout: cfg.Timeout,
	}
}

// Call runs the descriptor's handler and blocks for its outcome. Handler
// errors are returned unmodified.
func (i *Invoker) Call(ctx context.Context, d Descriptor, args Args) (any, error) {
	return i.Submit(ctx, d, args).Wait(context.WithoutCancel(ctx))
}

// Submit schedules the handler and returns its future. The future always
// resolves: on handler completion, on panic, or when the call's context ends.
func (i *Invoker) Submit(ctx context.Context, d Descriptor, args Args) *Future {
	if d.Kind != KindFunction {
		return Resolved(nil, newToolError(ToolErrorCodeInvalidRequest,
			fmt.Sprintf("tool: %s is a %s tool, not a function tool", d.Name, d.Kind), false, nil))
	}
	if d.Func == nil && d.Async == nil {
		return Resolved(nil, newToolError(ToolErrorCodeInvalidRequest, "tool: "+d.Name+" has no handler", false, nil))
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if i.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, i.timeout)
	}

	out := NewFuture()
	go func() {
		defer cancel()
		if err := i.sem.Acquire(runCtx, 1); err != nil {
			out.Resolve(nil, contextFailure(err, i.timeout))
			return
		}
		defer i.sem.Release(1)

		inner := start(runCtx, d, args)
		select {
		case <-inner.Done():
			out.Resolve(inner.Result())
		case <-runCtx.Done():
			out.Resolve(nil, contextFailure(runCtx.Err(), i.timeout))
			<-inner.Done()
		}
	}()
	return out
}

func start(ctx context.Context, d Descriptor, args Args) *Future {
	if d.Async != nil {
		return startAsync(ctx, d, args)
	}
	f := NewFuture()
	go func() {
		defer recoverInto(f, d.Name)
		value, err := d.Func(ctx, args)
		f.Resolve(value, err)
	}()
	return f
}

func startAsync(ctx context.Context, d Descriptor, args Args) (f *Future) {
	defer func() {
		if r := recover(); r != nil {
			f = Resolved(nil, panicFailure(d.Name, r))
		}
	}()
	f = d.Async(ctx, args)
	if f == nil {
		return Resolved(nil, newToolError(ToolErrorCodeHandlerFailure, "tool: "+d.Name+" returned a nil future", false, nil))
	}
	return f
}

func recoverInto(f *Future, name string) {
	if r := recover(); r != nil {
		f.Resolve(nil, panicFailure(name, r))
	}
}

func panicFailure(name string, r any) error {
	return withToolErrorDetails(
		newToolError(ToolErrorCodeHandlerFailure, fmt.Sprintf("tool: %s panicked: %v", name, r), false, nil),
		map[string]any{"stack": string(debug.Stack())},
	)
}

func contextFailure(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		msg := "tool: invocation timed out"
		if timeout > 0 {
			msg = fmt.Sprintf("tool: invocation timed out after %s", timeout)
		}
		return newToolError(ToolErrorCodeTimeout, msg, true, err)
	}
	return newToolError(ToolErrorCodeInvocationFailed, "tool: invocation canceled", false, err)
}
