package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"time"
)

const (
	defaultCLITimeout   = 60 * time.Second
	defaultCLIWaitDelay = 2 * time.Second
)

// Platform is a host platform family with its own activation template.
type Platform string

const (
	PlatformPOSIX   Platform = "posix"
	PlatformWindows Platform = "windows"
)

// PlatformFamily maps a GOOS value to its activation family.
func PlatformFamily(goos string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(goos)) {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos", "aix":
		return PlatformPOSIX, nil
	case "windows":
		return PlatformWindows, nil
	default:
		return "", newToolError(ToolErrorCodeUnsupportedPlatform,
			fmt.Sprintf("tool: unsupported platform %q", goos), false, ErrUnsupportedPlatform)
	}
}

// CLIRunnerConfig configures the subprocess runner.
type CLIRunnerConfig struct {
	// Environment is the root of the shared execution environment. When set,
	// its activation script runs before every command.
	Environment string
	// Timeout bounds each command. Defaults to 60s.
	Timeout time.Duration
	// GOOS overrides the host platform. Defaults to runtime.GOOS.
	GOOS string
	// Dir is the working directory of commands.
	Dir string
	// Env is added to the inherited process environment.
	Env map[string]string
}

// CLIRunner executes CLI tool commands inside the activated shared environment.
type CLIRunner struct {
	environment string
	timeout     time.Duration
	goos        string
	dir         string
	env         map[string]string
}

// NewCLIRunner creates a subprocess runner.
func NewCLIRunner(cfg CLIRunnerConfig) *CLIRunner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCLITimeout
	}
	goos := cfg.GOOS
	if strings.TrimSpace(goos) == "" {
		goos = runtime.GOOS
	}
	return &CLIRunner{
		environment: cfg.Environment,
		timeout:     timeout,
		goos:        goos,
		dir:         cfg.Dir,
		env:         cfg.Env,
	}
}

// Timeout returns the per-command deadline.
func (r *CLIRunner) Timeout() time.Duration {
	return r.timeout
}

// Run executes the command template with extra arguments and returns its
// stdout. A nonzero exit or deadline expiry returns a *ProcessFailure; an
// unsupported platform fails before any process is spawned.
func (r *CLIRunner) Run(ctx context.Context, command Command, extra []string) (string, error) {
	if r == nil {
		return "", newToolError(ToolErrorCodeInvalidRequest, "tool: cli runner is nil", false, nil)
	}
	if strings.TrimSpace(command.Program) == "" {
		return "", newToolError(ToolErrorCodeInvalidRequest, "tool: cli command is empty", false, nil)
	}

	argv, err := r.WrapCommand(command.Argv(extra...))
	if err != nil {
		return "", err
	}

	budget := r.budget(ctx)
	execCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// #nosec G204 -- command templates come from the configured tool directory.
	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	setCommandLine(cmd, argv)
	cmd.WaitDelay = defaultCLIWaitDelay
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(r.env)...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	display := command.String()
	if len(extra) > 0 {
		display += " " + strings.Join(extra, " ")
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return "", &ProcessFailure{
			ExitCode: -1,
			Command:  display,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			TimedOut: true,
			Timeout:  budget,
			Cause:    execCtx.Err(),
		}
	}
	if err := ctx.Err(); err != nil {
		return "", newToolError(ToolErrorCodeInvocationFailed, "tool: cli invocation canceled", false, err)
	}
	if runErr == nil {
		return stdout.String(), nil
	}

	exitCode := 1
	var exitErr *exec.ExitError
	var execErr *exec.Error
	switch {
	case errors.As(runErr, &exitErr):
		exitCode = exitErr.ExitCode()
	case errors.As(runErr, &execErr):
		exitCode = 127
	}
	return "", &ProcessFailure{
		ExitCode: exitCode,
		Command:  display,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Cause:    runErr,
	}
}

// budget is the runner timeout, or the time left before ctx's deadline when
// that comes first.
func (r *CLIRunner) budget(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return r.timeout
	}
	remaining := time.Until(deadline).Round(time.Millisecond)
	if remaining >= r.timeout {
		return r.timeout
	}
	return max(remaining, 0)
}

// WrapCommand builds the platform wrapper that activates the shared
// environment and then runs argv inside it.
func (r *CLIRunner) WrapCommand(argv []string) ([]string, error) {
	platform, err := PlatformFamily(r.goos)
	if err != nil {
		return nil, err
	}
	switch platform {
	case PlatformPOSIX:
		if r.environment == "" {
			return append([]string{"sh", "-c", `exec "$@"`, "sh"}, argv...), nil
		}
		activate := filepath.Join(r.environment, "bin", "activate")
		return append([]string{"sh", "-c", `. "$0" && exec "$@"`, activate}, argv...), nil
	default:
		line := joinWindowsArgs(argv)
		if r.environment != "" {
			activate := r.environment + `\Scripts\activate.bat`
			line = "call " + quoteWindowsArg(activate) + " && " + line
		}
		return []string{"cmd", "/S", "/C", line}, nil
	}
}

// FinalizeArgs renders invocation arguments as a CLI argument list:
// positional values first, then named values as --key=value in key order.
// A true boolean becomes a bare --key flag; false omits it.
func FinalizeArgs(args Args) []string {
	out := make([]string, 0, len(args.Positional)+len(args.Named))
	for _, value := range args.Positional {
		out = append(out, fmt.Sprint(value))
	}
	keys := make([]string, 0, len(args.Named))
	for key := range args.Named {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		flag := "--" + strings.ReplaceAll(key, "_", "-")
		switch value := args.Named[key].(type) {
		case bool:
			if value {
				out = append(out, flag)
			}
		case nil:
			out = append(out, flag)
		case []any:
			for _, item := range value {
				out = append(out, flag+"="+fmt.Sprint(item))
			}
		default:
			out = append(out, flag+"="+fmt.Sprint(value))
		}
	}
	return out
}

func joinWindowsArgs(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quoteWindowsArg(arg)
	}
	return strings.Join(quoted, " ")
}

// quoteWindowsArg quotes arg for a cmd.exe line. Embedded quotes are doubled,
// which both cmd.exe and the C runtime argument parser read as one literal
// quote without leaving the quoted span. Backslashes before the closing quote
// are doubled. %VAR% expansion is not suppressed.
func quoteWindowsArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"&|<>^()") {
		return arg
	}
	body := strings.ReplaceAll(arg, `"`, `""`)
	trailing := len(body) - len(strings.TrimRight(body, `\`))
	return `"` + body + strings.Repeat(`\`, trailing) + `"`
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
