package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

const cliRunnerHelperEnv = "GO_WANT_CLI_RUNNER_HELPER"

// helperCommand runs this test binary as a CLI tool in the given mode.
func helperCommand(mode string) Command {
	return Command{
		Program: os.Args[0],
		Args:    []string{"-test.run=TestCLIRunnerHelperProcess", "--", mode},
		Label:   "helper-" + mode,
	}
}

func newHelperRunner(t *testing.T, cfg CLIRunnerConfig) *CLIRunner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("helper process tests use the posix activation wrapper")
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	cfg.Env[cliRunnerHelperEnv] = "1"
	return NewCLIRunner(cfg)
}

func TestCLIRunnerHelperProcess(t *testing.T) {
	if os.Getenv(cliRunnerHelperEnv) != "1" {
		return
	}

	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}

	switch args[0] {
	case "echo":
		fmt.Println(strings.Join(args[1:], " "))
		os.Exit(0)
	case "fail":
		fmt.Println("partial output")
		fmt.Fprint(os.Stderr, "boom")
		os.Exit(1)
	case "sleep":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	default:
		os.Exit(3)
	}
}

func TestCLIRunnerRunSuccess(t *testing.T) {
	runner := newHelperRunner(t, CLIRunnerConfig{})

	out, err := runner.Run(context.Background(), helperCommand("echo"), []string{"hello", "--name=world"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(out) != "hello --name=world" {
		t.Fatalf("Run() = %q, want %q", out, "hello --name=world")
	}
}

func TestCLIRunnerRunNonzeroExit(t *testing.T) {
	runner := newHelperRunner(t, CLIRunnerConfig{})

	_, err := runner.Run(context.Background(), helperCommand("fail"), []string{"x"})
	var failure *ProcessFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %T %v, want *ProcessFailure", err, err)
	}
	if failure.ExitCode != 1 {
		t.Fatalf("ExitCode = %d, want 1", failure.ExitCode)
	}
	if failure.Stderr != "boom" {
		t.Fatalf("Stderr = %q, want boom", failure.Stderr)
	}
	if !strings.Contains(failure.Stdout, "partial output") {
		t.Fatalf("Stdout = %q, want partial output", failure.Stdout)
	}
	if !strings.HasSuffix(failure.Command, "fail x") {
		t.Fatalf("Command = %q, want suffix %q", failure.Command, "fail x")
	}
	if failure.TimedOut {
		t.Fatal("TimedOut = true, want false")
	}

	res := Normalize("fail", Outcome{Err: err})
	if !res.IsError || !strings.Contains(res.Payload, "1") || !strings.Contains(res.Payload, "boom") {
		t.Fatalf("Normalize() = %+v, want error payload with exit code and stderr", res)
	}
}

func TestCLIRunnerReportsCallerDeadline(t *testing.T) {
	runner := newHelperRunner(t, CLIRunnerConfig{Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, helperCommand("sleep"), nil)
	var failure *ProcessFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %T %v, want *ProcessFailure", err, err)
	}
	if !failure.TimedOut {
		t.Fatalf("failure = %+v, want TimedOut", failure)
	}
	if failure.Timeout <= 0 || failure.Timeout > 100*time.Millisecond {
		t.Fatalf("Timeout = %s, want the caller's 100ms budget", failure.Timeout)
	}
}

func TestCLIRunnerRunTimeout(t *testing.T) {
	runner := newHelperRunner(t, CLIRunnerConfig{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := runner.Run(context.Background(), helperCommand("sleep"), nil)
	var failure *ProcessFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %T %v, want *ProcessFailure", err, err)
	}
	if !failure.TimedOut || failure.ExitCode != -1 {
		t.Fatalf("failure = %+v, want TimedOut with exit code -1", failure)
	}
	if failure.Timeout != 100*time.Millisecond {
		t.Fatalf("Timeout = %s, want 100ms", failure.Timeout)
	}
	if ErrorCode(err) != ToolErrorCodeTimeout {
		t.Fatalf("ErrorCode() = %q, want %q", ErrorCode(err), ToolErrorCodeTimeout)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run() took %s, child was not terminated", elapsed)
	}
}

func TestCLIRunnerMissingProgram(t *testing.T) {
	runner := newHelperRunner(t, CLIRunnerConfig{})

	_, err := runner.Run(context.Background(), Command{Program: filepath.Join(t.TempDir(), "missing")}, nil)
	var failure *ProcessFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %T %v, want *ProcessFailure", err, err)
	}
	if failure.ExitCode == 0 {
		t.Fatal("ExitCode = 0, want nonzero")
	}
}

func TestCLIRunnerActivatesEnvironment(t *testing.T) {
	env := t.TempDir()
	if err := os.MkdirAll(filepath.Join(env, "bin"), 0o750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	activate := "export PETALTOOLS_ACTIVATED=yes\n"
	if err := os.WriteFile(filepath.Join(env, "bin", "activate"), []byte(activate), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	runner := newHelperRunner(t, CLIRunnerConfig{Environment: env})

	out, err := runner.Run(context.Background(), Command{Program: "sh", Args: []string{"-c", `echo "env=$PETALTOOLS_ACTIVATED"`}}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(out) != "env=yes" {
		t.Fatalf("Run() = %q, want env=yes", out)
	}
}

func TestCLIRunnerUnsupportedPlatformSpawnsNothing(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	runner := NewCLIRunner(CLIRunnerConfig{GOOS: "plan9"})

	_, err := runner.Run(context.Background(), Command{Program: "sh", Args: []string{"-c", "touch " + marker}}, nil)
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("Run() error = %v, want ErrUnsupportedPlatform", err)
	}
	if ErrorCode(err) != ToolErrorCodeUnsupportedPlatform {
		t.Fatalf("ErrorCode() = %q, want %q", ErrorCode(err), ToolErrorCodeUnsupportedPlatform)
	}
	if _, statErr := os.Stat(marker); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("marker stat error = %v, want not exist", statErr)
	}
}

func TestQuoteWindowsArg(t *testing.T) {
	tests := []struct {
		arg  string
		want string
	}{
		{arg: "plain", want: "plain"},
		{arg: "", want: `""`},
		{arg: "my file.py", want: `"my file.py"`},
		{arg: `say "hi"`, want: `"say ""hi"""`},
		{arg: "a&b", want: `"a&b"`},
		{arg: `C:\dir with space\`, want: `"C:\dir with space\\"`},
		{arg: `C:\plain\`, want: `C:\plain\`},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			if got := quoteWindowsArg(tt.arg); got != tt.want {
				t.Fatalf("quoteWindowsArg(%q) = %s, want %s", tt.arg, got, tt.want)
			}
		})
	}
}

func TestCLIRunnerWrapCommand(t *testing.T) {
	tests := []struct {
		name string
		cfg  CLIRunnerConfig
		argv []string
		want []string
	}{
		{
			name: "posix without environment",
			cfg:  CLIRunnerConfig{GOOS: "linux"},
			argv: []string{"lint", "a.py"},
			want: []string{"sh", "-c", `exec "$@"`, "sh", "lint", "a.py"},
		},
		{
			name: "posix with environment",
			cfg:  CLIRunnerConfig{GOOS: "darwin", Environment: "/opt/env"},
			argv: []string{"python", "-m", "lint"},
			want: []string{"sh", "-c", `. "$0" && exec "$@"`, "/opt/env/bin/activate", "python", "-m", "lint"},
		},
		{
			name: "windows with environment",
			cfg:  CLIRunnerConfig{GOOS: "windows", Environment: `C:\envs\tools`},
			argv: []string{"python", "-m", "lint", "my file.py"},
			want: []string{"cmd", "/S", "/C", `call C:\envs\tools\Scripts\activate.bat && python -m lint "my file.py"`},
		},
		{
			name: "windows without environment",
			cfg:  CLIRunnerConfig{GOOS: "windows"},
			argv: []string{"tool.exe"},
			want: []string{"cmd", "/S", "/C", "tool.exe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCLIRunner(tt.cfg).WrapCommand(tt.argv)
			if err != nil {
				t.Fatalf("WrapCommand() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("WrapCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlatformFamily(t *testing.T) {
	tests := []struct {
		goos    string
		want    Platform
		wantErr bool
	}{
		{goos: "linux", want: PlatformPOSIX},
		{goos: "darwin", want: PlatformPOSIX},
		{goos: "freebsd", want: PlatformPOSIX},
		{goos: "Windows", want: PlatformWindows},
		{goos: "plan9", wantErr: true},
		{goos: "js", wantErr: true},
		{goos: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			got, err := PlatformFamily(tt.goos)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PlatformFamily(%q) error = %v, wantErr %v", tt.goos, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("PlatformFamily(%q) = %q, want %q", tt.goos, got, tt.want)
			}
		})
	}
}

func TestFinalizeArgs(t *testing.T) {
	got := FinalizeArgs(Args{
		Positional: []any{1, "src/main.py"},
		Named: map[string]any{
			"dry_run": true,
			"quiet":   false,
			"name":    "x",
			"tag":     []any{"a", "b"},
			"verbose": nil,
		},
	})
	want := []string{"1", "src/main.py", "--dry-run", "--name=x", "--tag=a", "--tag=b", "--verbose"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FinalizeArgs() = %q, want %q", got, want)
	}

	if got := FinalizeArgs(Args{}); len(got) != 0 {
		t.Fatalf("FinalizeArgs(empty) = %q, want empty", got)
	}
}

func TestCommandArgvAndString(t *testing.T) {
	cmd := Command{Program: "python", Args: []string{"-m", "lint"}}
	if got := cmd.Argv("a.py"); !reflect.DeepEqual(got, []string{"python", "-m", "lint", "a.py"}) {
		t.Fatalf("Argv() = %q", got)
	}
	if got := cmd.String(); got != "python -m lint" {
		t.Fatalf("String() = %q, want %q", got, "python -m lint")
	}
}
