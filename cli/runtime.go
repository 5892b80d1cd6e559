package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petaltools"
	"github.com/petal-labs/petaltools/config"
	"github.com/petal-labs/petaltools/tool"
)

// AddRuntimeFlags registers the flags shared by every command that builds a
// runtime. Flag values override the config file.
func AddRuntimeFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to petaltools.yaml (default: ./petaltools.yaml, ~/.petaltools/config.yaml)")
	flags.String("functions-dir", "", "Function tool directory")
	flags.String("cli-dir", "", "CLI tool directory")
	flags.String("environment", "", "Shared execution environment to activate for CLI tools")
	flags.StringSlice("cli-prefix", nil, "Invocation prefix placed before a CLI entry (comma separated)")
	flags.Duration("cli-timeout", 0, "Timeout for one CLI tool call")
	flags.Duration("function-timeout", 0, "Timeout for one function tool call (0 disables)")
	flags.Int("max-tools", 0, "Maximum number of registered tools")
	flags.String("log-format", "text", "Log format: text | json")
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, _, err := config.LoadOrDefault(explicit)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return config.Config{}, exitError(exitFileNotFound, "%v", err)
		}
		return config.Config{}, exitError(exitInputParse, "%v", err)
	}

	flags := cmd.Flags()
	if flags.Changed("functions-dir") {
		cfg.FunctionsDir, _ = flags.GetString("functions-dir")
	}
	if flags.Changed("cli-dir") {
		cfg.CLIDir, _ = flags.GetString("cli-dir")
	}
	if flags.Changed("environment") {
		cfg.CLI.Environment, _ = flags.GetString("environment")
	}
	if flags.Changed("cli-prefix") {
		cfg.CLI.Prefix, _ = flags.GetStringSlice("cli-prefix")
	}
	if flags.Changed("cli-timeout") {
		cfg.CLI.Timeout, _ = flags.GetDuration("cli-timeout")
	}
	if flags.Changed("function-timeout") {
		cfg.FunctionTimeout, _ = flags.GetDuration("function-timeout")
	}
	if flags.Changed("max-tools") {
		cfg.MaxTools, _ = flags.GetInt("max-tools")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, exitError(exitValidation, "%v", err)
	}
	return cfg, nil
}

// newLogger builds the command logger. Logs always go to w, never to the
// tool output stream.
func newLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	format, _ := cmd.Flags().GetString("log-format")

	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// startRuntime builds a runtime, opens the catalog and runs the startup scan.
func startRuntime(ctx context.Context, cfg config.Config, host tool.Host, logger *slog.Logger) (*petaltools.Runtime, error) {
	catalog, err := petaltools.OpenCatalog(cfg.Catalog)
	if err != nil {
		return nil, exitError(exitRuntime, "opening catalog: %v", err)
	}

	rt, err := petaltools.New(cfg, petaltools.Options{
		Host:    host,
		Catalog: catalog,
		Logger:  logger,
	})
	if err != nil {
		if catalog != nil {
			_ = catalog.Close()
		}
		return nil, exitError(exitValidation, "%v", err)
	}

	if _, err := rt.Start(ctx); err != nil {
		_ = rt.Close(ctx)
		if errors.Is(err, tool.ErrCeilingExceeded) {
			return nil, exitError(exitValidation, "%v", err)
		}
		return nil, exitError(exitRuntime, "%v", err)
	}
	return rt, nil
}
