package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	petalotel "github.com/petal-labs/petaltools/otel"
	"github.com/petal-labs/petaltools/tool"
	"github.com/petal-labs/petaltools/tool/mcp"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve discovered tools over MCP on stdin/stdout",
		Long: "Discover function and CLI tools, register them, and answer MCP requests on stdin/stdout.\n" +
			"Logs are written to stderr.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}
	AddRuntimeFlags(cmd)
	cmd.Flags().Bool("no-watch", false, "Disable rebuild on file change")
	cmd.Flags().String("rescan-schedule", "", "Cron schedule for periodic rescans (overrides config)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace endpoint host:port (disabled when empty)")
	cmd.Flags().Bool("otlp-insecure", false, "Use plain HTTP for the OTLP endpoint")
	return cmd
}

func runServe(cmd *cobra.Command, version string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		disabled := false
		cfg.Watch = &disabled
	}
	if cmd.Flags().Changed("rescan-schedule") {
		cfg.RescanSchedule, _ = cmd.Flags().GetString("rescan-schedule")
		if err := cfg.Validate(); err != nil {
			return exitError(exitValidation, "%v", err)
		}
	}

	logger := newLogger(cmd, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	insecure, _ := cmd.Flags().GetBool("otlp-insecure")
	providers, err := petalotel.NewProviders(ctx, petalotel.ProviderConfig{
		OTLPEndpoint: endpoint,
		Insecure:     insecure,
	})
	if err != nil {
		return exitError(exitRuntime, "configuring telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	otelapi.SetTracerProvider(providers.Tracer)
	otelapi.SetMeterProvider(providers.Meter)
	observer, err := providers.Observer()
	if err != nil {
		return exitError(exitRuntime, "configuring telemetry: %v", err)
	}
	tool.SetObserver(observer)
	defer tool.SetObserver(nil)

	server := mcp.NewServer(mcp.ServerOptions{
		Info:   mcp.ServerInfo{Name: "petaltools", Version: version},
		Logger: logger,
	})

	rt, err := startRuntime(ctx, cfg, server, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(closeCtx)
	}()

	if err := rt.Watch(ctx); err != nil {
		return exitError(exitValidation, "%v", err)
	}

	logger.Info("petaltools: serving",
		"tools", rt.Registry().Count(),
		"max_tools", rt.Registry().Max(),
	)
	transport := mcp.NewStreamTransport(cmd.InOrStdin(), cmd.OutOrStdout(), nil)
	if err := server.Serve(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitRuntime, "serving: %v", err)
	}
	return nil
}
