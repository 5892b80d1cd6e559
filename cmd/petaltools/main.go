package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petaltools/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "petaltools",
	Short: "Tool discovery and execution runtime",
	Long:  "petaltools discovers function and CLI tools, registers them with an MCP host, and runs them through one dispatcher.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("petaltools version %s\n", version))

	rootCmd.AddCommand(cli.NewServeCmd(version))
	rootCmd.AddCommand(cli.NewToolsCmd())
}
