package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petaltools"
	"github.com/petal-labs/petaltools/tool"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and call discovered tools",
	}
	AddRuntimeFlags(cmd)

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsCallCmd())
	cmd.AddCommand(newToolsCatalogCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Discover tools and list the ones that register",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

type toolListEntry struct {
	Name        string    `json:"name"`
	Kind        tool.Kind `json:"kind"`
	Description string    `json:"description"`
	Origin      string    `json:"origin,omitempty"`
	Command     string    `json:"command,omitempty"`
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The catalog records serve sessions, not listings.
	cfg.Catalog.Driver = ""

	rt, err := startRuntime(cmd.Context(), cfg, nil, newLogger(cmd, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	descs := rt.Registry().List()
	entries := make([]toolListEntry, 0, len(descs))
	for _, d := range descs {
		entry := toolListEntry{
			Name:        d.Name,
			Kind:        d.Kind,
			Description: d.Description,
			Origin:      d.Origin,
		}
		if d.Kind == tool.KindCLI {
			entry.Command = d.Command.String()
		}
		entries = append(entries, entry)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd, entries)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tKIND\tDESCRIPTION")
	for _, entry := range entries {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", entry.Name, entry.Kind, firstLine(entry.Description))
	}
	return writer.Flush()
}

func newToolsCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <name> [positional...]",
		Short: "Invoke one tool and print its normalized result",
		Long: "Invoke one tool through the dispatcher and print the result as JSON.\n" +
			"Named arguments are given as --arg key=value; values that parse as JSON keep their type.",
		Args: cobra.MinimumNArgs(1),
		RunE: runToolsCall,
	}
	cmd.Flags().StringArray("arg", nil, "Named argument key=value (repeatable)")
	cmd.Flags().Bool("envelope", false, "Print the transport envelope instead of the full result")
	return cmd
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	named, err := parseNamedArgs(cmd)
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}
	positional := make([]any, 0, len(args)-1)
	for _, raw := range args[1:] {
		positional = append(positional, parseArgValue(raw))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Catalog.Driver = ""

	rt, err := startRuntime(cmd.Context(), cfg, nil, newLogger(cmd, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	result := rt.Call(cmd.Context(), name, tool.Args{Positional: positional, Named: named})

	if envelope, _ := cmd.Flags().GetBool("envelope"); envelope {
		err = writeJSON(cmd, result.Envelope())
	} else {
		err = writeJSON(cmd, result)
	}
	if err != nil {
		return err
	}
	if result.IsError {
		return exitError(exitToolError, "tool %s failed: %s", name, result.Code)
	}
	return nil
}

func newToolsCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the tools recorded in the registration catalog",
		Args:  cobra.NoArgs,
		RunE:  runToolsCatalog,
	}
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func runToolsCatalog(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Catalog.Driver == "" {
		return exitError(exitValidation, "catalog is disabled (set catalog.driver in the config)")
	}

	catalog, err := petaltools.OpenCatalog(cfg.Catalog)
	if err != nil {
		return exitError(exitRuntime, "opening catalog: %v", err)
	}
	defer catalog.Close()

	records, err := catalog.List(cmd.Context())
	if err != nil {
		return exitError(exitRuntime, "reading catalog: %v", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd, records)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tKIND\tREVISION\tUPDATED\tORIGIN")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n",
			rec.Name,
			rec.Kind,
			rec.Revision,
			rec.UpdatedAt.UTC().Format(time.RFC3339),
			rec.Origin,
		)
	}
	return writer.Flush()
}

func parseNamedArgs(cmd *cobra.Command) (map[string]any, error) {
	pairs, _ := cmd.Flags().GetStringArray("arg")
	if len(pairs) == 0 {
		return nil, nil
	}
	named := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q: want key=value", pair)
		}
		named[key] = parseArgValue(value)
	}
	return named, nil
}

// parseArgValue keeps JSON scalars, arrays and objects typed; anything else
// is a string.
func parseArgValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return exitError(exitRuntime, "encoding output: %v", err)
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

