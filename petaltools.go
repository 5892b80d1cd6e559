// Package petaltools wires tool discovery, registration and dispatch into a
// single runtime.
//
// A Runtime scans a functions directory (Go plugins or in-process unit
// tables) and a CLI directory (executables and manifest directories), binds
// every described tool to a Host, and executes calls through one
// Dispatcher. Rescans triggered by file changes or a schedule add new tools
// and rebuild changed ones without touching the call path.
package petaltools

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/petal-labs/petaltools/config"
	"github.com/petal-labs/petaltools/tool"
)

// OpenCatalog opens the catalog store selected by cfg. It returns nil for an
// empty driver.
func OpenCatalog(cfg config.CatalogConfig) (tool.Catalog, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case config.CatalogDriverSQLite:
		path := cfg.Path
		if path == "" {
			var err error
			if path, err = tool.DefaultSQLiteCatalogPath(); err != nil {
				return nil, err
			}
		}
		return tool.NewSQLiteCatalog(config.ExpandHome(path))
	case config.CatalogDriverFile:
		path := cfg.Path
		if path == "" {
			var err error
			if path, err = tool.DefaultFileCatalogPath(); err != nil {
				return nil, err
			}
		}
		return tool.NewFileCatalog(config.ExpandHome(path)), nil
	default:
		return nil, fmt.Errorf("petaltools: unknown catalog driver %q", cfg.Driver)
	}
}

func platformOf(cfg config.Config) string {
	if cfg.CLI.Platform != "" {
		return cfg.CLI.Platform
	}
	return runtime.GOOS
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
