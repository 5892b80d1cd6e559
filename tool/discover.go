package tool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultReservedPrefix marks directory entries discovery always ignores.
	DefaultReservedPrefix = "_"
	// CLIManifestName is the manifest file of a directory CLI entry.
	CLIManifestName = "tool.yaml"

	maxHeaderBytes = 64 * 1024
)

// Files with these extensions in the CLI directory are documentation or
// data, never entries.
var cliIgnoredExts = map[string]struct{}{
	".yaml": {},
	".yml":  {},
	".md":   {},
	".txt":  {},
	".json": {},
}

// CLIManifest is the optional tool.yaml of a directory CLI entry.
type CLIManifest struct {
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description"`
	Command     string   `yaml:"command,omitempty"`
	Args        []string `yaml:"args,omitempty"`
	Label       string   `yaml:"label,omitempty"`
}

// DiscovererConfig configures a Discoverer.
type DiscovererConfig struct {
	FunctionsDir string
	CLIDir       string
	// ReservedPrefix defaults to "_". Dot-prefixed entries are always skipped.
	ReservedPrefix string
	// Loader loads function units. Defaults to PluginLoader.
	Loader UnitLoader
	// CLIPrefix is the fixed invocation prefix placed before a CLI entry's
	// identifier, for example ["python", "-m"]. When empty the entry path is
	// executed directly.
	CLIPrefix []string
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Discoverer scans the function and CLI tool directories and builds
// descriptors. It registers nothing.
type Discoverer struct {
	functionsDir   string
	cliDir         string
	reservedPrefix string
	loader         UnitLoader
	cliPrefix      []string
	logger         *slog.Logger

	mu     sync.Mutex
	loaded map[string]time.Time
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(cfg DiscovererConfig) *Discoverer {
	if cfg.ReservedPrefix == "" {
		cfg.ReservedPrefix = DefaultReservedPrefix
	}
	if cfg.Loader == nil {
		cfg.Loader = PluginLoader{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discoverer{
		functionsDir:   cfg.FunctionsDir,
		cliDir:         cfg.CLIDir,
		reservedPrefix: cfg.ReservedPrefix,
		loader:         cfg.Loader,
		cliPrefix:      slices.Clone(cfg.CLIPrefix),
		logger:         cfg.Logger,
		loaded:         make(map[string]time.Time),
	}
}

// FunctionsDir returns the function tool root.
func (d *Discoverer) FunctionsDir() string { return d.functionsDir }

// CLIDir returns the CLI tool root.
func (d *Discoverer) CLIDir() string { return d.cliDir }

// Eligible reports whether a directory entry name may hold a tool.
func (d *Discoverer) Eligible(name string) bool {
	return name != "" && !strings.HasPrefix(name, d.reservedPrefix) && !strings.HasPrefix(name, ".")
}

// DiscoverFunctions loads every eligible unit under the functions directory.
// A unit that fails to load is logged and skipped. A missing root, or one
// with no eligible unit, returns an error wrapping ErrDiscoveryNotFound.
func (d *Discoverer) DiscoverFunctions(ctx context.Context) ([]Descriptor, error) {
	return d.discoverFunctions(ctx, false)
}

// DiscoverChangedFunctions is DiscoverFunctions for rescans: a unit whose
// modification time matches the one seen at its last load is not loaded
// again, whether that load succeeded or not.
func (d *Discoverer) DiscoverChangedFunctions(ctx context.Context) ([]Descriptor, error) {
	return d.discoverFunctions(ctx, true)
}

func (d *Discoverer) discoverFunctions(ctx context.Context, changedOnly bool) ([]Descriptor, error) {
	paths, err := d.candidates(d.functionsDir, func(path string, entry fs.DirEntry) bool {
		return !entry.IsDir() && d.loader.Match(path)
	})
	if err != nil {
		return nil, err
	}

	var out []Descriptor
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		modTime := fileModTime(path)
		if changedOnly && d.seen(path, modTime) {
			continue
		}
		descs, err := d.LoadFunctionUnit(ctx, path)
		d.markLoaded(path, modTime)
		if err != nil {
			d.logger.Warn("tool: skipping unit",
				slog.String("path", path),
				slog.String("code", ToolErrorCodeLoadFailure),
				slog.Any("error", err),
			)
			continue
		}
		out = append(out, descs...)
	}
	return out, nil
}

func (d *Discoverer) seen(path string, modTime time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.loaded[path]
	return ok && !modTime.After(last)
}

func (d *Discoverer) markLoaded(path string, modTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded[path] = modTime
}

// LoadFunctionUnit loads one unit and returns the descriptors of its tool
// entry points. An export is accepted only when its name equals the unit
// identifier, it is invocable, it is not private, and it has a description.
func (d *Discoverer) LoadFunctionUnit(ctx context.Context, path string) ([]Descriptor, error) {
	exports, err := d.loader.Load(ctx, path)
	if err != nil {
		return nil, newToolError(ToolErrorCodeLoadFailure, fmt.Sprintf("tool: load %s", path), false, err)
	}

	unit := UnitName(path)
	modTime := fileModTime(path)
	var out []Descriptor
	for _, export := range exports {
		if export.Name != unit {
			d.logger.Debug("tool: ignoring incidental export",
				slog.String("unit", unit),
				slog.String("export", export.Name),
			)
			continue
		}
		fn, async, ok := handlerFromSymbol(export.Symbol)
		if !ok {
			d.logger.Warn("tool: export is not invocable", slog.String("unit", unit), slog.String("type", fmt.Sprintf("%T", export.Symbol)))
			continue
		}
		if export.Private {
			d.logger.Warn("tool: export is private", slog.String("unit", unit))
			continue
		}
		if strings.TrimSpace(export.Description) == "" {
			d.logger.Warn("tool: export has no description", slog.String("unit", unit))
			continue
		}
		out = append(out, Descriptor{
			Name:        export.Name,
			Kind:        KindFunction,
			Description: strings.TrimSpace(export.Description),
			Origin:      path,
			Func:        fn,
			Async:       async,
			ModTime:     modTime,
		})
	}
	return out, nil
}

// DiscoverCLI builds descriptors for every eligible entry under the CLI
// directory. Entries without a description are skipped.
func (d *Discoverer) DiscoverCLI(ctx context.Context) ([]Descriptor, error) {
	paths, err := d.candidates(d.cliDir, func(path string, entry fs.DirEntry) bool {
		if entry.IsDir() {
			return true
		}
		_, skip := cliIgnoredExts[strings.ToLower(filepath.Ext(path))]
		return !skip
	})
	if err != nil {
		return nil, err
	}

	var out []Descriptor
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, err := d.LoadCLIEntry(path)
		if err != nil {
			d.logger.Warn("tool: skipping cli entry",
				slog.String("path", path),
				slog.Any("error", err),
			)
			continue
		}
		out = append(out, desc)
	}
	return out, nil
}

// LoadCLIEntry builds the descriptor of one CLI entry. A directory entry is
// described by its tool.yaml; a file entry by its leading comment block or
// docstring.
func (d *Discoverer) LoadCLIEntry(path string) (Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Descriptor{}, newToolError(ToolErrorCodeLoadFailure, "tool: stat "+path, false, err)
	}

	ident := UnitName(path)
	var manifest CLIManifest
	if info.IsDir() {
		manifest, err = readCLIManifest(filepath.Join(path, CLIManifestName))
		if err != nil {
			return Descriptor{}, err
		}
	} else {
		manifest.Description, err = readHeaderDescription(path)
		if err != nil {
			return Descriptor{}, err
		}
	}
	if strings.TrimSpace(manifest.Description) == "" {
		return Descriptor{}, newToolError(ToolErrorCodeInvalidRequest, "tool: cli entry "+ident+" has no description", false, nil)
	}

	name := ident
	if strings.TrimSpace(manifest.Name) != "" {
		name = strings.TrimSpace(manifest.Name)
	}
	label := manifest.Label
	if label == "" {
		label = name
	}

	var command Command
	switch {
	case strings.TrimSpace(manifest.Command) != "":
		program := manifest.Command
		if info.IsDir() && strings.ContainsRune(program, '/') && !filepath.IsAbs(program) {
			program = filepath.Join(path, program)
		}
		command = Command{Program: program, Args: slices.Clone(manifest.Args)}
	case len(d.cliPrefix) > 0:
		args := append(slices.Clone(d.cliPrefix[1:]), ident)
		command = Command{Program: d.cliPrefix[0], Args: append(args, manifest.Args...)}
	case info.IsDir():
		return Descriptor{}, newToolError(ToolErrorCodeInvalidRequest, "tool: cli entry "+ident+" needs a command in "+CLIManifestName, false, nil)
	default:
		abs, err := filepath.Abs(path)
		if err != nil {
			return Descriptor{}, newToolError(ToolErrorCodeLoadFailure, "tool: resolve "+path, false, err)
		}
		command = Command{Program: abs}
	}
	command.Label = label

	return Descriptor{
		Name:        name,
		Kind:        KindCLI,
		Description: strings.TrimSpace(manifest.Description),
		Origin:      path,
		Command:     command,
		ModTime:     info.ModTime(),
	}, nil
}

func (d *Discoverer) candidates(root string, keep func(path string, entry fs.DirEntry) bool) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, newToolError(ToolErrorCodeDiscoveryNotFound, "tool: discovery root is not configured", false, ErrDiscoveryNotFound)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newToolError(ToolErrorCodeDiscoveryNotFound, "tool: discovery root "+root+" does not exist", false, ErrDiscoveryNotFound)
		}
		return nil, newToolError(ToolErrorCodeDiscoveryNotFound, "tool: read discovery root "+root, false, errors.Join(ErrDiscoveryNotFound, err))
	}

	var out []string
	for _, entry := range entries {
		if !d.Eligible(entry.Name()) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if keep(path, entry) {
			out = append(out, path)
		}
	}
	if len(out) == 0 {
		return nil, newToolError(ToolErrorCodeDiscoveryNotFound, "tool: no eligible units in "+root, false, ErrDiscoveryNotFound)
	}
	return out, nil
}

func readCLIManifest(path string) (CLIManifest, error) {
	// #nosec G304 -- manifest path derives from the configured cli directory.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CLIManifest{}, nil
		}
		return CLIManifest{}, newToolError(ToolErrorCodeLoadFailure, "tool: read "+path, false, err)
	}
	var manifest CLIManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return CLIManifest{}, newToolError(ToolErrorCodeLoadFailure, "tool: parse "+path, false, err)
	}
	return manifest, nil
}

// readHeaderDescription returns the leading comment block of a script, or
// its leading triple-quoted docstring. A shebang line is ignored.
func readHeaderDescription(path string) (string, error) {
	// #nosec G304 -- entry path derives from the configured cli directory.
	f, err := os.Open(path)
	if err != nil {
		return "", newToolError(ToolErrorCodeLoadFailure, "tool: open "+path, false, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxHeaderBytes)

	var (
		lines     []string
		docstring string
		first     = true
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first && strings.HasPrefix(line, "#!") {
			first = false
			continue
		}
		first = false

		if docstring != "" {
			if idx := strings.Index(line, docstring); idx >= 0 {
				lines = append(lines, strings.TrimSpace(line[:idx]))
				break
			}
			lines = append(lines, line)
			continue
		}
		switch {
		case len(lines) == 0 && (strings.HasPrefix(line, `"""`) || strings.HasPrefix(line, `'''`)):
			docstring = line[:3]
			rest := line[3:]
			if idx := strings.Index(rest, docstring); idx >= 0 {
				return strings.TrimSpace(rest[:idx]), nil
			}
			lines = append(lines, strings.TrimSpace(rest))
			continue
		case strings.HasPrefix(line, "#"):
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		case strings.HasPrefix(line, "//"):
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(line, "//")))
			continue
		case line == "" && len(lines) == 0:
			continue
		}
		break
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, bufio.ErrTooLong) {
		return "", newToolError(ToolErrorCodeLoadFailure, "tool: read "+path, false, err)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func fileModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
