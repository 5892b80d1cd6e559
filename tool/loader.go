package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/google/uuid"
)

// ExportsSymbol is the symbol a function-tool plugin must export. Its type is
// func() []tool.Export.
const ExportsSymbol = "Exports"

// Export is one symbol a unit offers for registration. Only an export whose
// Name equals the unit identifier is a tool entry point; everything else is
// incidental.
type Export struct {
	Name        string
	Description string
	Private     bool
	// Symbol is the exported value: a Func, an AsyncFunc, or a plain function
	// with one of their signatures. Anything else is not invocable.
	Symbol any
}

// UnitLoader loads the exports of one function-tool unit from disk.
type UnitLoader interface {
	// Match reports whether a directory entry is a unit this loader handles.
	Match(path string) bool
	Load(ctx context.Context, path string) ([]Export, error)
}

// UnitName returns the identifier of a unit path: its base name without
// extension.
func UnitName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// PluginLoader loads Go plugins (.so) built with -buildmode=plugin.
//
// The runtime caches plugins by path and never unloads them, so each load
// opens a uniquely named shadow copy; a rebuilt .so at the same path can then
// be loaded again. The copy is unlinked once plugin.Open returns; the mapping
// outlives the file. A plugin whose package path is already loaded still
// fails with the runtime's error, which callers treat as a load failure.
type PluginLoader struct {
	// ShadowDir holds shadow copies. Defaults to os.TempDir()/petaltools-plugins.
	ShadowDir string
}

// Match accepts .so files.
func (l PluginLoader) Match(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".so")
}

// Load opens the plugin and returns its exports.
func (l PluginLoader) Load(ctx context.Context, path string) ([]Export, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shadow, err := l.shadowCopy(path)
	if err != nil {
		return nil, err
	}
	p, err := plugin.Open(shadow)
	_ = os.Remove(shadow)
	if err != nil {
		return nil, fmt.Errorf("tool: open plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(ExportsSymbol)
	if err != nil {
		return nil, fmt.Errorf("tool: plugin %s: %w", path, err)
	}

	switch exports := sym.(type) {
	case func() []Export:
		return exports(), nil
	case *func() []Export:
		return (*exports)(), nil
	case *[]Export:
		return *exports, nil
	default:
		return nil, fmt.Errorf("tool: plugin %s: symbol %s has type %T, want func() []tool.Export", path, ExportsSymbol, sym)
	}
}

func (l PluginLoader) shadowCopy(path string) (string, error) {
	dir := l.ShadowDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "petaltools-plugins")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("tool: create plugin shadow dir: %w", err)
	}

	// #nosec G304 -- plugin paths come from the configured functions directory.
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("tool: open plugin %s: %w", path, err)
	}
	defer src.Close()

	shadow := filepath.Join(dir, UnitName(path)+"-"+uuid.NewString()+".so")
	dst, err := os.OpenFile(shadow, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("tool: create plugin shadow: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(shadow)
		return "", fmt.Errorf("tool: copy plugin %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(shadow)
		return "", fmt.Errorf("tool: close plugin shadow: %w", err)
	}
	return shadow, nil
}

// UnitTable is an in-process loader for units compiled into the binary. A
// file in the functions directory whose identifier has an entry in the table
// is a unit; its exports come from the table instead of from the file.
type UnitTable map[string][]Export

// Match accepts files whose identifier is in the table.
func (t UnitTable) Match(path string) bool {
	_, ok := t[UnitName(path)]
	return ok
}

// Load returns the table entry for the unit.
func (t UnitTable) Load(ctx context.Context, path string) ([]Export, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exports, ok := t[UnitName(path)]
	if !ok {
		return nil, fmt.Errorf("tool: unit %s is not in the table", UnitName(path))
	}
	return exports, nil
}

// ChainLoader tries each loader in order and uses the first that matches.
type ChainLoader []UnitLoader

// Match reports whether any loader matches.
func (c ChainLoader) Match(path string) bool {
	return c.pick(path) != nil
}

// Load delegates to the first matching loader.
func (c ChainLoader) Load(ctx context.Context, path string) ([]Export, error) {
	loader := c.pick(path)
	if loader == nil {
		return nil, fmt.Errorf("tool: no loader for %s", path)
	}
	return loader.Load(ctx, path)
}

func (c ChainLoader) pick(path string) UnitLoader {
	for _, loader := range c {
		if loader != nil && loader.Match(path) {
			return loader
		}
	}
	return nil
}

func handlerFromSymbol(symbol any) (Func, AsyncFunc, bool) {
	switch fn := symbol.(type) {
	case Func:
		return fn, nil, fn != nil
	case func(context.Context, Args) (any, error):
		return Func(fn), nil, fn != nil
	case AsyncFunc:
		return nil, fn, fn != nil
	case func(context.Context, Args) *Future:
		return nil, AsyncFunc(fn), fn != nil
	default:
		return nil, nil, false
	}
}

var (
	_ UnitLoader = PluginLoader{}
	_ UnitLoader = UnitTable{}
	_ UnitLoader = ChainLoader{}
)
