// Package config loads the petaltools runtime configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/petaltools/reload"
)

const (
	projectConfigName = "petaltools.yaml"
	homeConfigDir     = ".petaltools"
	homeConfigName    = "config.yaml"
)

// ErrNotFound reports an explicit config path that does not exist.
var ErrNotFound = errors.New("config file not found")

// Defaults applied by WithDefaults.
const (
	DefaultFunctionsDir   = "tools/functions"
	DefaultCLIDir         = "tools/cli"
	DefaultReservedPrefix = "_"
	DefaultMaxTools       = 129
	DefaultCLITimeout     = 60 * time.Second
	DefaultMaxConcurrent  = 16
)

// Catalog drivers.
const (
	CatalogDriverSQLite = "sqlite"
	CatalogDriverFile   = "file"
)

// Config is the runtime configuration shape of petaltools.yaml.
type Config struct {
	FunctionsDir   string `yaml:"functions_dir"`
	CLIDir         string `yaml:"cli_dir"`
	ReservedPrefix string `yaml:"reserved_prefix"`
	MaxTools       int    `yaml:"max_tools"`

	CLI CLIConfig `yaml:"cli"`

	// FunctionTimeout bounds one in-process call. Zero disables it.
	FunctionTimeout time.Duration `yaml:"function_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`

	// Watch enables rebuild on file change. Nil means enabled.
	Watch          *bool  `yaml:"watch"`
	RescanSchedule string `yaml:"rescan_schedule"`

	Catalog CatalogConfig `yaml:"catalog"`
}

// CLIConfig configures CLI tool execution.
type CLIConfig struct {
	// Prefix is the fixed invocation prefix placed before the entry identifier.
	Prefix []string `yaml:"prefix"`
	// Environment is the shared execution environment to activate.
	Environment string        `yaml:"environment"`
	Timeout     time.Duration `yaml:"timeout"`
	// Platform overrides the host platform (a GOOS value).
	Platform string            `yaml:"platform"`
	Env      map[string]string `yaml:"env"`
}

// CatalogConfig selects the catalog store. An empty driver disables it.
type CatalogConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// WatchEnabled reports whether file watching is on.
func (c Config) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.FunctionsDir) == "" {
		c.FunctionsDir = DefaultFunctionsDir
	}
	if strings.TrimSpace(c.CLIDir) == "" {
		c.CLIDir = DefaultCLIDir
	}
	if c.ReservedPrefix == "" {
		c.ReservedPrefix = DefaultReservedPrefix
	}
	if c.MaxTools == 0 {
		c.MaxTools = DefaultMaxTools
	}
	if c.CLI.Timeout == 0 {
		c.CLI.Timeout = DefaultCLITimeout
	}
	if c.CLI.Platform == "" {
		c.CLI.Platform = runtime.GOOS
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}

// Validate reports invalid values. Call it after WithDefaults.
func (c Config) Validate() error {
	var errs []error
	if c.MaxTools < 1 {
		errs = append(errs, fmt.Errorf("max_tools must be positive, got %d", c.MaxTools))
	}
	if c.CLI.Timeout < 0 {
		errs = append(errs, fmt.Errorf("cli.timeout must not be negative, got %s", c.CLI.Timeout))
	}
	if c.FunctionTimeout < 0 {
		errs = append(errs, fmt.Errorf("function_timeout must not be negative, got %s", c.FunctionTimeout))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent))
	}
	if strings.TrimSpace(c.RescanSchedule) != "" {
		if _, err := reload.ParseSchedule(c.RescanSchedule); err != nil {
			errs = append(errs, fmt.Errorf("rescan_schedule: %w", err))
		}
	}
	switch c.Catalog.Driver {
	case "", CatalogDriverSQLite, CatalogDriverFile:
	default:
		errs = append(errs, fmt.Errorf("catalog.driver must be %q, %q or empty, got %q",
			CatalogDriverSQLite, CatalogDriverFile, c.Catalog.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Load reads and parses one config file. Environment references are
// expanded before parsing, and relative directories are resolved against
// the file's directory.
func Load(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	baseDir := filepath.Dir(path)
	cfg.FunctionsDir = resolvePath(baseDir, cfg.FunctionsDir)
	cfg.CLIDir = resolvePath(baseDir, cfg.CLIDir)
	cfg.CLI.Environment = resolvePath(baseDir, cfg.CLI.Environment)
	cfg.Catalog.Path = resolvePath(baseDir, cfg.Catalog.Path)
	return cfg, nil
}

// Parse decodes YAML config bytes after environment expansion.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Discover resolves the config location with first-match semantics:
// the explicit path, then ./petaltools.yaml, then ~/.petaltools/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath) != ""
	if explicit {
		candidates = append(candidates, filepath.Clean(strings.TrimSpace(explicitPath)))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return "", false, fmt.Errorf("%w: %q", ErrNotFound, candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadOrDefault discovers and loads the config. When no file is found the
// zero config is returned with found=false.
func LoadOrDefault(explicitPath string) (Config, string, error) {
	path, found, err := Discover(explicitPath)
	if err != nil {
		return Config{}, "", err
	}
	if !found {
		return Config{}, "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func resolvePath(baseDir, path string) string {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return ""
	}
	clean = ExpandHome(clean)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
