package petaltools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petal-labs/petaltools/config"
	"github.com/petal-labs/petaltools/reload"
	"github.com/petal-labs/petaltools/tool"
)

// Options supplies the collaborators a Runtime does not build from config.
type Options struct {
	// Host receives every registered tool. Nil registers into the registry only.
	Host tool.Host
	// Loader loads function units. Defaults to tool.PluginLoader.
	Loader tool.UnitLoader
	// Catalog records registrations. Nil disables it.
	Catalog tool.Catalog
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// StartReport summarizes the startup scan.
type StartReport struct {
	Functions  int
	CLI        int
	Registered int
	// Skipped lists categories whose root was missing or empty.
	Skipped []tool.Kind
}

// Runtime owns one registry and the pipeline feeding it.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	catalog    tool.Catalog
	registry   *tool.Registry
	dispatcher *tool.Dispatcher
	registrar  *tool.Registrar
	discoverer *tool.Discoverer

	rescanMu sync.Mutex

	mu        sync.Mutex
	watcher   *reload.Watcher
	scheduler *reload.Scheduler
}

// New builds a runtime from cfg. Defaults are applied and the result is
// validated.
func New(cfg config.Config, opts Options) (*Runtime, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := loggerOr(opts.Logger)

	if _, err := tool.PlatformFamily(platformOf(cfg)); err != nil {
		// CLI calls will fail with UNSUPPORTED_PLATFORM; function tools still work.
		logger.Warn("petaltools: cli tools cannot run on this platform",
			slog.String("platform", platformOf(cfg)),
		)
	}

	registry := tool.NewRegistry(cfg.MaxTools)
	dispatcher := tool.NewDispatcher(tool.DispatcherConfig{
		Registry: registry,
		Invoker: tool.NewInvoker(tool.InvokerConfig{
			MaxConcurrent: int64(cfg.MaxConcurrent),
			Timeout:       cfg.FunctionTimeout,
		}),
		Runner: tool.NewCLIRunner(tool.CLIRunnerConfig{
			Environment: cfg.CLI.Environment,
			Timeout:     cfg.CLI.Timeout,
			GOOS:        platformOf(cfg),
			Env:         cfg.CLI.Env,
		}),
		Logger: logger,
	})
	registrar, err := tool.NewRegistrar(tool.RegistrarConfig{
		Registry:   registry,
		Dispatcher: dispatcher,
		Host:       opts.Host,
		Catalog:    opts.Catalog,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		catalog:    opts.Catalog,
		registry:   registry,
		dispatcher: dispatcher,
		registrar:  registrar,
		discoverer: tool.NewDiscoverer(tool.DiscovererConfig{
			FunctionsDir:   cfg.FunctionsDir,
			CLIDir:         cfg.CLIDir,
			ReservedPrefix: cfg.ReservedPrefix,
			Loader:         opts.Loader,
			CLIPrefix:      cfg.CLI.Prefix,
			Logger:         logger,
		}),
	}, nil
}

// Config returns the effective configuration.
func (r *Runtime) Config() config.Config { return r.cfg }

// Registry returns the tool registry.
func (r *Runtime) Registry() *tool.Registry { return r.registry }

// Dispatcher returns the dispatcher every host handler delegates to.
func (r *Runtime) Dispatcher() *tool.Dispatcher { return r.dispatcher }

// Call invokes a registered tool by name. It never fails; errors are
// reported in the result.
func (r *Runtime) Call(ctx context.Context, name string, args tool.Args) tool.Result {
	return r.dispatcher.Call(ctx, name, args)
}

// Start discovers both tool categories and registers them, function tools
// first. A category whose root is missing or empty is skipped; when both
// are, Start fails. Crossing the tool ceiling is fatal.
func (r *Runtime) Start(ctx context.Context) (StartReport, error) {
	var report StartReport

	functions, fnErr := r.discoverCategory(ctx, tool.KindFunction, r.discoverer.DiscoverFunctions)
	if fnErr != nil && !errors.Is(fnErr, tool.ErrDiscoveryNotFound) {
		return report, fnErr
	}
	commands, cliErr := r.discoverCategory(ctx, tool.KindCLI, r.discoverer.DiscoverCLI)
	if cliErr != nil && !errors.Is(cliErr, tool.ErrDiscoveryNotFound) {
		return report, cliErr
	}
	if fnErr != nil {
		report.Skipped = append(report.Skipped, tool.KindFunction)
	}
	if cliErr != nil {
		report.Skipped = append(report.Skipped, tool.KindCLI)
	}
	if fnErr != nil && cliErr != nil {
		return report, fmt.Errorf("petaltools: no tools discovered: %w", errors.Join(fnErr, cliErr))
	}
	report.Functions = len(functions)
	report.CLI = len(commands)

	r.rescanMu.Lock()
	defer r.rescanMu.Unlock()

	registered, err := r.registrar.RegisterAll(ctx, append(functions, commands...))
	report.Registered = registered
	if err != nil {
		return report, fmt.Errorf("petaltools: startup aborted: %w", err)
	}

	r.logger.Info("petaltools: tools registered",
		slog.Int("functions", report.Functions),
		slog.Int("cli", report.CLI),
		slog.Int("registered", registered),
		slog.Int("max_tools", r.registry.Max()),
	)
	return report, nil
}

func (r *Runtime) discoverCategory(ctx context.Context, kind tool.Kind, discover func(context.Context) ([]tool.Descriptor, error)) ([]tool.Descriptor, error) {
	descs, err := discover(ctx)
	if err != nil {
		if errors.Is(err, tool.ErrDiscoveryNotFound) {
			r.logger.Error("petaltools: tool category unavailable",
				slog.String("kind", string(kind)),
				slog.String("code", tool.ErrorCode(err)),
				slog.Any("error", err),
			)
		}
		return nil, err
	}
	return descs, nil
}

// Rescan re-discovers both categories and reconciles them with the registry.
// New tools are added, changed ones rebuilt, and nothing is removed. Function
// units are reloaded only when their modification time moved. Rescans are
// serialized; calls keep running against the current descriptors.
func (r *Runtime) Rescan(ctx context.Context, trigger string) (tool.SyncResult, error) {
	r.rescanMu.Lock()
	defer r.rescanMu.Unlock()

	started := time.Now()
	var descs []tool.Descriptor
	for _, discover := range []func(context.Context) ([]tool.Descriptor, error){
		r.discoverer.DiscoverChangedFunctions,
		r.discoverer.DiscoverCLI,
	} {
		found, err := discover(ctx)
		if err != nil && !errors.Is(err, tool.ErrDiscoveryNotFound) {
			return tool.SyncResult{}, err
		}
		descs = append(descs, found...)
	}

	result, err := r.registrar.Sync(ctx, descs)
	durationMS := time.Since(started).Milliseconds()
	tool.EmitRescanObservation(tool.RescanObservation{
		Trigger:    trigger,
		Discovered: len(descs),
		Added:      result.Added,
		Rebuilt:    result.Rebuilt,
		Failed:     result.Failed,
		DurationMS: durationMS,
	})

	level := slog.LevelInfo
	if result.Added == 0 && result.Rebuilt == 0 && result.Failed == 0 {
		level = slog.LevelDebug
	}
	r.logger.Log(ctx, level, "petaltools: rescan complete",
		slog.String("trigger", trigger),
		slog.Int("discovered", len(descs)),
		slog.Int("added", result.Added),
		slog.Int("rebuilt", result.Rebuilt),
		slog.Int("failed", result.Failed),
		slog.Int64("duration_ms", durationMS),
	)
	if err != nil {
		r.logger.Error("petaltools: rescan hit the tool ceiling", slog.Any("error", err))
	}
	return result, err
}

// Watch starts the file watcher and the rescan schedule as configured. Both
// stop when ctx is canceled or Close is called.
func (r *Runtime) Watch(ctx context.Context) error {
	rescan := func(ctx context.Context, trigger string) {
		_, _ = r.Rescan(ctx, trigger)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.WatchEnabled() && r.watcher == nil {
		watcher := reload.NewWatcher(reload.WatcherConfig{
			Roots:  []string{r.cfg.FunctionsDir, r.cfg.CLIDir},
			Logger: r.logger,
		})
		if err := watcher.Start(ctx, rescan); err != nil {
			r.logger.Warn("petaltools: file watching disabled", slog.Any("error", err))
		} else {
			r.watcher = watcher
		}
	}

	if r.cfg.RescanSchedule != "" && r.scheduler == nil {
		scheduler, err := reload.NewScheduler(reload.SchedulerConfig{
			Schedule: r.cfg.RescanSchedule,
			Logger:   r.logger,
		})
		if err != nil {
			return err
		}
		if err := scheduler.Start(ctx, rescan); err != nil {
			return err
		}
		r.scheduler = scheduler
	}
	return nil
}

// Close stops watching and closes the catalog.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	watcher, scheduler := r.watcher, r.scheduler
	r.watcher, r.scheduler = nil, nil
	r.mu.Unlock()

	var errs []error
	if watcher != nil {
		errs = append(errs, watcher.Stop())
	}
	if scheduler != nil {
		errs = append(errs, scheduler.Stop(ctx))
	}
	if r.catalog != nil {
		errs = append(errs, r.catalog.Close())
	}
	return errors.Join(errs...)
}
