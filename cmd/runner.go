package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/soulmesh/soulmesh/internal/downloads"
	"github.com/soulmesh/soulmesh/internal/events"
	"github.com/soulmesh/soulmesh/internal/formatter"
	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/registry"
	"github.com/soulmesh/soulmesh/internal/repositories"
	"github.com/soulmesh/soulmesh/internal/search"
	"github.com/soulmesh/soulmesh/internal/services"
	"github.com/soulmesh/soulmesh/internal/shared"
	"github.com/soulmesh/soulmesh/internal/transfer"
)

// coreModuleName is the registry name of the application root. It provides
// the module.status operation and is always healthy while the process runs.
const coreModuleName = "core"

// Core bundles the wired orchestration components. One Core is built per
// invocation; there are no package-level singletons.
type Core struct {
	DB        *sql.DB
	Bus       *events.Bus
	Registry  *registry.Registry
	Monitor   *registry.HealthMonitor
	Router    *registry.Router
	Repo      *repositories.DownloadRepository
	Slskd     *services.SlskdService
	Breaker   *transfer.Breaker
	Downloads *downloads.Service
	Search    *search.Service
}

// Close releases the Core's resources.
func (c *Core) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config *shared.Config
	logger *log.Logger
	output io.Writer
	core   *Core
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
	Core   *Core // pre-wired core, used by tests; built lazily when nil
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config: opts.Config,
		logger: opts.Logger,
		output: opts.Output,
		core:   opts.Core,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, statusCommand, searchCommand, downloadCommand, eventsCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// buildCore opens the database and wires the bus, registries, router and
// service modules. Subsequent calls return the same Core.
func (r *Runner) buildCore() (*Core, error) {
	if r.core != nil {
		return r.core, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	bus := events.NewBus(events.BusOpts{
		HistorySize: r.config.Events.HistorySize,
		MaxHops:     r.config.Events.MaxHops,
		Logger:      r.logger,
	})

	slskd := services.NewSlskdService(services.SlskdOpts{
		BaseURL:      r.config.Slskd.BaseURL,
		APIKey:       r.config.Slskd.APIKey,
		DownloadsDir: r.config.Slskd.DownloadsDir,
	})
	breaker := transfer.NewBreaker(slskd, transfer.BreakerOpts{
		FailureThreshold: r.config.Breaker.FailureThreshold,
		Cooldown:         r.config.BreakerCooldown(),
		Logger:           shared.WithLogger(r.logger, "component", "breaker"),
	})

	repo := repositories.NewDownloadRepository(db)
	downloadService := downloads.NewService(downloads.ServiceOpts{
		Store:  repo,
		Client: breaker,
		Bus:    bus,
		Logger: shared.WithLogger(r.logger, "module", downloads.ModuleName),
		Backoff: downloads.Backoff{
			Base: shared.SecondsDuration(r.config.Downloads.BaseDelaySeconds),
			Max:  shared.SecondsDuration(r.config.Downloads.MaxDelaySeconds),
		},
		MaxRetries:       r.config.Downloads.MaxRetries,
		Workers:          r.config.Downloads.Workers,
		ProgressInterval: r.config.ProgressInterval(),
		TempDir:          r.config.Downloads.TempDir,
		LibraryDir:       r.config.Downloads.LibraryDir,
	})
	searchService := search.NewService(search.ServiceOpts{
		Provider: slskd,
		Bus:      bus,
		Logger:   shared.WithLogger(r.logger, "module", search.ModuleName),
	})

	reg := registry.NewRegistry()
	monitor := registry.NewHealthMonitor(registry.HealthMonitorOpts{
		Interval: r.config.HealthInterval(),
		Timeout:  r.config.HealthTimeout(),
		Logger:   r.logger,
		Bus:      bus,
	})
	router := registry.NewRouter(reg, monitor, r.logger)

	core := &Core{
		DB:        db,
		Bus:       bus,
		Registry:  reg,
		Monitor:   monitor,
		Router:    router,
		Repo:      repo,
		Slskd:     slskd,
		Breaker:   breaker,
		Downloads: downloadService,
		Search:    searchService,
	}

	if err := wireCapabilities(core, monitor); err != nil {
		db.Close()
		return nil, err
	}

	r.core = core
	return core, nil
}

// coreModule is the application root's registry presence.
type coreModule struct {
	monitor  *registry.HealthMonitor
	registry *registry.Registry
}

func (m *coreModule) Name() string { return coreModuleName }

// HandleModuleStatus is the typed capability handler for module.status.
func (m *coreModule) HandleModuleStatus(ctx context.Context, params models.Params) (any, error) {
	if _, ok := params.(models.ModuleStatusParams); !ok {
		return nil, fmt.Errorf("%w: expected ModuleStatusParams, got %T", shared.ErrInvalidArgument, params)
	}

	statuses := make(map[string]string)
	for name, status := range m.monitor.Statuses() {
		statuses[name] = string(status)
	}
	return StatusReport{
		Modules:    statuses,
		Operations: m.registry.Operations(),
	}, nil
}

// StatusReport is the module.status result.
type StatusReport struct {
	Modules    map[string]string `json:"modules"`
	Operations []string          `json:"operations"`
}

// wireCapabilities registers the modules, their operations and their health
// checks. The search and downloads modules share the slskd daemon, so both
// health checks ride on the breaker-guarded ping.
func wireCapabilities(core *Core, monitor *registry.HealthMonitor) error {
	root := &coreModule{monitor: monitor, registry: core.Registry}
	core.Registry.RegisterModule(root)
	core.Registry.RegisterModule(core.Search)
	core.Registry.RegisterModule(core.Downloads)

	bindings := []struct {
		operation string
		provider  string
		required  []string
		handler   registry.Handler
	}{
		{models.OpModuleStatus, coreModuleName, nil, root.HandleModuleStatus},
		{models.OpSearchTrack, search.ModuleName, nil, core.Search.HandleSearchTrack},
		{models.OpDownloadTrack, downloads.ModuleName, nil, core.Downloads.HandleDownloadTrack},
		{models.OpDownloadPause, downloads.ModuleName, nil, core.Downloads.HandlePauseDownload},
		{models.OpDownloadResume, downloads.ModuleName, nil, core.Downloads.HandleResumeDownload},
		{models.OpDownloadCancel, downloads.ModuleName, nil, core.Downloads.HandleCancelDownload},
	}
	for _, b := range bindings {
		if err := core.Registry.RegisterCapability(b.operation, b.provider, 0, b.required, b.handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", b.operation, err)
		}
	}

	monitor.RegisterCheck(coreModuleName, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	daemonCheck := func(ctx context.Context) (bool, error) {
		if err := core.Breaker.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	monitor.RegisterCheck(search.ModuleName, daemonCheck)
	monitor.RegisterCheck(downloads.ModuleName, daemonCheck)
	return nil
}

// route refreshes health state and executes one operation through the router.
func (r *Runner) route(ctx context.Context, params models.Params) (any, error) {
	core, err := r.buildCore()
	if err != nil {
		return nil, err
	}
	core.Monitor.Tick(ctx)
	return core.Router.Route(ctx, params, true)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := formatter.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
