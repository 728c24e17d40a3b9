package di

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"

	"kilometers.ai/procorch/internal/application/services"
	configinfra "kilometers.ai/procorch/internal/infrastructure/config"
	procinfra "kilometers.ai/procorch/internal/infrastructure/process"
	"kilometers.ai/procorch/internal/interfaces/cli"
)

// Container holds all application dependencies
type Container struct {
	mu sync.Mutex

	// Configuration
	Config     *configinfra.Config
	FileLoader *configinfra.FileLoader

	// Infrastructure
	Orchestrator *procinfra.Orchestrator

	// Application services
	BatchService *services.BatchService

	// CLI
	CLIContainer *cli.CLIContainer

	// Logger
	Logger hclog.Logger
}

// NewContainer creates and configures the dependency injection container. A
// configuration that fails to load is reported and replaced by the defaults; the
// CLI reloads it with flag overrides before any command runs.
func NewContainer() (*Container, error) {
	container := &Container{
		FileLoader:   configinfra.NewFileLoader(),
		CLIContainer: &cli.CLIContainer{},
	}
	container.CLIContainer.MainContainer = container

	cfg, err := configinfra.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load configuration, using defaults: %v\n", err)
		cfg = configinfra.Default()
	}

	if err := container.initializeComponents(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return container, nil
}

// Configure reloads configuration from configPath with the given overrides and
// rebuilds every component that depends on it
func (c *Container) Configure(configPath string, overrides cli.Overrides) error {
	cfg, err := configinfra.Load(configPath)
	if err != nil {
		return err
	}

	if overrides.Debug != nil {
		cfg.Debug = *overrides.Debug
		cfg.Sources["debug"] = "flag"
	}
	if overrides.LogLevel != nil {
		cfg.LogLevel = *overrides.LogLevel
		cfg.Sources["log_level"] = "flag"
	}

	return c.initializeComponents(cfg)
}

// initializeComponents initializes all components with proper dependencies
func (c *Container) initializeComponents(cfg *configinfra.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	components, err := InitializeComponents(cfg)
	if err != nil {
		return err
	}

	c.Config = components.Config
	c.Logger = components.Logger
	c.Orchestrator = components.Orchestrator
	c.BatchService = components.BatchService

	// CLI container, updated in place so commands built earlier see the change
	c.CLIContainer.Config = cfg
	c.CLIContainer.Logger = c.Logger
	c.CLIContainer.Orchestrator = c.Orchestrator
	c.CLIContainer.BatchService = c.BatchService
	c.CLIContainer.FileLoader = c.FileLoader
	c.CLIContainer.ConfigPath = cfg.Path

	c.Logger.Debug("container initialized",
		"config", cfg.Path,
		"max_output", cfg.MaxOutputBytes,
		"kill_grace", cfg.KillGrace,
		"wait_delay", cfg.WaitDelay)
	return nil
}

// GetCLIContainer returns the CLI container for command execution
func (c *Container) GetCLIContainer() *cli.CLIContainer {
	return c.CLIContainer
}

// GetVersion returns version information
func (c *Container) GetVersion() map[string]string {
	return map[string]string{
		"version":    cli.Version,
		"build_time": cli.BuildTime,
	}
}
