package di

import (
	"github.com/hashicorp/go-hclog"

	"kilometers.ai/procorch/internal/application/services"
	procp "kilometers.ai/procorch/internal/core/ports/process"
	configinfra "kilometers.ai/procorch/internal/infrastructure/config"
	procinfra "kilometers.ai/procorch/internal/infrastructure/process"
	"kilometers.ai/procorch/internal/logging"
)

// Components is everything built from a loaded configuration
type Components struct {
	Config       *configinfra.Config
	Logger       hclog.Logger
	Orchestrator *procinfra.Orchestrator
	BatchService *services.BatchService
}

func provideLogger(cfg *configinfra.Config) hclog.Logger {
	return logging.NewLogger(logging.Options{
		Level: cfg.LogLevel,
		Debug: cfg.Debug,
		JSON:  cfg.LogJSON,
	})
}

func provideSettings(cfg *configinfra.Config) procinfra.Settings {
	settings := procinfra.DefaultSettings()
	settings.MaxOutputBytes = cfg.MaxOutputBytes
	settings.WaitDelay = cfg.WaitDelay
	return settings
}

func provideBatchService(orchestrator procp.Orchestrator, logger hclog.Logger, cfg *configinfra.Config) *services.BatchService {
	return services.NewBatchService(orchestrator, logger, cfg.KillGrace)
}
