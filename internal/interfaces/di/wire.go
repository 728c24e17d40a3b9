//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	procp "kilometers.ai/procorch/internal/core/ports/process"
	configinfra "kilometers.ai/procorch/internal/infrastructure/config"
	procinfra "kilometers.ai/procorch/internal/infrastructure/process"
)

// InitializeComponents builds the logger, orchestrator and services for cfg
func InitializeComponents(cfg *configinfra.Config) (*Components, error) {
	wire.Build(
		provideLogger,
		provideSettings,

		// Orchestrator
		procinfra.NewOrchestratorWithSettings,
		wire.Bind(new(procp.Orchestrator), new(*procinfra.Orchestrator)),

		// Services
		provideBatchService,

		wire.Struct(new(Components), "*"),
	)

	return nil, nil
}
