package app

import (
	"github.com/ternarybob/arbor"

	"github.com/aubreys-it/en-export/internal/browser"
	"github.com/aubreys-it/en-export/internal/common"
	"github.com/aubreys-it/en-export/internal/handlers"
	"github.com/aubreys-it/en-export/internal/interfaces"
	"github.com/aubreys-it/en-export/internal/services/export"
	"github.com/aubreys-it/en-export/internal/services/scheduler"
	"github.com/aubreys-it/en-export/internal/storage/azure"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Export pipeline
	ObjectStore  interfaces.ObjectStore
	Orchestrator interfaces.ExportRunner

	// Built-in scheduler (optional, config-gated)
	SchedulerService interfaces.SchedulerService

	// HTTP handlers
	ExportHandler *handlers.ExportHandler
	APIHandler    *handlers.APIHandler
}

// New wires the application components. Configuration has already been
// validated, so a construction failure here is an infrastructure
// problem, not a missing setting.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	store, err := azure.NewBlobStore(config.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.ObjectStore = store

	sessionFactory := func(downloadDir string) (interfaces.BrowserSession, error) {
		return browser.NewSession(config.Browser, downloadDir, logger)
	}
	a.Orchestrator = export.NewOrchestrator(config, store, sessionFactory, logger)

	a.ExportHandler = handlers.NewExportHandler(a.Orchestrator, logger)
	a.APIHandler = handlers.NewAPIHandler()

	if config.Export.Enabled {
		a.SchedulerService = scheduler.NewService(a.Orchestrator, config.Export.Schedule, logger)
		if err := a.SchedulerService.Start(); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Close stops background services.
func (a *App) Close() {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}
}
