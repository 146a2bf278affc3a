// Package app wires the service components together and owns the
// process lifecycle.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mohantyajitesh/docuextract-pro/internal/api"
	"github.com/mohantyajitesh/docuextract-pro/internal/config"
	"github.com/mohantyajitesh/docuextract-pro/internal/cron"
	"github.com/mohantyajitesh/docuextract-pro/internal/export"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
	"github.com/mohantyajitesh/docuextract-pro/internal/ingest"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
	"github.com/mohantyajitesh/docuextract-pro/internal/metrics"
	"github.com/mohantyajitesh/docuextract-pro/internal/pipeline"
	"github.com/mohantyajitesh/docuextract-pro/internal/store"
	"github.com/mohantyajitesh/docuextract-pro/internal/vision"
)

// How long shutdown waits for in-flight documents to finish.
const drainTimeout = 30 * time.Second

type App struct {
	Config  *config.Config
	Store   *store.Store
	Logger  *zap.Logger
	Version string
}

func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) *App {
	return &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Version: version,
	}
}

// RunServer starts every component and blocks until SIGINT or SIGTERM,
// then shuts them down in dependency order: stop taking work, drain the
// queue, close storage.
func (app *App) RunServer() {
	met := metrics.New()

	// The model stays nil when vision is disabled. Assigning a nil
	// *vision.Client here would produce a non-nil interface value, so
	// the concrete client is only assigned inside the enabled branch.
	var visionClient *vision.Client
	var model extract.VisionModel
	if app.Config.Vision.Enabled {
		visionClient = vision.NewClient(app.Config.Vision)
		model = visionClient
		app.Logger.Info("Vision runtime enabled",
			zap.String("base_url", app.Config.Vision.BaseURL),
			zap.String("model", app.Config.Vision.Model),
		)
	} else {
		app.Logger.Info("Vision runtime disabled")
	}

	manager := jobs.NewManager(app.Logger)
	processor := pipeline.NewProcessor(app.Config, model, app.Logger, met)

	queue := jobs.NewQueue(processor.Run(manager, app.Store), app.Logger,
		jobs.WithWorkers(app.Config.Processing.Workers),
		jobs.WithQueueSize(app.Config.Processing.QueueSize),
	)
	met.ObserveQueueDepth(queue.Depth)

	cronRunner := cron.NewRunner(app.Config, app.Store, app.Logger)
	if err := cronRunner.Start(); err != nil {
		app.Logger.Error("Failed to start retention runner", zap.Error(err))
	}

	var watcher *ingest.Watcher
	if app.Config.Ingest.Enabled && len(app.Config.Ingest.WatchDirs) > 0 {
		watcher = ingest.NewWatcher(app.Config, manager, queue, app.Logger)
		if err := watcher.Start(); err != nil {
			app.Logger.Error("Failed to start ingest watcher", zap.Error(err))
			watcher = nil
		}
	}

	server := api.New(app.Config, api.Deps{
		Manager:  manager,
		Queue:    queue,
		Store:    app.Store,
		Exporter: export.NewExporter(app.Config.Storage.OutputDir),
		Vision:   visionClient,
		Metrics:  met,
	}, app.Logger)

	go func() {
		if err := server.Start(); err != nil {
			app.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("version", app.Version),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info("Shutting down...")

	if watcher != nil {
		watcher.Stop()
	}
	cronRunner.Stop()

	if err := server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	queue.Shutdown(drainCtx)

	if err := app.Store.Close(); err != nil {
		app.Logger.Error("Store close error", zap.Error(err))
	}
}
