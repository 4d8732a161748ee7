package cli

import (
	"fmt"
	"os"

	"transkriptor/internal/chunkplanner"
	"transkriptor/internal/config"
	"transkriptor/internal/database"
	"transkriptor/internal/driver"
	"transkriptor/internal/eventstream"
	"transkriptor/internal/fallbackengine"
	"transkriptor/internal/remoteengine"
	"transkriptor/internal/repository"
	"transkriptor/pkg/logger"
)

// app bundles a command's collaborators, built fresh for each invocation
// (a short-lived CLI process runs one job at a time).
type app struct {
	cfg    *config.Config
	store  *repository.JobStore
	driver *driver.Driver
}

func newApp() (*app, error) {
	cfg := config.Load()
	logger.Init(os.Getenv("LOG_LEVEL"))

	if err := database.Initialize(cfg.DBPath()); err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	store := repository.NewJobStore(database.DB)

	planner := chunkplanner.New(cfg.FFmpegBin, cfg.FFprobeBin)
	remote := remoteengine.New(cfg.OpenAIAPIKey, cfg.OpenAIRequestTimeoutSec)
	fallback := fallbackengine.Default()
	events := eventstream.New(os.Stdout)

	drv := driver.New(store, planner, remote, fallback, cfg, events)
	return &app{cfg: cfg, store: store, driver: drv}, nil
}
