package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"stocksync/config"
	"stocksync/logger"
	"stocksync/services/datafetcher"
	"stocksync/services/freshness"
	"stocksync/services/registry"
	"stocksync/services/store"
	syncsvc "stocksync/services/sync"
)

// app bundles the wired components every subcommand needs.
type app struct {
	cfg          *config.Config
	log          *logrus.Logger
	registry     *registry.SQLiteRegistry
	store        *store.Client
	calendar     *freshness.Calendar
	engine       *freshness.Engine
	loader       *syncsvc.Loader
	updater      *syncsvc.Updater
	orchestrator *syncsvc.Orchestrator
}

// buildApp loads config and wires the full dependency graph.
func buildApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg)
	if err != nil {
		return nil, err
	}
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	reg, err := registry.Open(cfg.RegistryDBPath, log)
	if err != nil {
		return nil, err
	}

	storeClient, err := store.NewClient(cfg, log)
	if err != nil {
		return nil, err
	}

	calendar := freshness.NewCalendar(cfg.MarketLocation(), cfg.MarketOpenHour, cfg.MarketCloseHour)
	engine := freshness.NewEngine(calendar, cfg.IntradayCooldown)

	provider := datafetcher.NewVNDirectProvider(cfg, log)
	loader := syncsvc.NewLoader(provider, provider, storeClient, reg, calendar, cfg, log)
	updater := syncsvc.NewUpdater(provider, storeClient, reg, calendar, cfg, log)
	orchestrator := syncsvc.NewOrchestrator(engine, loader, updater, storeClient, reg, cfg, log)

	return &app{
		cfg:          cfg,
		log:          log,
		registry:     reg,
		store:        storeClient,
		calendar:     calendar,
		engine:       engine,
		loader:       loader,
		updater:      updater,
		orchestrator: orchestrator,
	}, nil
}

func (a *app) close() {
	if err := a.registry.Close(); err != nil {
		a.log.Warnf("Failed to close registry: %v", err)
	}
}
