package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ahmethakanbesel/marketdata/internal/autoingest"
	"github.com/ahmethakanbesel/marketdata/internal/config"
	"github.com/ahmethakanbesel/marketdata/internal/ingest"
	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/metrics"
	"github.com/ahmethakanbesel/marketdata/internal/platform/duckdb"
	"github.com/ahmethakanbesel/marketdata/internal/platform/sqlite"
	"github.com/ahmethakanbesel/marketdata/internal/price"
	"github.com/ahmethakanbesel/marketdata/internal/provider/tushare"
	marketrepo "github.com/ahmethakanbesel/marketdata/internal/repository/market"
	runrepo "github.com/ahmethakanbesel/marketdata/internal/repository/run"
	settingsrepo "github.com/ahmethakanbesel/marketdata/internal/repository/settings"
	targetrepo "github.com/ahmethakanbesel/marketdata/internal/repository/target"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/schedule"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
	"github.com/ahmethakanbesel/marketdata/internal/target"
)

// app holds the wired components shared by the serve and ingest commands.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	rowDB    *sqlite.DB
	colDB    *duckdb.DB
	settings *settingsrepo.Repository
	runs     *run.Service
	targets  *target.Resolver
	prices   *price.Service
	metrics  *metrics.Collector
	orch     *job.Orchestrator
	sched    *schedule.Scheduler
	auto     *autoingest.Trigger
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	rowDB, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	colDB, err := duckdb.Open(cfg.DuckDBPath)
	if err != nil {
		_ = rowDB.Close()
		return nil, fmt.Errorf("open analytical store: %w", err)
	}

	// Repositories
	settingsRepo := settingsrepo.NewRepository(rowDB.DB)
	runRepo := runrepo.NewRepository(rowDB.DB)
	rows := marketrepo.NewRowRepository(rowDB.DB)
	cols := marketrepo.NewColumnRepository(colDB.DB)

	tokens := settings.TokenSource{Store: settingsRepo, Fallback: cfg.ProviderToken}
	client := tushare.New(tokens,
		tushare.WithBaseURL(cfg.ProviderURL),
		tushare.WithRateLimit(cfg.ProviderRPS),
		tushare.WithTimeout(cfg.ProviderTimeout),
	)

	collector := metrics.NewCollector()
	resolver := target.NewResolver(settingsRepo, targetrepo.NewSource(rowDB.DB))
	runner := ingest.NewRunner(ingest.Deps{
		Runs:     runRepo,
		Rows:     rows,
		Columns:  cols,
		Targets:  resolver,
		Provider: client,
		Settings: settingsRepo,
		Tokens:   tokens,
		Metrics:  collector,
		Logger:   log.With("component", "runner"),
	}, ingest.Options{
		Location:             cfg.Location(),
		TargetLookbackDays:   cfg.TargetLookbackDays,
		UniverseLookbackDays: cfg.UniverseLookbackDays,
		Workers:              cfg.Workers,
	})
	orch := job.NewOrchestrator(runner, settingsRepo, log.With("component", "orchestrator"), collector)

	runSvc := run.NewService(runRepo)
	// Seal runs left open by a previous process before new ones start.
	if err := runSvc.RecoverStaleRuns(ctx); err != nil {
		log.Error("failed to recover stale runs", "error", err)
	}

	return &app{
		cfg:      cfg,
		log:      log,
		rowDB:    rowDB,
		colDB:    colDB,
		settings: settingsRepo,
		runs:     runSvc,
		targets:  resolver,
		prices:   price.NewService(rows, ingest.Exchange),
		metrics:  collector,
		orch:     orch,
		sched:    schedule.New(settingsRepo, orch, log),
		auto:     autoingest.New(settingsRepo, orch, log),
	}, nil
}

func (a *app) Close() {
	if err := a.colDB.Close(); err != nil {
		a.log.Error("close analytical store", "error", err)
	}
	if err := a.rowDB.Close(); err != nil {
		a.log.Error("close database", "error", err)
	}
}
