package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/price"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
	"github.com/ahmethakanbesel/marketdata/internal/target"
)

// Ingest is the control surface of the orchestrator.
type Ingest interface {
	Enqueue(ctx context.Context, req job.EnqueueRequest) (*job.EnqueueResult, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Cancel()
	Status() job.Status
}

type Targets interface {
	LoadConfig(ctx context.Context) (target.Config, error)
	SaveConfig(ctx context.Context, cfg target.Config) error
	Resolve(ctx context.Context) ([]target.Resolved, error)
	Preview(ctx context.Context, draft target.Config) (*target.Diff, error)
}

type Prices interface {
	GetPrices(ctx context.Context, req price.GetPricesRequest) (*price.GetPricesResponse, error)
}

// AutoIngest receives data-changed events and config reloads.
type AutoIngest interface {
	NotifyDataChanged(ctx context.Context, reason string)
	Reload(ctx context.Context) error
}

type Deps struct {
	Ingest     Ingest
	Runs       *run.Service
	Targets    Targets
	Prices     Prices
	AutoIngest AutoIngest
	Settings   settings.Store
	// Metrics serves the Prometheus exposition; nil disables /metrics.
	Metrics  http.Handler
	Observer RequestObserver
	Log      *slog.Logger
}

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(deps Deps) http.Handler {
	return newMux(deps)
}

func newMux(deps Deps) http.Handler {
	h := &handler{
		ingest:   deps.Ingest,
		runs:     deps.Runs,
		targets:  deps.Targets,
		prices:   deps.Prices,
		auto:     deps.AutoIngest,
		settings: deps.Settings,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("POST /api/v1/ingest", h.enqueue)
	mux.HandleFunc("POST /api/v1/ingest/pause", h.pause)
	mux.HandleFunc("POST /api/v1/ingest/resume", h.resume)
	mux.HandleFunc("POST /api/v1/ingest/cancel", h.cancel)
	mux.HandleFunc("GET /api/v1/ingest/status", h.status)

	mux.HandleFunc("GET /api/v1/runs", h.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.getRun)

	mux.HandleFunc("GET /api/v1/prices/{symbol}", h.getPrices)

	mux.HandleFunc("GET /api/v1/targets", h.listTargets)
	mux.HandleFunc("POST /api/v1/targets/preview", h.previewTargets)
	mux.HandleFunc("GET /api/v1/targets/config", h.getTargetsConfig)
	mux.HandleFunc("PUT /api/v1/targets/config", h.putTargetsConfig)

	mux.HandleFunc("GET /api/v1/schedule", h.getSchedule)
	mux.HandleFunc("PUT /api/v1/schedule", h.putSchedule)
	mux.HandleFunc("GET /api/v1/auto-ingest", h.getAutoIngest)
	mux.HandleFunc("PUT /api/v1/auto-ingest", h.putAutoIngest)
	mux.HandleFunc("POST /api/v1/events/data-changed", h.dataChanged)

	mux.HandleFunc("GET /api/v1/settings/rollout", h.getRollout)
	mux.HandleFunc("PUT /api/v1/settings/rollout", h.putRollout)
	mux.HandleFunc("PUT /api/v1/settings/token", h.putToken)

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return chain(mux, recovery(log), requestID, accessLog(log, deps.Observer))
}
