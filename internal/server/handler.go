package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/autoingest"
	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/price"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/schedule"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
	"github.com/ahmethakanbesel/marketdata/internal/target"
)

// apiSource tags jobs enqueued over HTTP.
const apiSource = "api"

type handler struct {
	ingest   Ingest
	runs     *run.Service
	targets  Targets
	prices   Prices
	auto     AutoIngest
	settings settings.Store
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	req := job.EnqueueRequest{Scope: run.ScopeBoth, Mode: run.ModeManual}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = apiSource
	}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	res, err := h.ingest.Enqueue(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.ingest.Pause(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ingest.Status())
}

func (h *handler) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.ingest.Resume(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ingest.Status())
}

func (h *handler) cancel(w http.ResponseWriter, _ *http.Request) {
	h.ingest.Cancel()
	writeJSON(w, http.StatusOK, h.ingest.Status())
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ingest.Status())
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	rec, err := h.runs.Get(r.Context(), run.GetRunRequest{ID: id})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := run.ListRunsRequest{
		Scope:  run.Scope(q.Get("scope")),
		Status: run.Status(q.Get("status")),
	}
	for name, dst := range map[string]*int{"limit": &req.Limit, "offset": &req.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}

	resp, err := h.runs.List(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if q.Get("format") == "csv" {
		writeRunsCSV(w, resp.Runs)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := price.GetPricesRequest{
		Symbol: r.PathValue("symbol"),
		Format: q.Get("format"),
	}

	startDateStr := q.Get("startDate")
	if startDateStr == "" {
		writeError(w, http.StatusBadRequest, "startDate is required")
		return
	}
	var err error
	req.StartDate, err = time.Parse(market.DateFormat, startDateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate format, expected YYYY-MM-DD")
		return
	}
	if v := q.Get("endDate"); v != "" {
		req.EndDate, err = time.Parse(market.DateFormat, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid endDate format, expected YYYY-MM-DD")
			return
		}
	}

	resp, err := h.prices.GetPrices(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if req.Format == "csv" {
		writeCSV(w, resp.Bars)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type targetsResponse struct {
	Targets []target.Resolved `json:"targets"`
	Count   int               `json:"count"`
}

func (h *handler) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.targets.Resolve(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if targets == nil {
		targets = []target.Resolved{}
	}
	writeJSON(w, http.StatusOK, targetsResponse{Targets: targets, Count: len(targets)})
}

func (h *handler) previewTargets(w http.ResponseWriter, r *http.Request) {
	var draft target.Config
	if !decodeJSON(w, r, &draft) {
		return
	}
	if appErr := draft.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	diff, err := h.targets.Preview(r.Context(), draft)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (h *handler) getTargetsConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.targets.LoadConfig(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) putTargetsConfig(w http.ResponseWriter, r *http.Request) {
	cfg := target.DefaultConfig()
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := h.targets.SaveConfig(r.Context(), cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	cfg, err := schedule.LoadConfig(r.Context(), h.settings)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) putSchedule(w http.ResponseWriter, r *http.Request) {
	cfg := schedule.DefaultConfig()
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := schedule.SaveConfig(r.Context(), h.settings, cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) getAutoIngest(w http.ResponseWriter, r *http.Request) {
	cfg, err := autoingest.LoadConfig(r.Context(), h.settings)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) putAutoIngest(w http.ResponseWriter, r *http.Request) {
	cfg := autoingest.DefaultConfig()
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := autoingest.SaveConfig(r.Context(), h.settings, cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.auto.Reload(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type dataChangedRequest struct {
	Reason string `json:"reason"`
}

func (h *handler) dataChanged(w http.ResponseWriter, r *http.Request) {
	var req dataChangedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.auto.NotifyDataChanged(r.Context(), strings.TrimSpace(req.Reason))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *handler) getRollout(w http.ResponseWriter, r *http.Request) {
	flags, err := settings.Rollout(r.Context(), h.settings)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (h *handler) putRollout(w http.ResponseWriter, r *http.Request) {
	flags := settings.RolloutFlags{P0Enabled: true}
	if !decodeJSON(w, r, &flags) {
		return
	}
	if err := h.settings.Put(r.Context(), settings.KeyRollout, flags); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

type tokenRequest struct {
	Token string `json:"token"`
}

// putToken stores the provider token override. The token is never echoed.
func (h *handler) putToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token := strings.TrimSpace(req.Token)
	if err := settings.SetToken(r.Context(), h.settings, token); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"tokenSet": token != ""})
}
