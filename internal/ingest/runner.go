// Package ingest runs one queued job to completion: it records the run in the
// ledger, resolves the as-of trade date, executes the targets or universe
// body and seals the run with its terminal status.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/metrics"
	"github.com/ahmethakanbesel/marketdata/internal/provider"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
	"github.com/ahmethakanbesel/marketdata/internal/target"
)

// ErrCanceled is returned by a scope body when a checkpoint answered Cancel.
var ErrCanceled = errors.New("ingest canceled")

// Exchange whose calendar drives as-of resolution and the universe backfill.
const Exchange = "SSE"

// TargetResolver yields the instruments of the targets scope.
type TargetResolver interface {
	Resolve(ctx context.Context) ([]target.Resolved, error)
}

type Options struct {
	// Location is the market timezone used to decide what "today" is.
	Location             *time.Location
	TargetLookbackDays   int
	UniverseLookbackDays int
	// Workers caps concurrent provider calls for one trade date.
	Workers int
}

func (o *Options) applyDefaults() {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.TargetLookbackDays <= 0 {
		o.TargetLookbackDays = 400
	}
	if o.UniverseLookbackDays <= 0 {
		o.UniverseLookbackDays = 30
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
}

// Runner implements job.Runner.
type Runner struct {
	runs     run.Repository
	rows     market.RowStore
	cols     market.ColumnStore
	targets  TargetResolver
	provider provider.Provider
	settings settings.Store
	tokens   provider.TokenSource
	metrics  *metrics.Collector
	log      *slog.Logger
	opts     Options
	now      func() time.Time
}

var (
	_ job.Runner = (*Runner)(nil)
	_ job.Gater  = (*Runner)(nil)
)

type Deps struct {
	Runs     run.Repository
	Rows     market.RowStore
	Columns  market.ColumnStore
	Targets  TargetResolver
	Provider provider.Provider
	Settings settings.Store
	Tokens   provider.TokenSource
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

func NewRunner(d Deps, opts Options) *Runner {
	opts.applyDefaults()
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		runs:     d.Runs,
		rows:     d.Rows,
		cols:     d.Columns,
		targets:  d.Targets,
		provider: d.Provider,
		settings: d.Settings,
		tokens:   d.Tokens,
		metrics:  d.Metrics,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

// stats accumulates the counters of one run.
type stats struct {
	symbols  int64
	written  market.WriteResult
	errors   int64
	failures *multierror.Error
}

func (s *stats) fail(err error) {
	s.errors++
	s.failures = multierror.Append(s.failures, err)
}

// Execute runs j. Pipeline failures are returned after the run is sealed;
// per-item failures only show in the run's counters and status.
func (r *Runner) Execute(ctx context.Context, j *job.Job, ctl job.Control) error {
	log := r.log.With("job", j.ID, "scope", j.Scope, "mode", j.Mode)

	if reason, err := r.Gate(ctx); err != nil {
		return fmt.Errorf("check ingest gate: %w", err)
	} else if reason != "" {
		if j.Mode != run.ModeManual {
			log.Warn("ingest skipped", "reason", reason)
			return nil
		}
		rec := r.newRun(j)
		if err := r.runs.Create(ctx, rec); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		ctl.RunCreated(rec.ID)
		r.seal(ctx, rec, &stats{}, errors.New(reason))
		return apperror.New(apperror.FailedPrecondition, reason)
	}

	rec := r.newRun(j)
	if err := r.runs.Create(ctx, rec); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	ctl.RunCreated(rec.ID)
	log = log.With("run_id", rec.ID)
	log.Info("ingest run started")

	st := &stats{}
	asOf, err := r.resolveAsOf(ctx)
	if err == nil {
		rec.AsOfTradeDate = &asOf
		switch j.Scope {
		case run.ScopeTargets:
			err = r.ingestTargets(ctx, ctl, asOf, st, log)
		case run.ScopeUniverse:
			err = r.ingestUniverse(ctx, ctl, asOf, st, log)
		default:
			err = fmt.Errorf("unsupported scope %q", j.Scope)
		}
	}

	r.seal(ctx, rec, st, err)
	log.Info("ingest run finished", "status", rec.Status, "symbols", rec.SymbolCount,
		"inserted", rec.Inserted, "updated", rec.Updated, "errors", rec.Errors)

	if rec.Status == run.StatusFailed {
		if err != nil {
			return err
		}
		return st.failures.ErrorOrNil()
	}
	return nil
}

// Gate returns a non-empty reason when ingestion must not touch the
// provider: rollout disabled or no token.
func (r *Runner) Gate(ctx context.Context) (string, error) {
	flags, err := settings.Rollout(ctx, r.settings)
	if err != nil {
		return "", err
	}
	if !flags.P0Enabled {
		return "managed ingestion is disabled by rollout flags", nil
	}
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return provider.ErrNoToken.Error(), nil
	}
	return "", nil
}

func (r *Runner) newRun(j *job.Job) *run.Run {
	meta := maps.Clone(j.Meta)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta["source"] = j.Source
	meta["job_id"] = j.ID
	return &run.Run{
		Scope:     j.Scope,
		Mode:      j.Mode,
		Status:    run.StatusRunning,
		StartedAt: r.now().UTC(),
		Meta:      meta,
	}
}

// seal writes the terminal state of rec. It runs even when ctx is already
// cancelled so an interrupted run never stays open.
func (r *Runner) seal(ctx context.Context, rec *run.Run, st *stats, pipelineErr error) {
	rec.SymbolCount = st.symbols
	rec.Inserted = st.written.Inserted
	rec.Updated = st.written.Updated
	rec.Errors = st.errors
	rec.Status, rec.ErrorMessage = finalStatus(st, pipelineErr)
	if rec.Status == run.StatusCanceled {
		rec.Errors = 0
	}
	finished := r.now().UTC()
	rec.FinishedAt = &finished

	if err := r.runs.Finish(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Error("seal run", "run_id", rec.ID, "error", err)
	}
	r.metrics.RunFinished(string(rec.Scope), string(rec.Status), finished.Sub(rec.StartedAt), rec.Inserted, rec.Updated)
}

func finalStatus(st *stats, pipelineErr error) (run.Status, *string) {
	switch {
	case errors.Is(pipelineErr, ErrCanceled):
		return run.StatusCanceled, nil
	case pipelineErr != nil:
		msg := pipelineErr.Error()
		return run.StatusFailed, &msg
	case st.errors == 0:
		return run.StatusSuccess, nil
	}

	msg := st.failures.Error()
	if st.written.Total() == 0 {
		return run.StatusFailed, &msg
	}
	return run.StatusPartial, &msg
}
