package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/provider"
	"github.com/ahmethakanbesel/marketdata/internal/target"
)

// ingestTargets refreshes every resolved target up to asOf. A symbol that
// fails is counted and skipped.
func (r *Runner) ingestTargets(ctx context.Context, ctl job.Control, asOf time.Time, st *stats, log *slog.Logger) error {
	targets, err := r.targets.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve targets: %w", err)
	}
	st.symbols = int64(len(targets))
	horizon := asOf.AddDate(0, 0, -r.opts.TargetLookbackDays)

	for _, t := range targets {
		if ctl.Checkpoint(ctx) == job.Cancel {
			return ErrCanceled
		}

		res, err := r.ingestSymbol(ctx, t, horizon, asOf)
		if err != nil {
			if ctx.Err() != nil {
				return ErrCanceled
			}
			log.Warn("symbol ingest failed", "symbol", t.Symbol, "error", err)
			st.fail(fmt.Errorf("%s: %w", t.Symbol, err))
			continue
		}
		st.written.Add(res)
	}
	return nil
}

func (r *Runner) ingestSymbol(ctx context.Context, t target.Resolved, horizon, asOf time.Time) (market.WriteResult, error) {
	start := horizon
	last, ok, err := r.rows.LastBarDate(ctx, t.Symbol)
	if err != nil {
		return market.WriteResult{}, err
	}
	if ok && last.AddDate(0, 0, 1).After(start) {
		start = last.AddDate(0, 0, 1)
	}
	if start.After(asOf) {
		return market.WriteResult{}, nil
	}

	batch, err := r.fetchSymbol(ctx, t, start, asOf)
	if err != nil {
		return market.WriteResult{}, err
	}
	if batch.Len() == 0 {
		return market.WriteResult{}, nil
	}
	return r.rows.SaveDaily(ctx, t.Symbol, batch)
}

// fetchSymbol pulls prices for [from, to]; stocks also get fundamentals and
// money flow.
func (r *Runner) fetchSymbol(ctx context.Context, t target.Resolved, from, to time.Time) (market.DailyBatch, error) {
	q := provider.ForSymbol(t.Symbol, from, to)
	var batch market.DailyBatch

	if t.AssetClass == market.AssetETF {
		bars, err := r.provider.FundDailyBars(ctx, q)
		if err != nil {
			return batch, fmt.Errorf("fund daily: %w", err)
		}
		batch.Bars = bars
		return batch, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bars, err := r.provider.DailyBars(gctx, q)
		if err != nil {
			return fmt.Errorf("daily: %w", err)
		}
		batch.Bars = bars
		return nil
	})
	g.Go(func() error {
		basics, err := r.provider.DailyBasics(gctx, q)
		if err != nil {
			return fmt.Errorf("daily basic: %w", err)
		}
		batch.Basics = basics
		return nil
	})
	g.Go(func() error {
		flows, err := r.provider.MoneyFlows(gctx, q)
		if err != nil {
			return fmt.Errorf("moneyflow: %w", err)
		}
		batch.Flows = flows
		return nil
	})
	if err := g.Wait(); err != nil {
		return market.DailyBatch{}, err
	}
	return batch, nil
}
