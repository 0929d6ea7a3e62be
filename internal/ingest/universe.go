package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/provider"
)

// catalog is the set of symbols the universe backfill keeps.
type catalog struct {
	stocks map[string]struct{}
	etfs   map[string]struct{}
}

func (c catalog) size() int { return len(c.stocks) + len(c.etfs) }

// ingestUniverse backfills full-market tables one open trade date at a time,
// starting after the stored cursor. Each date commits with its cursor
// advance, so a crash resumes at the first uncommitted date. A failed date
// stops the backfill rather than leaving a gap.
func (r *Runner) ingestUniverse(ctx context.Context, ctl job.Control, asOf time.Time, st *stats, log *slog.Logger) error {
	cat, err := r.syncCatalog(ctx)
	if err != nil {
		return err
	}
	st.symbols = int64(cat.size())

	from := asOf.AddDate(0, 0, -r.opts.UniverseLookbackDays)
	cursor, ok, err := r.cols.Cursor(ctx, market.CursorUniverse)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	if ok {
		from = cursor.AddDate(0, 0, 1)
	}
	if from.After(asOf) {
		log.Info("universe already current", "cursor", cursor.Format(market.DateFormat))
		return nil
	}

	dates, err := r.rows.OpenDates(ctx, Exchange, from, asOf)
	if err != nil {
		return fmt.Errorf("list open dates: %w", err)
	}
	log.Info("universe backfill planned", "from", from.Format(market.DateFormat),
		"to", asOf.Format(market.DateFormat), "dates", len(dates))

	for _, d := range dates {
		if ctl.Checkpoint(ctx) == job.Cancel {
			return ErrCanceled
		}

		batch, err := r.fetchDate(ctx, d, cat)
		if err == nil {
			var res market.WriteResult
			res, err = r.cols.CommitTradeDate(ctx, d, batch)
			st.written.Add(res)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ErrCanceled
			}
			log.Warn("trade date ingest failed", "trade_date", d.Format(market.DateFormat), "error", err)
			st.fail(fmt.Errorf("%s: %w", d.Format(market.DateFormat), err))
			return nil
		}
		log.Debug("trade date committed", "trade_date", d.Format(market.DateFormat), "rows", batch.Len())
	}
	return nil
}

func (r *Runner) syncCatalog(ctx context.Context) (catalog, error) {
	stocks, err := r.provider.StockBasics(ctx)
	if err != nil {
		return catalog{}, fmt.Errorf("fetch stock catalog: %w", err)
	}
	funds, err := r.provider.FundBasics(ctx)
	if err != nil {
		return catalog{}, fmt.Errorf("fetch fund catalog: %w", err)
	}
	if _, err := r.cols.SaveInstruments(ctx, slices.Concat(stocks, funds)); err != nil {
		return catalog{}, fmt.Errorf("save catalog: %w", err)
	}

	cat := catalog{
		stocks: make(map[string]struct{}, len(stocks)),
		etfs:   make(map[string]struct{}, len(funds)),
	}
	for _, s := range stocks {
		cat.stocks[s.Symbol] = struct{}{}
	}
	for _, f := range funds {
		cat.etfs[f.Symbol] = struct{}{}
	}
	return cat, nil
}

// fetchDate pulls the four full-market tables for d in parallel and keeps
// rows of catalogued instruments only.
func (r *Runner) fetchDate(ctx context.Context, d time.Time, cat catalog) (market.DailyBatch, error) {
	q := provider.ForDate(d)
	var (
		stockBars, fundBars []market.Bar
		basics              []market.Basic
		flows               []market.Flow
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	g.Go(func() (err error) {
		stockBars, err = r.provider.DailyBars(gctx, q)
		return wrap("daily", err)
	})
	g.Go(func() (err error) {
		fundBars, err = r.provider.FundDailyBars(gctx, q)
		return wrap("fund daily", err)
	})
	g.Go(func() (err error) {
		basics, err = r.provider.DailyBasics(gctx, q)
		return wrap("daily basic", err)
	})
	g.Go(func() (err error) {
		flows, err = r.provider.MoneyFlows(gctx, q)
		return wrap("moneyflow", err)
	})
	if err := g.Wait(); err != nil {
		return market.DailyBatch{}, err
	}

	return market.DailyBatch{
		Bars:   append(keep(stockBars, cat.stocks, barSymbol), keep(fundBars, cat.etfs, barSymbol)...),
		Basics: keep(basics, cat.stocks, func(b market.Basic) string { return b.Symbol }),
		Flows:  keep(flows, cat.stocks, func(f market.Flow) string { return f.Symbol }),
	}, nil
}

func barSymbol(b market.Bar) string { return b.Symbol }

func keep[T any](rows []T, set map[string]struct{}, symbol func(T) string) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if _, ok := set[symbol(row)]; ok {
			out = append(out, row)
		}
	}
	return out
}

func wrap(api string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", api, err)
	}
	return nil
}
