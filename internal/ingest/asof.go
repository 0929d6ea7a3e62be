package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/market"
)

const (
	calendarYearsBack   = 5
	calendarDaysForward = 40
)

var errNoTradeDate = errors.New("no open trade date on or before today")

// today is the current calendar date in the market timezone.
func (r *Runner) today() time.Time {
	return market.Day(r.now().In(r.opts.Location))
}

// resolveAsOf refreshes the trading calendar and returns the latest open
// date not after today. A failed refresh falls back to the stored calendar.
func (r *Runner) resolveAsOf(ctx context.Context) (time.Time, error) {
	today := r.today()
	from := today.AddDate(-calendarYearsBack, 0, 0)
	to := today.AddDate(0, 0, calendarDaysForward)

	days, err := r.provider.TradeCalendar(ctx, Exchange, from, to)
	if err != nil {
		if ctx.Err() != nil {
			return time.Time{}, ErrCanceled
		}
		r.log.Warn("calendar refresh failed, using stored calendar", "error", err)
	} else if err := r.rows.SaveCalendar(ctx, days); err != nil {
		return time.Time{}, fmt.Errorf("save calendar: %w", err)
	}

	asOf, ok, err := r.rows.LatestOpenDate(ctx, Exchange, today)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve as-of date: %w", err)
	}
	if !ok {
		return time.Time{}, errNoTradeDate
	}
	return asOf, nil
}
