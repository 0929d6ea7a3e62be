// Package provider defines the pull contract of the external market-data
// source.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/market"
)

// ErrNoToken is returned when no provider token is configured.
var ErrNoToken = errors.New("provider token not configured")

// Query selects daily rows either for one symbol over [From, To] or for the
// whole market on TradeDate.
type Query struct {
	Symbol    string
	From      time.Time
	To        time.Time
	TradeDate time.Time
}

func ForSymbol(symbol string, from, to time.Time) Query {
	return Query{Symbol: symbol, From: from, To: to}
}

func ForDate(d time.Time) Query {
	return Query{TradeDate: d}
}

// ByDate reports whether q is a full-market query.
func (q Query) ByDate() bool { return !q.TradeDate.IsZero() }

type Provider interface {
	TradeCalendar(ctx context.Context, exchange string, from, to time.Time) ([]market.CalendarDay, error)
	StockBasics(ctx context.Context) ([]market.Instrument, error)
	FundBasics(ctx context.Context) ([]market.Instrument, error)

	DailyBars(ctx context.Context, q Query) ([]market.Bar, error)
	FundDailyBars(ctx context.Context, q Query) ([]market.Bar, error)
	DailyBasics(ctx context.Context, q Query) ([]market.Basic, error)
	MoneyFlows(ctx context.Context, q Query) ([]market.Flow, error)
}

// TokenSource supplies the token sent with every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
