package market

import (
	"context"
	"time"
)

// CursorUniverse marks the last trade date committed by the universe backfill.
const CursorUniverse = "universe_last_trade_date"

// RowStore is the per-symbol cache used by targets ingest.
type RowStore interface {
	SaveCalendar(ctx context.Context, days []CalendarDay) error
	LatestOpenDate(ctx context.Context, exchange string, onOrBefore time.Time) (time.Time, bool, error)
	OpenDates(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error)

	LastBarDate(ctx context.Context, symbol string) (time.Time, bool, error)
	SaveDaily(ctx context.Context, symbol string, batch DailyBatch) (WriteResult, error)
	ListBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)
}

// ColumnStore is the analytical store filled by the universe backfill.
type ColumnStore interface {
	SaveInstruments(ctx context.Context, instruments []Instrument) (int64, error)
	Cursor(ctx context.Context, key string) (time.Time, bool, error)
	// CommitTradeDate upserts the batch and advances the cursor to tradeDate
	// inside one transaction.
	CommitTradeDate(ctx context.Context, tradeDate time.Time, batch DailyBatch) (WriteResult, error)
}
