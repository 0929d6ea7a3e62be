package market

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	domain "github.com/ahmethakanbesel/marketdata/internal/market"
)

var (
	duckBars   = table{name: "market_daily_bars", cols: barCols}
	duckBasics = table{name: "market_daily_basics", cols: basicCols}
	duckFlows  = table{name: "market_money_flows", cols: flowCols}
)

// ColumnRepository is the DuckDB implementation of market.ColumnStore.
type ColumnRepository struct {
	db *sql.DB
}

func NewColumnRepository(db *sql.DB) *ColumnRepository {
	return &ColumnRepository{db: db}
}

func (r *ColumnRepository) SaveInstruments(ctx context.Context, instruments []domain.Instrument) (int64, error) {
	if len(instruments) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save instruments: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seen := make(map[string]int, len(instruments))
	uniq := make([]domain.Instrument, 0, len(instruments))
	for _, in := range instruments {
		if i, ok := seen[in.Symbol]; ok {
			uniq[i] = in
			continue
		}
		seen[in.Symbol] = len(uniq)
		uniq = append(uniq, in)
	}

	for i := 0; i < len(uniq); i += batchSize {
		end := min(i+batchSize, len(uniq))
		batch := uniq[i:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*7)
		for j, in := range batch {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?)"
			var listDate any
			if !in.ListDate.IsZero() {
				listDate = in.ListDate
			}
			args = append(args, in.Symbol, in.Name, string(in.AssetClass), in.Exchange, in.Market, listDate, in.ListStatus)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			`INSERT INTO market_instruments (symbol, name, asset_class, exchange, market, list_date, list_status)
			VALUES %s
			ON CONFLICT (symbol) DO UPDATE SET name = excluded.name, asset_class = excluded.asset_class,
				exchange = excluded.exchange, market = excluded.market,
				list_date = excluded.list_date, list_status = excluded.list_status`,
			strings.Join(placeholders, ", "),
		)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("save instruments: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save instruments: commit: %w", err)
	}
	return int64(len(uniq)), nil
}

func (r *ColumnRepository) Cursor(ctx context.Context, key string) (time.Time, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM ingest_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cursor %s: %w", key, err)
	}
	d, err := time.Parse(domain.DateFormat, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cursor %s: parse %q: %w", key, v, err)
	}
	return d, true, nil
}

// CommitTradeDate writes one trade date of the universe backfill. The cursor
// update is the last statement before commit, so a crash either keeps the
// whole date or none of it.
func (r *ColumnRepository) CommitTradeDate(ctx context.Context, tradeDate time.Time, batch domain.DailyBatch) (domain.WriteResult, error) {
	day := domain.Day(tradeDate)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("commit %s: begin tx: %w", day.Format(domain.DateFormat), err)
	}
	defer func() { _ = tx.Rollback() }()

	var total domain.WriteResult
	for _, part := range []struct {
		t    table
		rows []row
	}{
		{duckBars, barRows(batch.Bars)},
		{duckBasics, basicRows(batch.Basics)},
		{duckFlows, flowRows(batch.Flows)},
	} {
		res, err := upsertDate(ctx, tx, part.t, day, dedupe(part.rows))
		if err != nil {
			return domain.WriteResult{}, err
		}
		total.Add(res)
	}

	const cursorQuery = `INSERT INTO ingest_meta (key, value, updated_at) VALUES (?, ?, current_timestamp)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, cursorQuery, domain.CursorUniverse, day.Format(domain.DateFormat)); err != nil {
		return domain.WriteResult{}, fmt.Errorf("advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.WriteResult{}, fmt.Errorf("commit %s: %w", day.Format(domain.DateFormat), err)
	}
	return total, nil
}

func upsertDate(ctx context.Context, tx *sql.Tx, t table, day time.Time, rows []row) (domain.WriteResult, error) {
	var res domain.WriteResult
	if len(rows) == 0 {
		return res, nil
	}

	existing, err := existingSymbols(ctx, tx, t.name, day)
	if err != nil {
		return res, err
	}

	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))
		batch := rows[i:end]

		args := make([]any, 0, len(batch)*(len(t.cols)+2))
		for _, rw := range batch {
			if existing[rw.symbol] {
				res.Updated++
			} else {
				res.Inserted++
			}
			args = append(args, rw.symbol, day)
			args = append(args, rw.values...)
		}

		if _, err := tx.ExecContext(ctx, upsertQuery(t, len(batch), ""), args...); err != nil {
			return domain.WriteResult{}, fmt.Errorf("save %s: %w", t.name, err)
		}
	}
	return res, nil
}

func existingSymbols(ctx context.Context, tx *sql.Tx, tableName string, day time.Time) (map[string]bool, error) {
	query := fmt.Sprintf("SELECT symbol FROM %s WHERE trade_date = ?", tableName) //nolint:gosec // table name is a package constant

	rows, err := tx.QueryContext(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("existing symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	symbols := make(map[string]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols[s] = true
	}
	return symbols, rows.Err()
}

// CountBars returns the number of bar rows stored for a trade date.
func (r *ColumnRepository) CountBars(ctx context.Context, tradeDate time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM market_daily_bars WHERE trade_date = ?`, domain.Day(tradeDate)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bars: %w", err)
	}
	return n, nil
}
