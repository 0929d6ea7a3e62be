package market

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	domain "github.com/ahmethakanbesel/marketdata/internal/market"
)

const touchUpdatedAt = "updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')"

var (
	sqliteBars   = table{name: "daily_bars", cols: barCols}
	sqliteBasics = table{name: "daily_basics", cols: basicCols}
	sqliteFlows  = table{name: "money_flows", cols: flowCols}
)

// RowRepository is the SQLite implementation of market.RowStore.
type RowRepository struct {
	db *sql.DB
}

func NewRowRepository(db *sql.DB) *RowRepository {
	return &RowRepository{db: db}
}

func (r *RowRepository) SaveCalendar(ctx context.Context, days []domain.CalendarDay) error {
	if len(days) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save calendar: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := 0; i < len(days); i += batchSize {
		end := min(i+batchSize, len(days))
		batch := days[i:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*3)
		for j, d := range batch {
			placeholders[j] = "(?, ?, ?)"
			args = append(args, d.Exchange, d.Date.Format(domain.DateFormat), boolToInt(d.IsOpen))
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			"INSERT INTO trade_calendar (exchange, cal_date, is_open) VALUES %s ON CONFLICT (exchange, cal_date) DO UPDATE SET is_open = excluded.is_open",
			strings.Join(placeholders, ", "),
		)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("save calendar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save calendar: commit: %w", err)
	}
	return nil
}

func (r *RowRepository) LatestOpenDate(ctx context.Context, exchange string, onOrBefore time.Time) (time.Time, bool, error) {
	const query = `SELECT cal_date FROM trade_calendar
		WHERE exchange = ? AND is_open = 1 AND cal_date <= ?
		ORDER BY cal_date DESC LIMIT 1`

	var dateStr string
	err := r.db.QueryRowContext(ctx, query, exchange, onOrBefore.Format(domain.DateFormat)).Scan(&dateStr)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest open date: %w", err)
	}
	d, err := time.Parse(domain.DateFormat, dateStr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest open date: parse %q: %w", dateStr, err)
	}
	return d, true, nil
}

func (r *RowRepository) OpenDates(ctx context.Context, exchange string, from, to time.Time) ([]time.Time, error) {
	const query = `SELECT cal_date FROM trade_calendar
		WHERE exchange = ? AND is_open = 1 AND cal_date >= ? AND cal_date <= ?
		ORDER BY cal_date ASC`

	rows, err := r.db.QueryContext(ctx, query, exchange, from.Format(domain.DateFormat), to.Format(domain.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("open dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []time.Time
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		d, _ := time.Parse(domain.DateFormat, dateStr)
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (r *RowRepository) LastBarDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT MAX(trade_date) FROM daily_bars WHERE symbol = ?`, symbol).Scan(&dateStr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last bar date: %w", err)
	}
	if !dateStr.Valid {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(domain.DateFormat, dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last bar date: parse %q: %w", dateStr.String, err)
	}
	return d, true, nil
}

// SaveDaily upserts bars, basics and flows of one symbol. Every 500-row batch
// commits in its own transaction.
func (r *RowRepository) SaveDaily(ctx context.Context, symbol string, batch domain.DailyBatch) (domain.WriteResult, error) {
	var total domain.WriteResult
	for _, part := range []struct {
		t    table
		rows []row
	}{
		{sqliteBars, barRows(batch.Bars)},
		{sqliteBasics, basicRows(batch.Basics)},
		{sqliteFlows, flowRows(batch.Flows)},
	} {
		res, err := r.upsert(ctx, part.t, symbol, dedupe(part.rows))
		total.Add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *RowRepository) upsert(ctx context.Context, t table, symbol string, rows []row) (domain.WriteResult, error) {
	var total domain.WriteResult
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))
		res, err := r.upsertBatch(ctx, t, symbol, rows[i:end])
		if err != nil {
			return total, err
		}
		total.Add(res)
	}
	return total, nil
}

func (r *RowRepository) upsertBatch(ctx context.Context, t table, symbol string, batch []row) (domain.WriteResult, error) {
	from, to := dateBounds(batch)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("save %s: begin tx: %w", t.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := existingDates(ctx, tx, t.name, symbol, from, to)
	if err != nil {
		return domain.WriteResult{}, err
	}

	args := make([]any, 0, len(batch)*(len(t.cols)+2))
	var res domain.WriteResult
	for _, rw := range batch {
		day := rw.date.Format(domain.DateFormat)
		if existing[day] {
			res.Updated++
		} else {
			res.Inserted++
		}
		args = append(args, symbol, day)
		args = append(args, rw.values...)
	}

	if _, err := tx.ExecContext(ctx, upsertQuery(t, len(batch), touchUpdatedAt), args...); err != nil {
		return domain.WriteResult{}, fmt.Errorf("save %s: %w", t.name, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WriteResult{}, fmt.Errorf("save %s: commit: %w", t.name, err)
	}
	return res, nil
}

func (r *RowRepository) ListBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	const query = `SELECT symbol, trade_date, open, high, low, close, pre_close, price_chg, pct_chg, volume, amount
		FROM daily_bars
		WHERE symbol = ? AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date ASC`

	rows, err := r.db.QueryContext(ctx, query, symbol, from.Format(domain.DateFormat), to.Format(domain.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("list bars: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var dateStr string
		if err := rows.Scan(&b.Symbol, &dateStr, &b.Open, &b.High, &b.Low, &b.Close,
			&b.PreClose, &b.Change, &b.PctChg, &b.Volume, &b.Amount); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.TradeDate, _ = time.Parse(domain.DateFormat, dateStr)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func existingDates(ctx context.Context, tx *sql.Tx, tableName, symbol, from, to string) (map[string]bool, error) {
	query := fmt.Sprintf( //nolint:gosec // table name is a package constant
		"SELECT trade_date FROM %s WHERE symbol = ? AND trade_date >= ? AND trade_date <= ?", tableName)

	rows, err := tx.QueryContext(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("existing dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dates := make(map[string]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates[d] = true
	}
	return dates, rows.Err()
}

func dateBounds(rows []row) (string, string) {
	from, to := rows[0].date, rows[0].date
	for _, r := range rows[1:] {
		if r.date.Before(from) {
			from = r.date
		}
		if r.date.After(to) {
			to = r.date
		}
	}
	return from.Format(domain.DateFormat), to.Format(domain.DateFormat)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
