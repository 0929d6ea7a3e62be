package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	domain "github.com/ahmethakanbesel/marketdata/internal/target"
)

// Source reads the holdings, watchlist, tag and registry snapshots from the
// row store.
type Source struct {
	db *sql.DB
}

func NewSource(db *sql.DB) *Source {
	return &Source{db: db}
}

func (s *Source) Holdings(ctx context.Context, portfolioIDs []string) ([]domain.Holding, error) {
	query := `SELECT portfolio_id, symbol, asset_class FROM holdings WHERE quantity != 0`
	var args []any
	if len(portfolioIDs) > 0 {
		query += ` AND portfolio_id IN (` + placeholders(len(portfolioIDs)) + `)`
		args = stringArgs(portfolioIDs)
	}
	query += ` ORDER BY portfolio_id, symbol`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.PortfolioID, &h.Symbol, &h.AssetClass); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Source) Watchlist(ctx context.Context, groups []string) ([]domain.WatchItem, error) {
	query := `SELECT group_name, symbol FROM watchlist_items`
	var args []any
	if len(groups) > 0 {
		query += ` WHERE group_name IN (` + placeholders(len(groups)) + `)`
		args = stringArgs(groups)
	}
	query += ` ORDER BY group_name, symbol`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.WatchItem
	for rows.Next() {
		var w domain.WatchItem
		if err := rows.Scan(&w.Group, &w.Symbol); err != nil {
			return nil, fmt.Errorf("scan watchlist item: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Source) TaggedSymbols(ctx context.Context, key, value string) ([]string, error) {
	query := `SELECT DISTINCT symbol FROM instrument_tags WHERE tag_key = ?`
	args := []any{key}
	if value != "" {
		query += ` AND tag_value = ?`
		args = append(args, value)
	}
	return s.symbols(ctx, query+` ORDER BY symbol`, args...)
}

func (s *Source) TempSymbols(ctx context.Context, now time.Time) ([]string, error) {
	return s.symbols(ctx, `SELECT symbol FROM temp_symbols WHERE expires_at > ? ORDER BY symbol`,
		now.UTC().Format(time.RFC3339))
}

func (s *Source) AutoIngestSymbols(ctx context.Context) ([]string, error) {
	return s.symbols(ctx, `SELECT symbol FROM instruments WHERE auto_ingest = 1 ORDER BY symbol`)
}

func (s *Source) AssetClasses(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, asset_class FROM instruments`)
	if err != nil {
		return nil, fmt.Errorf("list asset classes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var symbol, class string
		if err := rows.Scan(&symbol, &class); err != nil {
			return nil, fmt.Errorf("scan asset class: %w", err)
		}
		out[strings.ToUpper(symbol)] = class
	}
	return out, rows.Err()
}

func (s *Source) symbols(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, symbol)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
