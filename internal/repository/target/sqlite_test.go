package target

import (
	"context"
	"testing"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/platform/sqlite"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
	domain "github.com/ahmethakanbesel/marketdata/internal/target"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *sqlite.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO holdings (portfolio_id, symbol, asset_class, quantity) VALUES
			('p1', '600519.SH', 'stock', 100),
			('p1', 'CNY', 'cash', 5000),
			('p2', '510300.SH', '', 200),
			('p2', '000858.SZ', 'stock', 0)`,
		`INSERT INTO watchlist_items (group_name, symbol) VALUES ('core', '600519.SH'), ('ideas', '300750.SZ')`,
		`INSERT INTO instrument_tags (symbol, tag_key, tag_value) VALUES
			('000001.SZ', 'sector', 'bank'), ('600036.SH', 'sector', 'bank'), ('300750.SZ', 'sector', 'battery')`,
		`INSERT INTO instruments (symbol, name, asset_class, auto_ingest) VALUES
			('510300.SH', 'CSI 300 ETF', 'etf', 0), ('159915.SZ', 'ChiNext ETF', 'etf', 1)`,
		`INSERT INTO temp_symbols (symbol, expires_at) VALUES
			('688981.SH', '2099-01-01T00:00:00Z'), ('601318.SH', '2000-01-01T00:00:00Z')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestSource_Queries(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	src := NewSource(db.DB)
	ctx := context.Background()

	holdings, err := src.Holdings(ctx, nil)
	if err != nil {
		t.Fatalf("holdings: %v", err)
	}
	if len(holdings) != 3 {
		t.Errorf("expected 3 non-zero holdings, got %d", len(holdings))
	}

	holdings, _ = src.Holdings(ctx, []string{"p2"})
	if len(holdings) != 1 || holdings[0].Symbol != "510300.SH" {
		t.Errorf("unexpected p2 holdings: %+v", holdings)
	}

	items, _ := src.Watchlist(ctx, []string{"ideas"})
	if len(items) != 1 || items[0].Symbol != "300750.SZ" {
		t.Errorf("unexpected watchlist: %+v", items)
	}

	banks, _ := src.TaggedSymbols(ctx, "sector", "bank")
	if len(banks) != 2 {
		t.Errorf("expected 2 bank symbols, got %v", banks)
	}
	all, _ := src.TaggedSymbols(ctx, "sector", "")
	if len(all) != 3 {
		t.Errorf("expected 3 tagged symbols, got %v", all)
	}

	temp, _ := src.TempSymbols(ctx, time.Now())
	if len(temp) != 1 || temp[0] != "688981.SH" {
		t.Errorf("expected only unexpired temp symbol, got %v", temp)
	}

	auto, _ := src.AutoIngestSymbols(ctx)
	if len(auto) != 1 || auto[0] != "159915.SZ" {
		t.Errorf("unexpected auto ingest symbols: %v", auto)
	}
}

func TestResolver_WithSQLiteSource(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	r := domain.NewResolver(settings.NewMemoryStore(), NewSource(db.DB))

	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	want := map[string]string{
		"159915.SZ": "etf",
		"300750.SZ": "stock",
		"510300.SH": "etf",
		"600519.SH": "stock",
		"688981.SH": "stock",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d targets, got %+v", len(want), got)
	}
	for _, g := range got {
		class, ok := want[g.Symbol]
		if !ok {
			t.Errorf("unexpected symbol %s", g.Symbol)
			continue
		}
		if string(g.AssetClass) != class {
			t.Errorf("%s: expected class %s, got %s", g.Symbol, class, g.AssetClass)
		}
	}
}
