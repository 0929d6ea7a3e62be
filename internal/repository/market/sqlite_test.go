package market

import (
	"context"
	"testing"
	"time"

	domain "github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/platform/sqlite"
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

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSaveDaily_And_ListBars(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRowRepository(db.DB)
	ctx := context.Background()

	batch := domain.DailyBatch{
		Bars: []domain.Bar{
			{Symbol: "600519.SH", TradeDate: day(2024, 1, 2), Close: 1685.01},
			{Symbol: "600519.SH", TradeDate: day(2024, 1, 3), Close: 1694.00},
			{Symbol: "600519.SH", TradeDate: day(2024, 1, 4), Close: 1669.00},
		},
		Basics: []domain.Basic{{Symbol: "600519.SH", TradeDate: day(2024, 1, 2), PE: 29.1}},
	}

	res, err := repo.SaveDaily(ctx, "600519.SH", batch)
	if err != nil {
		t.Fatalf("save daily: %v", err)
	}
	if res.Inserted != 4 || res.Updated != 0 {
		t.Errorf("expected 4 inserted 0 updated, got %+v", res)
	}

	got, err := repo.ListBars(ctx, "600519.SH", day(2024, 1, 1), day(2024, 1, 31))
	if err != nil {
		t.Fatalf("list bars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	if got[0].Close != 1685.01 {
		t.Errorf("expected 1685.01, got %f", got[0].Close)
	}
}

func TestSaveDaily_UpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRowRepository(db.DB)
	ctx := context.Background()

	first := domain.DailyBatch{Bars: []domain.Bar{{Symbol: "000001.SZ", TradeDate: day(2024, 1, 2), Close: 9.1}}}
	if _, err := repo.SaveDaily(ctx, "000001.SZ", first); err != nil {
		t.Fatal(err)
	}

	second := domain.DailyBatch{Bars: []domain.Bar{{Symbol: "000001.SZ", TradeDate: day(2024, 1, 2), Close: 9.3}}}
	res, err := repo.SaveDaily(ctx, "000001.SZ", second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 0 || res.Updated != 1 {
		t.Errorf("expected 0 inserted 1 updated, got %+v", res)
	}

	var count int
	var closePrice float64
	if err := db.QueryRow(`SELECT count(*), MAX(close) FROM daily_bars WHERE symbol = '000001.SZ'`).Scan(&count, &closePrice); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected exactly one row, got %d", count)
	}
	if closePrice != 9.3 {
		t.Errorf("expected latest close 9.3, got %f", closePrice)
	}
}

func TestSaveDaily_DuplicateKeysInBatch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRowRepository(db.DB)

	batch := domain.DailyBatch{Bars: []domain.Bar{
		{Symbol: "000001.SZ", TradeDate: day(2024, 1, 2), Close: 1},
		{Symbol: "000001.SZ", TradeDate: day(2024, 1, 2), Close: 2},
	}}
	res, err := repo.SaveDaily(context.Background(), "000001.SZ", batch)
	if err != nil {
		t.Fatalf("save daily: %v", err)
	}
	if res.Inserted != 1 {
		t.Errorf("expected 1 inserted, got %d", res.Inserted)
	}
}

func TestLastBarDate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRowRepository(db.DB)
	ctx := context.Background()

	if _, ok, err := repo.LastBarDate(ctx, "600519.SH"); err != nil || ok {
		t.Fatalf("expected no date, got ok=%v err=%v", ok, err)
	}

	_, err := repo.SaveDaily(ctx, "600519.SH", domain.DailyBatch{Bars: []domain.Bar{
		{Symbol: "600519.SH", TradeDate: day(2024, 1, 2)},
		{Symbol: "600519.SH", TradeDate: day(2024, 1, 5)},
	}})
	if err != nil {
		t.Fatal(err)
	}

	got, ok, err := repo.LastBarDate(ctx, "600519.SH")
	if err != nil || !ok {
		t.Fatalf("expected a date, got ok=%v err=%v", ok, err)
	}
	if !got.Equal(day(2024, 1, 5)) {
		t.Errorf("expected 2024-01-05, got %s", got)
	}
}

func TestCalendar(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRowRepository(db.DB)
	ctx := context.Background()

	days := []domain.CalendarDay{
		{Exchange: "SSE", Date: day(2024, 1, 5), IsOpen: true},
		{Exchange: "SSE", Date: day(2024, 1, 6), IsOpen: false},
		{Exchange: "SSE", Date: day(2024, 1, 7), IsOpen: false},
		{Exchange: "SSE", Date: day(2024, 1, 8), IsOpen: true},
	}
	if err := repo.SaveCalendar(ctx, days); err != nil {
		t.Fatalf("save calendar: %v", err)
	}
	// Re-saving must not fail on the primary key.
	if err := repo.SaveCalendar(ctx, days); err != nil {
		t.Fatalf("save calendar again: %v", err)
	}

	latest, ok, err := repo.LatestOpenDate(ctx, "SSE", day(2024, 1, 7))
	if err != nil || !ok {
		t.Fatalf("latest open: ok=%v err=%v", ok, err)
	}
	if !latest.Equal(day(2024, 1, 5)) {
		t.Errorf("expected 2024-01-05, got %s", latest)
	}

	open, err := repo.OpenDates(ctx, "SSE", day(2024, 1, 1), day(2024, 1, 31))
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 || !open[1].Equal(day(2024, 1, 8)) {
		t.Errorf("unexpected open dates: %v", open)
	}

	if _, ok, _ := repo.LatestOpenDate(ctx, "SSE", day(2023, 12, 31)); ok {
		t.Error("expected no open date before the calendar starts")
	}
}
