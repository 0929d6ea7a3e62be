package price

import (
	"context"
	"testing"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/market"
)

// --- mock bar reader ---
type mockBars struct {
	bars    []market.Bar
	lastDay time.Time
	asOf    time.Time
}

func (m *mockBars) ListBars(_ context.Context, symbol string, from, to time.Time) ([]market.Bar, error) {
	var out []market.Bar
	for _, b := range m.bars {
		if b.Symbol == symbol && !b.TradeDate.Before(from) && !b.TradeDate.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBars) LastBarDate(_ context.Context, symbol string) (time.Time, bool, error) {
	for _, b := range m.bars {
		if b.Symbol == symbol {
			return m.lastDay, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (m *mockBars) LatestOpenDate(context.Context, string, time.Time) (time.Time, bool, error) {
	return m.asOf, !m.asOf.IsZero(), nil
}

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func newTestService(m *mockBars) *Service {
	svc := NewService(m, "SSE")
	svc.now = func() time.Time { return time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC) }
	return svc
}

func TestGetPrices_ReturnsCachedRange(t *testing.T) {
	m := &mockBars{
		bars: []market.Bar{
			{Symbol: "600519.SH", TradeDate: day(2), Close: 1},
			{Symbol: "600519.SH", TradeDate: day(3), Close: 2},
			{Symbol: "600519.SH", TradeDate: day(5), Close: 3},
			{Symbol: "000001.SZ", TradeDate: day(3), Close: 9},
		},
		lastDay: day(5),
		asOf:    day(5),
	}
	svc := newTestService(m)

	resp, err := svc.GetPrices(context.Background(), GetPricesRequest{Symbol: " 600519.sh", StartDate: day(3)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Symbol != "600519.SH" {
		t.Errorf("expected normalized symbol, got %s", resp.Symbol)
	}
	if len(resp.Bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(resp.Bars))
	}
	if !resp.Fresh {
		t.Error("expected fresh cache")
	}
}

func TestGetPrices_Stale(t *testing.T) {
	m := &mockBars{
		bars:    []market.Bar{{Symbol: "600519.SH", TradeDate: day(3)}},
		lastDay: day(3),
		asOf:    day(5),
	}
	resp, err := newTestService(m).GetPrices(context.Background(), GetPricesRequest{Symbol: "600519.SH", StartDate: day(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Fresh {
		t.Error("expected stale cache")
	}
}

func TestGetPrices_UnknownSymbol(t *testing.T) {
	_, err := newTestService(&mockBars{}).GetPrices(context.Background(), GetPricesRequest{Symbol: "688981.SH", StartDate: day(1)})
	if !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetPricesRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     GetPricesRequest
		wantErr bool
	}{
		{"valid", GetPricesRequest{Symbol: "600519.SH", StartDate: day(1)}, false},
		{"short symbol", GetPricesRequest{Symbol: "A", StartDate: day(1)}, true},
		{"missing start", GetPricesRequest{Symbol: "600519.SH"}, true},
		{"end before start", GetPricesRequest{Symbol: "600519.SH", StartDate: day(5), EndDate: day(1)}, true},
		{"range too long", GetPricesRequest{Symbol: "600519.SH", StartDate: day(1), EndDate: day(1).AddDate(11, 0, 0)}, true},
		{"bad format", GetPricesRequest{Symbol: "600519.SH", StartDate: day(1), Format: "xml"}, true},
		{"csv", GetPricesRequest{Symbol: "600519.SH", StartDate: day(1), Format: "csv"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
