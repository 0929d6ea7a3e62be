package tushare

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/provider"
)

var (
	calendarFields = []string{"exchange", "cal_date", "is_open"}
	stockFields    = []string{"ts_code", "name", "exchange", "market", "list_date", "list_status"}
	fundFields     = []string{"ts_code", "name", "market", "list_date", "status"}
	barFields      = []string{"ts_code", "trade_date", "open", "high", "low", "close", "pre_close", "change", "pct_chg", "vol", "amount"}
	basicFields    = []string{"ts_code", "trade_date", "turnover_rate", "volume_ratio", "pe", "pe_ttm", "pb", "ps", "dv_ratio", "total_share", "float_share", "total_mv", "circ_mv"}
	flowFields     = []string{"ts_code", "trade_date", "buy_sm_amount", "sell_sm_amount", "buy_md_amount", "sell_md_amount", "buy_lg_amount", "sell_lg_amount", "buy_elg_amount", "sell_elg_amount", "net_mf_amount"}
)

func (c *Client) TradeCalendar(ctx context.Context, exchange string, from, to time.Time) ([]market.CalendarDay, error) {
	t, err := c.query(ctx, "trade_cal", map[string]any{
		"exchange":   exchange,
		"start_date": from.Format(dateFormat),
		"end_date":   to.Format(dateFormat),
	}, calendarFields)
	if err != nil {
		return nil, err
	}

	days := make([]market.CalendarDay, 0, len(t.items))
	for _, row := range t.items {
		d := t.date(row, "cal_date")
		if d.IsZero() {
			continue
		}
		ex := t.str(row, "exchange")
		if ex == "" {
			ex = exchange
		}
		days = append(days, market.CalendarDay{Exchange: ex, Date: d, IsOpen: t.num(row, "is_open") == 1})
	}
	return days, nil
}

// StockBasics returns listed stocks.
func (c *Client) StockBasics(ctx context.Context) ([]market.Instrument, error) {
	t, err := c.query(ctx, "stock_basic", map[string]any{"list_status": "L"}, stockFields)
	if err != nil {
		return nil, err
	}

	out := make([]market.Instrument, 0, len(t.items))
	for _, row := range t.items {
		symbol := t.str(row, "ts_code")
		if symbol == "" {
			continue
		}
		out = append(out, market.Instrument{
			Symbol:     symbol,
			Name:       t.str(row, "name"),
			AssetClass: market.AssetStock,
			Exchange:   t.str(row, "exchange"),
			Market:     t.str(row, "market"),
			ListDate:   t.date(row, "list_date"),
			ListStatus: t.str(row, "list_status"),
		})
	}
	return out, nil
}

// FundBasics returns exchange-traded funds.
func (c *Client) FundBasics(ctx context.Context) ([]market.Instrument, error) {
	t, err := c.query(ctx, "fund_basic", map[string]any{"market": "E"}, fundFields)
	if err != nil {
		return nil, err
	}

	out := make([]market.Instrument, 0, len(t.items))
	for _, row := range t.items {
		symbol := t.str(row, "ts_code")
		if symbol == "" {
			continue
		}
		out = append(out, market.Instrument{
			Symbol:     symbol,
			Name:       t.str(row, "name"),
			AssetClass: market.AssetETF,
			Exchange:   exchangeOf(symbol),
			Market:     t.str(row, "market"),
			ListDate:   t.date(row, "list_date"),
			ListStatus: t.str(row, "status"),
		})
	}
	return out, nil
}

func (c *Client) DailyBars(ctx context.Context, q provider.Query) ([]market.Bar, error) {
	return c.bars(ctx, "daily", q)
}

func (c *Client) FundDailyBars(ctx context.Context, q provider.Query) ([]market.Bar, error) {
	return c.bars(ctx, "fund_daily", q)
}

func (c *Client) bars(ctx context.Context, api string, q provider.Query) ([]market.Bar, error) {
	var out []market.Bar
	err := c.eachWindow(ctx, api, q, barFields, func(t *table, row []any) {
		out = append(out, market.Bar{
			Symbol:    t.str(row, "ts_code"),
			TradeDate: t.date(row, "trade_date"),
			Open:      t.num(row, "open"),
			High:      t.num(row, "high"),
			Low:       t.num(row, "low"),
			Close:     t.num(row, "close"),
			PreClose:  t.num(row, "pre_close"),
			Change:    t.num(row, "change"),
			PctChg:    t.num(row, "pct_chg"),
			Volume:    t.num(row, "vol"),
			Amount:    t.num(row, "amount"),
		})
	})
	return out, err
}

func (c *Client) DailyBasics(ctx context.Context, q provider.Query) ([]market.Basic, error) {
	var out []market.Basic
	err := c.eachWindow(ctx, "daily_basic", q, basicFields, func(t *table, row []any) {
		out = append(out, market.Basic{
			Symbol:       t.str(row, "ts_code"),
			TradeDate:    t.date(row, "trade_date"),
			TurnoverRate: t.num(row, "turnover_rate"),
			VolumeRatio:  t.num(row, "volume_ratio"),
			PE:           t.num(row, "pe"),
			PETTM:        t.num(row, "pe_ttm"),
			PB:           t.num(row, "pb"),
			PS:           t.num(row, "ps"),
			DvRatio:      t.num(row, "dv_ratio"),
			TotalShare:   t.num(row, "total_share"),
			FloatShare:   t.num(row, "float_share"),
			TotalMV:      t.num(row, "total_mv"),
			CircMV:       t.num(row, "circ_mv"),
		})
	})
	return out, err
}

func (c *Client) MoneyFlows(ctx context.Context, q provider.Query) ([]market.Flow, error) {
	var out []market.Flow
	err := c.eachWindow(ctx, "moneyflow", q, flowFields, func(t *table, row []any) {
		out = append(out, market.Flow{
			Symbol:        t.str(row, "ts_code"),
			TradeDate:     t.date(row, "trade_date"),
			BuySmAmount:   t.num(row, "buy_sm_amount"),
			SellSmAmount:  t.num(row, "sell_sm_amount"),
			BuyMdAmount:   t.num(row, "buy_md_amount"),
			SellMdAmount:  t.num(row, "sell_md_amount"),
			BuyLgAmount:   t.num(row, "buy_lg_amount"),
			SellLgAmount:  t.num(row, "sell_lg_amount"),
			BuyElgAmount:  t.num(row, "buy_elg_amount"),
			SellElgAmount: t.num(row, "sell_elg_amount"),
			NetMfAmount:   t.num(row, "net_mf_amount"),
		})
	})
	return out, err
}

// eachWindow runs a daily query, splitting symbol ranges into windows, and
// hands every row with a valid key to fn.
func (c *Client) eachWindow(ctx context.Context, api string, q provider.Query, fields []string, fn func(*table, []any)) error {
	var windows []map[string]any
	switch {
	case q.ByDate():
		windows = append(windows, map[string]any{"trade_date": q.TradeDate.Format(dateFormat)})
	case q.Symbol != "":
		for _, w := range provider.SplitRange(q.From, q.To, chunkDays) {
			windows = append(windows, map[string]any{
				"ts_code":    q.Symbol,
				"start_date": w.From.Format(dateFormat),
				"end_date":   w.To.Format(dateFormat),
			})
		}
	default:
		return fmt.Errorf("tushare %s: query needs a symbol or a trade date", api)
	}

	for _, params := range windows {
		t, err := c.query(ctx, api, params, fields)
		if err != nil {
			return err
		}
		for _, row := range t.items {
			if t.str(row, "ts_code") == "" || t.date(row, "trade_date").IsZero() {
				continue
			}
			fn(t, row)
		}
	}
	return nil
}

func exchangeOf(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, ".SH"):
		return "SSE"
	case strings.HasSuffix(symbol, ".SZ"):
		return "SZSE"
	case strings.HasSuffix(symbol, ".BJ"):
		return "BSE"
	default:
		return ""
	}
}
