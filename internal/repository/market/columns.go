package market

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/ahmethakanbesel/marketdata/internal/market"
)

const batchSize = 500

// table describes a daily table keyed by (symbol, trade_date). cols lists the
// value columns that follow the key.
type table struct {
	name string
	cols []string
}

var (
	barCols   = []string{"open", "high", "low", "close", "pre_close", "price_chg", "pct_chg", "volume", "amount"}
	basicCols = []string{"turnover_rate", "volume_ratio", "pe", "pe_ttm", "pb", "ps", "dv_ratio", "total_share", "float_share", "total_mv", "circ_mv"}
	flowCols  = []string{"buy_sm_amount", "sell_sm_amount", "buy_md_amount", "sell_md_amount", "buy_lg_amount", "sell_lg_amount", "buy_elg_amount", "sell_elg_amount", "net_mf_amount"}
)

// row is one keyed record ready to be bound.
type row struct {
	symbol string
	date   time.Time
	values []any
}

func barRows(bars []domain.Bar) []row {
	rows := make([]row, len(bars))
	for i, b := range bars {
		rows[i] = row{b.Symbol, b.TradeDate, []any{b.Open, b.High, b.Low, b.Close, b.PreClose, b.Change, b.PctChg, b.Volume, b.Amount}}
	}
	return rows
}

func basicRows(basics []domain.Basic) []row {
	rows := make([]row, len(basics))
	for i, b := range basics {
		rows[i] = row{b.Symbol, b.TradeDate, []any{b.TurnoverRate, b.VolumeRatio, b.PE, b.PETTM, b.PB, b.PS, b.DvRatio, b.TotalShare, b.FloatShare, b.TotalMV, b.CircMV}}
	}
	return rows
}

func flowRows(flows []domain.Flow) []row {
	rows := make([]row, len(flows))
	for i, f := range flows {
		rows[i] = row{f.Symbol, f.TradeDate, []any{f.BuySmAmount, f.SellSmAmount, f.BuyMdAmount, f.SellMdAmount, f.BuyLgAmount, f.SellLgAmount, f.BuyElgAmount, f.SellElgAmount, f.NetMfAmount}}
	}
	return rows
}

// upsertQuery builds a multi-row upsert for n rows. extraSet is appended to
// the DO UPDATE clause (e.g. touching updated_at).
func upsertQuery(t table, n int, extraSet string) string {
	cols := append([]string{"symbol", "trade_date"}, t.cols...)
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = one
	}

	sets := make([]string, 0, len(t.cols)+1)
	for _, c := range t.cols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	if extraSet != "" {
		sets = append(sets, extraSet)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (symbol, trade_date) DO UPDATE SET %s",
		t.name, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
}

// dedupe keeps the last row per (symbol, date); a multi-row upsert fails when
// the same key appears twice in one statement.
func dedupe(rows []row) []row {
	idx := make(map[string]int, len(rows))
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		k := r.symbol + "|" + r.date.Format(domain.DateFormat)
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
