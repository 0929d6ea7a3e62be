package tushare

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// table is a column-indexed view over a tabular response.
type table struct {
	index map[string]int
	items [][]any
}

func newTable(fields []string, items [][]any) *table {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f] = i
	}
	return &table{index: idx, items: items}
}

func (t *table) append(o *table) {
	if o == nil || len(o.items) == 0 {
		return
	}
	if t.index == nil {
		t.index = o.index
	}
	t.items = append(t.items, o.items...)
}

func (t *table) cell(row []any, field string) any {
	i, ok := t.index[field]
	if !ok || i >= len(row) {
		return nil
	}
	return row[i]
}

func (t *table) str(row []any, field string) string {
	switch v := t.cell(row, field).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// num returns 0 for null cells.
func (t *table) num(row []any, field string) float64 {
	switch v := t.cell(row, field).(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// date parses a YYYYMMDD cell. The zero time means missing or malformed.
func (t *table) date(row []any, field string) time.Time {
	d, err := time.Parse(dateFormat, t.str(row, field))
	if err != nil {
		return time.Time{}
	}
	return d
}

func joinFields(fields []string) string {
	return strings.Join(fields, ",")
}
