package market

import (
	"strings"
	"time"
)

const DateFormat = "2006-01-02"

type AssetClass string

const (
	AssetStock AssetClass = "stock"
	AssetETF   AssetClass = "etf"
	AssetCash  AssetClass = "cash"
)

// NormalizeAssetClass maps unknown or empty classes to stock. Matching
// ignores case and surrounding space.
func NormalizeAssetClass(s string) AssetClass {
	switch c := AssetClass(strings.ToLower(strings.TrimSpace(s))); c {
	case AssetETF, AssetCash:
		return c
	default:
		return AssetStock
	}
}

type Bar struct {
	Symbol    string    `json:"symbol"`
	TradeDate time.Time `json:"tradeDate"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	PreClose  float64   `json:"preClose"`
	Change    float64   `json:"change"`
	PctChg    float64   `json:"pctChg"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
}

// Basic holds daily valuation fundamentals.
type Basic struct {
	Symbol       string    `json:"symbol"`
	TradeDate    time.Time `json:"tradeDate"`
	TurnoverRate float64   `json:"turnoverRate"`
	VolumeRatio  float64   `json:"volumeRatio"`
	PE           float64   `json:"pe"`
	PETTM        float64   `json:"peTtm"`
	PB           float64   `json:"pb"`
	PS           float64   `json:"ps"`
	DvRatio      float64   `json:"dvRatio"`
	TotalShare   float64   `json:"totalShare"`
	FloatShare   float64   `json:"floatShare"`
	TotalMV      float64   `json:"totalMv"`
	CircMV       float64   `json:"circMv"`
}

// Flow holds daily money-flow amounts by order size.
type Flow struct {
	Symbol        string    `json:"symbol"`
	TradeDate     time.Time `json:"tradeDate"`
	BuySmAmount   float64   `json:"buySmAmount"`
	SellSmAmount  float64   `json:"sellSmAmount"`
	BuyMdAmount   float64   `json:"buyMdAmount"`
	SellMdAmount  float64   `json:"sellMdAmount"`
	BuyLgAmount   float64   `json:"buyLgAmount"`
	SellLgAmount  float64   `json:"sellLgAmount"`
	BuyElgAmount  float64   `json:"buyElgAmount"`
	SellElgAmount float64   `json:"sellElgAmount"`
	NetMfAmount   float64   `json:"netMfAmount"`
}

type Instrument struct {
	Symbol     string     `json:"symbol"`
	Name       string     `json:"name"`
	AssetClass AssetClass `json:"assetClass"`
	Exchange   string     `json:"exchange"`
	Market     string     `json:"market"`
	ListDate   time.Time  `json:"listDate"`
	ListStatus string     `json:"listStatus"`
}

type CalendarDay struct {
	Exchange string    `json:"exchange"`
	Date     time.Time `json:"date"`
	IsOpen   bool      `json:"isOpen"`
}

// DailyBatch is everything written for one symbol or one trade date.
type DailyBatch struct {
	Bars   []Bar
	Basics []Basic
	Flows  []Flow
}

func (b DailyBatch) Len() int { return len(b.Bars) + len(b.Basics) + len(b.Flows) }

// WriteResult counts rows by whether their natural key already existed.
type WriteResult struct {
	Inserted int64
	Updated  int64
}

func (w *WriteResult) Add(o WriteResult) {
	w.Inserted += o.Inserted
	w.Updated += o.Updated
}

func (w WriteResult) Total() int64 { return w.Inserted + w.Updated }

// Day truncates t to its calendar date in UTC, the representation used for
// every trade date in the stores.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
