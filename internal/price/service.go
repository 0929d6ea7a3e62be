// Package price serves cached daily bars written by the targets ingest.
package price

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/market"
)

// BarReader is the read side of the row store.
type BarReader interface {
	ListBars(ctx context.Context, symbol string, from, to time.Time) ([]market.Bar, error)
	LastBarDate(ctx context.Context, symbol string) (time.Time, bool, error)
	LatestOpenDate(ctx context.Context, exchange string, onOrBefore time.Time) (time.Time, bool, error)
}

type Service struct {
	bars     BarReader
	exchange string
	now      func() time.Time
}

func NewService(bars BarReader, exchange string) *Service {
	return &Service{bars: bars, exchange: exchange, now: time.Now}
}

func (s *Service) GetPrices(ctx context.Context, req GetPricesRequest) (*GetPricesResponse, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := req.Validate(); err != nil {
		return nil, err
	}

	endDate := req.EndDate
	if endDate.IsZero() {
		endDate = market.Day(s.now())
	}

	bars, err := s.bars.ListBars(ctx, req.Symbol, req.StartDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("list bars: %w", err)
	}

	last, ok, err := s.bars.LastBarDate(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("last bar date: %w", err)
	}
	if !ok {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("no cached bars for %s", req.Symbol))
	}
	if bars == nil {
		bars = []market.Bar{}
	}

	resp := &GetPricesResponse{Symbol: req.Symbol, Bars: bars}
	asOf, found, err := s.bars.LatestOpenDate(ctx, s.exchange, market.Day(s.now()))
	if err != nil {
		return nil, fmt.Errorf("latest open date: %w", err)
	}
	resp.Fresh = found && !last.Before(asOf)
	return resp, nil
}
