package price

import (
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/market"
)

// MaxRangeDays bounds one history request.
const MaxRangeDays = 3660

type GetPricesRequest struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	Format    string // "json" or "csv"
}

func (r GetPricesRequest) Validate() *apperror.AppError {
	if len(r.Symbol) < 2 {
		return apperror.New(apperror.BadRequest, "symbol must be at least 2 characters")
	}
	if r.StartDate.IsZero() {
		return apperror.New(apperror.BadRequest, "startDate is required")
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate) {
		return apperror.New(apperror.BadRequest, "endDate must be after startDate")
	}
	if !r.EndDate.IsZero() && r.EndDate.Sub(r.StartDate) > MaxRangeDays*24*time.Hour {
		return apperror.New(apperror.BadRequest, "date range must not exceed 10 years")
	}
	if r.Format != "" && r.Format != "json" && r.Format != "csv" {
		return apperror.New(apperror.BadRequest, "format must be json or csv")
	}
	return nil
}

type GetPricesResponse struct {
	Symbol string       `json:"symbol"`
	Bars   []market.Bar `json:"bars"`
	// Fresh reports whether the cache holds the latest as-of trade date.
	Fresh bool `json:"fresh"`
}
