// Package target decides which instruments the targets ingest keeps fresh.
package target

import (
	"context"
	"strings"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/market"
)

const (
	ReasonExplicit      = "explicit"
	ReasonTempSearch    = "temp:search"
	ReasonRegistryAuto  = "registry:auto"
	reasonHoldingsPref  = "holdings:"
	reasonWatchlistPref = "watchlist:"
	reasonTagPref       = "tag:"
)

// Config selects the sources merged into the target set.
type Config struct {
	IncludeHoldings           bool     `json:"includeHoldings"`
	PortfolioIDs              []string `json:"portfolioIds,omitempty"`
	IncludeWatchlist          bool     `json:"includeWatchlist"`
	WatchlistGroups           []string `json:"watchlistGroups,omitempty"`
	TagFilters                []string `json:"tagFilters,omitempty"`
	ExplicitSymbols           []string `json:"explicitSymbols,omitempty"`
	IncludeTempSearch         bool     `json:"includeTempSearch"`
	IncludeRegistryAutoIngest bool     `json:"includeRegistryAutoIngest"`
}

// DefaultConfig is used when no configuration has been stored.
func DefaultConfig() Config {
	return Config{
		IncludeHoldings:           true,
		IncludeWatchlist:          true,
		IncludeTempSearch:         true,
		IncludeRegistryAutoIngest: true,
	}
}

func (c Config) Validate() *apperror.AppError {
	for _, f := range c.TagFilters {
		key, _ := splitTagFilter(f)
		if key == "" {
			return apperror.New(apperror.BadRequest, "tag filter must be key or key=value")
		}
	}
	for _, s := range c.ExplicitSymbols {
		if normalizeSymbol(s) == "" {
			return apperror.New(apperror.BadRequest, "explicit symbols must not be blank")
		}
	}
	return nil
}

// Resolved is one instrument in the target set together with the sources
// that contributed it.
type Resolved struct {
	Symbol     string            `json:"symbol"`
	AssetClass market.AssetClass `json:"assetClass"`
	Reasons    []string          `json:"reasons"`
}

type ReasonChange struct {
	Symbol string   `json:"symbol"`
	Before []string `json:"before"`
	After  []string `json:"after"`
}

// Diff is the difference between the stored target set and a draft.
type Diff struct {
	Added         []Resolved     `json:"added"`
	Removed       []Resolved     `json:"removed"`
	ReasonChanged []ReasonChange `json:"reasonChanged"`
}

type Holding struct {
	PortfolioID string
	Symbol      string
	AssetClass  string
}

type WatchItem struct {
	Group  string
	Symbol string
}

// Source exposes the snapshots maintained by the portfolio, watchlist and
// registry features.
type Source interface {
	// Holdings returns positions, restricted to portfolioIDs when non-empty.
	Holdings(ctx context.Context, portfolioIDs []string) ([]Holding, error)
	// Watchlist returns items, restricted to groups when non-empty.
	Watchlist(ctx context.Context, groups []string) ([]WatchItem, error)
	// TaggedSymbols returns symbols carrying key, or key=value when value is
	// non-empty.
	TaggedSymbols(ctx context.Context, key, value string) ([]string, error)
	TempSymbols(ctx context.Context, now time.Time) ([]string, error)
	AutoIngestSymbols(ctx context.Context) ([]string, error)
	// AssetClasses returns the registry's asset class per symbol.
	AssetClasses(ctx context.Context) (map[string]string, error)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func splitTagFilter(f string) (key, value string) {
	key, value, _ = strings.Cut(f, "=")
	return strings.TrimSpace(key), strings.TrimSpace(value)
}
