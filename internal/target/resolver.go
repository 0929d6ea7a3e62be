package target

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
)

type Resolver struct {
	store  settings.Store
	source Source
	now    func() time.Time
}

func NewResolver(store settings.Store, source Source) *Resolver {
	return &Resolver{store: store, source: source, now: time.Now}
}

// LoadConfig returns the stored configuration or DefaultConfig.
func (r *Resolver) LoadConfig(ctx context.Context) (Config, error) {
	cfg := DefaultConfig()
	if _, err := r.store.Get(ctx, settings.KeyTargets, &cfg); err != nil {
		return Config{}, fmt.Errorf("load targets config: %w", err)
	}
	return cfg, nil
}

func (r *Resolver) SaveConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return r.store.Put(ctx, settings.KeyTargets, cfg)
}

// Resolve computes the target set for the stored configuration.
func (r *Resolver) Resolve(ctx context.Context) ([]Resolved, error) {
	cfg, err := r.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return r.ResolveConfig(ctx, cfg)
}

// ResolveConfig merges every enabled source of cfg into a list sorted by
// symbol. Cash instruments are dropped.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg Config) ([]Resolved, error) {
	acc := newAccumulator()

	if cfg.IncludeHoldings {
		holdings, err := r.source.Holdings(ctx, cfg.PortfolioIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve holdings: %w", err)
		}
		for _, h := range holdings {
			acc.add(h.Symbol, reasonHoldingsPref+h.PortfolioID)
			acc.class(h.Symbol, h.AssetClass)
		}
	}

	if cfg.IncludeWatchlist {
		items, err := r.source.Watchlist(ctx, cfg.WatchlistGroups)
		if err != nil {
			return nil, fmt.Errorf("resolve watchlist: %w", err)
		}
		for _, it := range items {
			acc.add(it.Symbol, reasonWatchlistPref+it.Group)
		}
	}

	for _, f := range cfg.TagFilters {
		key, value := splitTagFilter(f)
		if key == "" {
			continue
		}
		symbols, err := r.source.TaggedSymbols(ctx, key, value)
		if err != nil {
			return nil, fmt.Errorf("resolve tag %s: %w", f, err)
		}
		reason := reasonTagPref + key
		if value != "" {
			reason += "=" + value
		}
		for _, s := range symbols {
			acc.add(s, reason)
		}
	}

	for _, s := range cfg.ExplicitSymbols {
		acc.add(s, ReasonExplicit)
	}

	if cfg.IncludeTempSearch {
		symbols, err := r.source.TempSymbols(ctx, r.now().UTC())
		if err != nil {
			return nil, fmt.Errorf("resolve temp symbols: %w", err)
		}
		for _, s := range symbols {
			acc.add(s, ReasonTempSearch)
		}
	}

	if cfg.IncludeRegistryAutoIngest {
		symbols, err := r.source.AutoIngestSymbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve registry: %w", err)
		}
		for _, s := range symbols {
			acc.add(s, ReasonRegistryAuto)
		}
	}

	if len(acc.reasons) == 0 {
		return []Resolved{}, nil
	}

	registry, err := r.source.AssetClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve asset classes: %w", err)
	}
	return acc.list(registry), nil
}

// Preview compares the stored target set with the one draft would produce.
// Nothing is persisted.
func (r *Resolver) Preview(ctx context.Context, draft Config) (*Diff, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	baseline, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	next, err := r.ResolveConfig(ctx, draft)
	if err != nil {
		return nil, err
	}
	return diff(baseline, next), nil
}

func diff(before, after []Resolved) *Diff {
	d := &Diff{Added: []Resolved{}, Removed: []Resolved{}, ReasonChanged: []ReasonChange{}}

	prev := make(map[string]Resolved, len(before))
	for _, t := range before {
		prev[t.Symbol] = t
	}
	seen := make(map[string]bool, len(after))
	for _, t := range after {
		seen[t.Symbol] = true
		old, ok := prev[t.Symbol]
		switch {
		case !ok:
			d.Added = append(d.Added, t)
		case !slices.Equal(old.Reasons, t.Reasons):
			d.ReasonChanged = append(d.ReasonChanged, ReasonChange{Symbol: t.Symbol, Before: old.Reasons, After: t.Reasons})
		}
	}
	for _, t := range before {
		if !seen[t.Symbol] {
			d.Removed = append(d.Removed, t)
		}
	}
	return d
}

type accumulator struct {
	reasons map[string]map[string]struct{}
	classes map[string]string
}

func newAccumulator() *accumulator {
	return &accumulator{
		reasons: make(map[string]map[string]struct{}),
		classes: make(map[string]string),
	}
}

func (a *accumulator) add(symbol, reason string) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return
	}
	set, ok := a.reasons[symbol]
	if !ok {
		set = make(map[string]struct{})
		a.reasons[symbol] = set
	}
	set[reason] = struct{}{}
}

func (a *accumulator) class(symbol, class string) {
	symbol = normalizeSymbol(symbol)
	if class == "" || a.classes[symbol] != "" {
		return
	}
	a.classes[symbol] = class
}

func (a *accumulator) list(registry map[string]string) []Resolved {
	out := make([]Resolved, 0, len(a.reasons))
	for symbol, set := range a.reasons {
		class := a.classes[symbol]
		if class == "" {
			class = registry[symbol]
		}
		ac := market.NormalizeAssetClass(class)
		if ac == market.AssetCash {
			continue
		}
		reasons := make([]string, 0, len(set))
		for r := range set {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		out = append(out, Resolved{Symbol: symbol, AssetClass: ac, Reasons: reasons})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
