// Package autoingest turns data-changed events and a periodic fallback into
// on-demand ingest jobs.
package autoingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
)

const Source = "auto"

type Config struct {
	Enabled         bool      `json:"enabled"`
	Scope           run.Scope `json:"scope"`
	IntervalMinutes int       `json:"intervalMinutes"`
	DebounceSeconds int       `json:"debounceSeconds"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Scope:           run.ScopeTargets,
		IntervalMinutes: 60,
		DebounceSeconds: 5,
	}
}

func (c Config) Validate() *apperror.AppError {
	if c.Scope != run.ScopeBoth && !c.Scope.Valid() {
		return apperror.New(apperror.BadRequest, "scope must be targets, universe or both")
	}
	if c.IntervalMinutes < 0 {
		return apperror.New(apperror.BadRequest, "intervalMinutes must not be negative")
	}
	if c.DebounceSeconds < 0 {
		return apperror.New(apperror.BadRequest, "debounceSeconds must not be negative")
	}
	return nil
}

func LoadConfig(ctx context.Context, s settings.Store) (Config, error) {
	cfg := DefaultConfig()
	if _, err := s.Get(ctx, settings.KeyAutoIngest, &cfg); err != nil {
		return Config{}, fmt.Errorf("load auto-ingest config: %w", err)
	}
	return cfg, nil
}

func SaveConfig(ctx context.Context, s settings.Store, cfg Config) error {
	if appErr := cfg.Validate(); appErr != nil {
		return appErr
	}
	if err := s.Put(ctx, settings.KeyAutoIngest, cfg); err != nil {
		return fmt.Errorf("save auto-ingest config: %w", err)
	}
	return nil
}

// Enqueuer accepts jobs. *job.Orchestrator implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req job.EnqueueRequest) (*job.EnqueueResult, error)
}

// Trigger coalesces bursts of data-changed events into one job and runs a
// periodic fallback on a cron entry.
type Trigger struct {
	store settings.Store
	jobs  Enqueuer
	log   *slog.Logger
	cron  *cron.Cron
	// debounceUnit scales DebounceSeconds.
	debounceUnit time.Duration

	mu      sync.Mutex
	ctx     context.Context
	entry   cron.EntryID
	timer   *time.Timer
	reasons map[string]struct{}
}

func New(store settings.Store, jobs Enqueuer, log *slog.Logger) *Trigger {
	if log == nil {
		log = slog.Default()
	}
	return &Trigger{
		store:        store,
		jobs:         jobs,
		log:          log.With("component", "autoingest"),
		cron:         cron.New(),
		debounceUnit: time.Second,
		ctx:          context.Background(),
		reasons:      make(map[string]struct{}),
	}
}

// Start registers the interval entry and starts the cron runner. Jobs are
// enqueued with ctx.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	t.ctx = ctx
	err := t.register(ctx)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.cron.Start()
	t.log.Info("auto-ingest trigger started")
	return nil
}

// Stop halts the cron runner and drops any pending debounced event.
func (t *Trigger) Stop() {
	<-t.cron.Stop().Done()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	clear(t.reasons)
	t.log.Info("auto-ingest trigger stopped")
}

// Reload re-registers the interval entry from the stored config.
func (t *Trigger) Reload(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.register(ctx)
}

func (t *Trigger) register(ctx context.Context) error {
	if t.entry != 0 {
		t.cron.Remove(t.entry)
		t.entry = 0
	}

	cfg, err := LoadConfig(ctx, t.store)
	if err != nil {
		return err
	}
	if !cfg.Enabled || cfg.IntervalMinutes == 0 {
		t.log.Info("interval trigger disabled")
		return nil
	}

	spec := fmt.Sprintf("@every %dm", cfg.IntervalMinutes)
	id, err := t.cron.AddFunc(spec, func() {
		t.enqueue(map[string]string{"trigger": "interval"})
	})
	if err != nil {
		return fmt.Errorf("register interval %q: %w", spec, err)
	}
	t.entry = id
	t.log.Info("interval trigger registered", "schedule", spec)
	return nil
}

// NotifyDataChanged records a change in user data. Events arriving within the
// debounce window of each other produce one job.
func (t *Trigger) NotifyDataChanged(ctx context.Context, reason string) {
	cfg, err := LoadConfig(ctx, t.store)
	if err != nil {
		t.log.Warn("auto-ingest config unavailable", "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.reasons[reason] = struct{}{}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(time.Duration(cfg.DebounceSeconds)*t.debounceUnit, t.flush)
}

func (t *Trigger) flush() {
	t.mu.Lock()
	reasons := make([]string, 0, len(t.reasons))
	for r := range t.reasons {
		reasons = append(reasons, r)
	}
	clear(t.reasons)
	t.timer = nil
	t.mu.Unlock()

	if len(reasons) == 0 {
		return
	}
	slices.Sort(reasons)
	t.enqueue(map[string]string{"trigger": "event", "reason": strings.Join(reasons, ",")})
}

// enqueue uses the scope stored at fire time.
func (t *Trigger) enqueue(meta map[string]string) {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()

	cfg, err := LoadConfig(ctx, t.store)
	if err != nil {
		t.log.Warn("auto-ingest config unavailable", "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}

	res, err := t.jobs.Enqueue(ctx, job.EnqueueRequest{
		Scope:  cfg.Scope,
		Mode:   run.ModeOnDemand,
		Source: Source,
		Meta:   meta,
	})
	if err != nil {
		t.log.Warn("auto-ingest enqueue failed", "trigger", meta["trigger"], "error", err)
		return
	}
	t.log.Info("auto-ingest enqueued", "trigger", meta["trigger"], "enqueued", res.Enqueued, "skipped", res.Skipped)
}
