package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
)

// PollInterval is how often the scheduler re-reads its config and checks the
// clock.
const PollInterval = 30 * time.Second

const source = "scheduler"

// Enqueuer accepts jobs. *job.Orchestrator implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req job.EnqueueRequest) (*job.EnqueueResult, error)
}

type Scheduler struct {
	store    settings.Store
	jobs     Enqueuer
	log      *slog.Logger
	now      func() time.Time
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store settings.Store, jobs Enqueuer, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:    store,
		jobs:     jobs,
		log:      log.With("component", "scheduler"),
		now:      time.Now,
		interval: PollInterval,
	}
}

// Start fires the startup and catch-up runs the config asks for, then polls
// until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return apperror.New(apperror.Conflict, "scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.startup(ctx)
	go s.loop(ctx, s.done)
	s.log.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop ends polling and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) startup(ctx context.Context) {
	cfg, ok := s.config(ctx)
	if !ok {
		return
	}
	if cfg.RunOnStartup {
		s.enqueue(ctx, cfg, run.ModeStartup, "startup")
	}
	if !cfg.CatchUpMissed {
		return
	}

	now := s.now().In(s.location(cfg.Timezone))
	at, _ := cfg.minuteOfDay()
	if now.Hour()*60+now.Minute() < at {
		return
	}
	s.fireOnce(ctx, cfg, now, "catchup")
}

// tick fires the daily run when the zoned clock reads RunAt.
func (s *Scheduler) tick(ctx context.Context) {
	cfg, ok := s.config(ctx)
	if !ok {
		return
	}
	now := s.now().In(s.location(cfg.Timezone))
	at, _ := cfg.minuteOfDay()
	if now.Hour()*60+now.Minute() != at {
		return
	}
	s.fireOnce(ctx, cfg, now, "daily")
}

// fireOnce enqueues a scheduled run unless one was already triggered on the
// zoned date of now.
func (s *Scheduler) fireOnce(ctx context.Context, cfg Config, now time.Time, kind string) {
	today := now.Format(market.DateFormat)

	var state State
	if _, err := s.store.Get(ctx, settings.KeyScheduleState, &state); err != nil {
		s.log.Warn("load schedule state", "error", err)
		return
	}
	if state.LastTriggeredDate == today {
		return
	}
	if !s.enqueue(ctx, cfg, run.ModeScheduled, kind) {
		return
	}

	state.LastTriggeredDate = today
	if err := s.store.Put(ctx, settings.KeyScheduleState, state); err != nil {
		s.log.Warn("save schedule state", "error", err)
	}
}

// config loads the current config and reports whether scheduling is active.
func (s *Scheduler) config(ctx context.Context) (Config, bool) {
	cfg, err := LoadConfig(ctx, s.store)
	if err != nil {
		s.log.Warn("schedule config unavailable", "error", err)
		return Config{}, false
	}
	if !cfg.Enabled {
		return cfg, false
	}
	if _, err := cfg.minuteOfDay(); err != nil {
		s.log.Warn("invalid schedule runAt", "run_at", cfg.RunAt, "error", err)
		return cfg, false
	}
	if cfg.Scope == "" {
		cfg.Scope = run.ScopeBoth
	}
	return cfg, true
}

func (s *Scheduler) enqueue(ctx context.Context, cfg Config, mode run.Mode, kind string) bool {
	res, err := s.jobs.Enqueue(ctx, job.EnqueueRequest{
		Scope:  cfg.Scope,
		Mode:   mode,
		Source: source,
		Meta:   map[string]string{"schedule": kind},
	})
	if err != nil {
		s.log.Warn("scheduled enqueue failed", "schedule", kind, "error", err)
		return false
	}
	s.log.Info("scheduled ingest enqueued", "schedule", kind, "enqueued", res.Enqueued, "skipped", res.Skipped)
	return true
}

// location resolves name, falling back to the market default and then UTC.
func (s *Scheduler) location(name string) *time.Location {
	for _, n := range []string{name, DefaultTimezone} {
		if n == "" {
			continue
		}
		loc, err := time.LoadLocation(n)
		if err == nil {
			return loc
		}
		s.log.Warn("unknown schedule timezone", "timezone", n, "error", err)
	}
	return time.UTC
}
