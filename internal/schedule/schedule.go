// Package schedule enqueues the daily ingest at a configured wall-clock time,
// with optional startup and catch-up runs.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
)

const (
	DefaultRunAt    = "19:30"
	DefaultTimezone = "Asia/Shanghai"
	clockLayout     = "15:04"
)

type Config struct {
	Enabled bool `json:"enabled"`
	// RunAt is the daily trigger time, "HH:MM" in Timezone.
	RunAt         string    `json:"runAt"`
	Timezone      string    `json:"timezone"`
	Scope         run.Scope `json:"scope"`
	RunOnStartup  bool      `json:"runOnStartup"`
	CatchUpMissed bool      `json:"catchUpMissed"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		RunAt:         DefaultRunAt,
		Timezone:      DefaultTimezone,
		Scope:         run.ScopeBoth,
		CatchUpMissed: true,
	}
}

func (c Config) Validate() *apperror.AppError {
	if _, err := c.minuteOfDay(); err != nil {
		return apperror.New(apperror.BadRequest, "runAt must be HH:MM")
	}
	if c.Scope != run.ScopeBoth && !c.Scope.Valid() {
		return apperror.New(apperror.BadRequest, "scope must be targets, universe or both")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return apperror.New(apperror.BadRequest, fmt.Sprintf("unknown timezone %q", c.Timezone))
		}
	}
	return nil
}

// minuteOfDay returns RunAt as minutes after midnight.
func (c Config) minuteOfDay() (int, error) {
	t, err := time.Parse(clockLayout, c.RunAt)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// State is persisted so a restart does not fire the same day twice.
type State struct {
	LastTriggeredDate string `json:"lastTriggeredDate,omitempty"`
}

// LoadConfig returns the stored config, with defaults for absent fields.
func LoadConfig(ctx context.Context, s settings.Store) (Config, error) {
	cfg := DefaultConfig()
	if _, err := s.Get(ctx, settings.KeySchedule, &cfg); err != nil {
		return Config{}, fmt.Errorf("load schedule config: %w", err)
	}
	return cfg, nil
}

func SaveConfig(ctx context.Context, s settings.Store, cfg Config) error {
	if appErr := cfg.Validate(); appErr != nil {
		return appErr
	}
	if err := s.Put(ctx, settings.KeySchedule, cfg); err != nil {
		return fmt.Errorf("save schedule config: %w", err)
	}
	return nil
}
