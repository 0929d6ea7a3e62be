package autoingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	reqs []job.EnqueueRequest
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req job.EnqueueRequest) (*job.EnqueueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &job.EnqueueResult{Enqueued: 1}, nil
}

func (f *fakeEnqueuer) requests() []job.EnqueueRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]job.EnqueueRequest(nil), f.reqs...)
}

func newTrigger(t *testing.T, store settings.Store) (*Trigger, *fakeEnqueuer) {
	t.Helper()
	jobs := &fakeEnqueuer{}
	tr := New(store, jobs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr.debounceUnit = 10 * time.Millisecond
	t.Cleanup(tr.Stop)
	return tr, jobs
}

func TestNotifyDataChanged_Debounces(t *testing.T) {
	tr, jobs := newTrigger(t, settings.NewMemoryStore())
	ctx := context.Background()

	tr.NotifyDataChanged(ctx, "holdings")
	tr.NotifyDataChanged(ctx, "watchlist")
	tr.NotifyDataChanged(ctx, "holdings")

	require.Eventually(t, func() bool { return len(jobs.requests()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Len(t, jobs.requests(), 1, "a burst produces one job")

	req := jobs.requests()[0]
	assert.Equal(t, run.ScopeTargets, req.Scope)
	assert.Equal(t, run.ModeOnDemand, req.Mode)
	assert.Equal(t, Source, req.Source)
	assert.Equal(t, "event", req.Meta["trigger"])
	assert.Equal(t, "holdings,watchlist", req.Meta["reason"])
}

func TestNotifyDataChanged_Disabled(t *testing.T) {
	store := settings.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.Enabled = false
	require.NoError(t, SaveConfig(context.Background(), store, cfg))

	tr, jobs := newTrigger(t, store)
	tr.NotifyDataChanged(context.Background(), "holdings")
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, jobs.requests())
}

func TestInterval_RegisterAndReload(t *testing.T) {
	store := settings.NewMemoryStore()
	tr, jobs := newTrigger(t, store)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx))
	require.Len(t, tr.cron.Entries(), 1)

	// Fire the entry directly instead of waiting an hour.
	tr.cron.Entry(tr.entry).Job.Run()
	reqs := jobs.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "interval", reqs[0].Meta["trigger"])
	assert.Equal(t, run.ModeOnDemand, reqs[0].Mode)

	cfg := DefaultConfig()
	cfg.IntervalMinutes = 0
	require.NoError(t, SaveConfig(ctx, store, cfg))
	require.NoError(t, tr.Reload(ctx))
	assert.Empty(t, tr.cron.Entries())

	cfg.IntervalMinutes = 15
	cfg.Scope = run.ScopeBoth
	require.NoError(t, SaveConfig(ctx, store, cfg))
	require.NoError(t, tr.Reload(ctx))
	require.Len(t, tr.cron.Entries(), 1)

	tr.cron.Entry(tr.entry).Job.Run()
	reqs = jobs.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, run.ScopeBoth, reqs[1].Scope)
}

func TestConfig_Validate(t *testing.T) {
	assert.Nil(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Scope = "everything"
	assert.NotNil(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.IntervalMinutes = -1
	assert.NotNil(t, cfg.Validate())

	err := SaveConfig(context.Background(), settings.NewMemoryStore(), cfg)
	assert.Error(t, err)
}
