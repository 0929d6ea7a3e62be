package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
)

const waitFor = 2 * time.Second

type runnerFunc func(ctx context.Context, j *Job, ctl Control) error

func (f runnerFunc) Execute(ctx context.Context, j *Job, ctl Control) error { return f(ctx, j, ctl) }

// recorder remembers the order jobs reached the runner.
type recorder struct {
	mu    sync.Mutex
	order []run.Scope
}

func (r *recorder) add(s run.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
}

func (r *recorder) scopes() []run.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]run.Scope(nil), r.order...)
}

func startOrchestrator(t *testing.T, store settings.Store, r Runner) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(r, store, nil, nil)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() {
		o.Stop()
		o.Wait()
	})
	return o
}

func manual(scope run.Scope) EnqueueRequest {
	return EnqueueRequest{Scope: scope, Mode: run.ModeManual}
}

func TestEnqueue_NotStarted(t *testing.T) {
	o := NewOrchestrator(runnerFunc(func(context.Context, *Job, Control) error { return nil }), settings.NewMemoryStore(), nil, nil)
	_, err := o.Enqueue(context.Background(), manual(run.ScopeTargets))
	assert.True(t, apperror.Is(err, apperror.Unavailable), "got %v", err)
}

func TestEnqueue_Validation(t *testing.T) {
	o := startOrchestrator(t, settings.NewMemoryStore(), runnerFunc(func(context.Context, *Job, Control) error { return nil }))

	_, err := o.Enqueue(context.Background(), EnqueueRequest{Scope: "everything", Mode: run.ModeManual})
	assert.True(t, apperror.Is(err, apperror.BadRequest))

	_, err = o.Enqueue(context.Background(), EnqueueRequest{Scope: run.ScopeTargets, Mode: "sometimes"})
	assert.True(t, apperror.Is(err, apperror.BadRequest))
}

func TestStart_Twice(t *testing.T) {
	o := startOrchestrator(t, settings.NewMemoryStore(), runnerFunc(func(context.Context, *Job, Control) error { return nil }))
	assert.True(t, apperror.Is(o.Start(context.Background()), apperror.Conflict))
}

func TestEnqueue_BothExpandsInOrder(t *testing.T) {
	store := settings.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), settings.KeyControl, settings.ControlState{Paused: true}))

	rec := &recorder{}
	o := startOrchestrator(t, store, runnerFunc(func(_ context.Context, j *Job, _ Control) error {
		rec.add(j.Scope)
		return nil
	}))
	require.True(t, o.Status().Paused, "pause flag should be restored on start")

	res, err := o.Enqueue(context.Background(), EnqueueRequest{Scope: run.ScopeBoth, Mode: run.ModeManual, Meta: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Jobs, 2)
	assert.Equal(t, "manual", res.Jobs[0].Source)
	assert.Equal(t, "v", res.Jobs[1].Meta["k"])
	assert.NotEqual(t, res.Jobs[0].ID, res.Jobs[1].ID)

	st := o.Status()
	assert.Equal(t, 2, st.QueueLength)
	assert.Equal(t, StatePaused, st.State)

	require.NoError(t, o.Resume(context.Background()))
	require.Eventually(t, func() bool { return len(rec.scopes()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []run.Scope{run.ScopeTargets, run.ScopeUniverse}, rec.scopes())
}

func TestEnqueue_SingleFlightPerScope(t *testing.T) {
	release := make(chan struct{})
	started := make(chan run.Scope, 4)
	o := startOrchestrator(t, settings.NewMemoryStore(), runnerFunc(func(_ context.Context, j *Job, _ Control) error {
		started <- j.Scope
		<-release
		return nil
	}))
	ctx := context.Background()

	res, err := o.Enqueue(ctx, manual(run.ScopeTargets))
	require.NoError(t, err)
	require.Equal(t, 1, res.Enqueued)
	require.Equal(t, run.ScopeTargets, <-started)

	// Running scope is skipped.
	res, err = o.Enqueue(ctx, manual(run.ScopeTargets))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Enqueued)
	assert.Equal(t, 1, res.Skipped)

	// Other scope queues once, then is skipped while queued.
	res, _ = o.Enqueue(ctx, manual(run.ScopeUniverse))
	assert.Equal(t, 1, res.Enqueued)
	res, _ = o.Enqueue(ctx, manual(run.ScopeBoth))
	assert.Equal(t, 0, res.Enqueued)
	assert.Equal(t, 2, res.Skipped)

	close(release)
	require.Equal(t, run.ScopeUniverse, <-started)
	require.Eventually(t, func() bool { return o.Status().State == StateIdle }, waitFor, 5*time.Millisecond)

	// Once idle the scope is accepted again.
	res, _ = o.Enqueue(ctx, manual(run.ScopeTargets))
	assert.Equal(t, 1, res.Enqueued)
}

func TestPauseResume_ReturnsToIdleAndDrains(t *testing.T) {
	rec := &recorder{}
	store := settings.NewMemoryStore()
	o := startOrchestrator(t, store, runnerFunc(func(_ context.Context, j *Job, _ Control) error {
		rec.add(j.Scope)
		return nil
	}))
	ctx := context.Background()

	require.NoError(t, o.Pause(ctx))
	assert.Equal(t, StatePaused, o.Status().State)

	var cs settings.ControlState
	_, err := store.Get(ctx, settings.KeyControl, &cs)
	require.NoError(t, err)
	assert.True(t, cs.Paused, "pause flag should be persisted")

	_, err = o.Enqueue(ctx, manual(run.ScopeTargets))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.scopes(), "paused queue must not drain")
	assert.Equal(t, 1, o.Status().QueueLength)

	require.NoError(t, o.Resume(ctx))
	require.Eventually(t, func() bool { return len(rec.scopes()) == 1 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return o.Status().State == StateIdle }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, o.Status().QueueLength)
}

func TestPause_PersistFailure(t *testing.T) {
	store := settings.NewMemoryStore()
	o := startOrchestrator(t, store, runnerFunc(func(context.Context, *Job, Control) error { return nil }))

	store.FailWith(errors.New("disk full"))
	require.Error(t, o.Pause(context.Background()))
	assert.False(t, o.Status().Paused)
}

func TestCancel_NoJobIsNoop(t *testing.T) {
	o := startOrchestrator(t, settings.NewMemoryStore(), runnerFunc(func(context.Context, *Job, Control) error { return nil }))
	before := o.Status()

	o.Cancel()
	o.Cancel()

	after := o.Status()
	assert.False(t, after.CancelRequested)
	assert.Equal(t, StateIdle, after.State)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestCancel_StopsRunningJobAtCheckpoint(t *testing.T) {
	inLoop := make(chan struct{})
	result := make(chan Decision, 1)
	o := startOrchestrator(t, settings.NewMemoryStore(), runnerFunc(func(ctx context.Context, _ *Job, ctl Control) error {
		ctl.RunCreated(42)
		close(inLoop)
		for {
			if d := ctl.Checkpoint(ctx); d == Cancel {
				result <- d
				return nil
			}
			time.Sleep(time.Millisecond)
		}
	}))

	_, err := o.Enqueue(context.Background(), manual(run.ScopeUniverse))
	require.NoError(t, err)
	<-inLoop

	st := o.Status()
	assert.Equal(t, StateRunning, st.State)
	require.NotNil(t, st.CurrentRunID)
	assert.Equal(t, int64(42), *st.CurrentRunID)
	require.NotNil(t, st.CurrentJob)
	assert.Equal(t, run.ScopeUniverse, st.CurrentJob.Scope)

	o.Cancel()
	select {
	case d := <-result:
		assert.Equal(t, Cancel, d)
	case <-time.After(waitFor):
		t.Fatal("runner never observed cancel")
	}
	require.Eventually(t, func() bool {
		st := o.Status()
		return st.State == StateIdle && !st.CancelRequested && st.CurrentJob == nil
	}, waitFor, 5*time.Millisecond)
}

func TestCheckpoint_BlocksWhilePaused(t *testing.T) {
	inLoop := make(chan struct{})
	decided := make(chan Decision, 1)
	pause := make(chan struct{})
	o := NewOrchestrator(nil, settings.NewMemoryStore(), nil, nil)
	o.runner = runnerFunc(func(ctx context.Context, _ *Job, ctl Control) error {
		close(inLoop)
		<-pause
		decided <- ctl.Checkpoint(ctx)
		return nil
	})
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() { o.Stop(); o.Wait() })
	ctx := context.Background()

	_, err := o.Enqueue(ctx, manual(run.ScopeTargets))
	require.NoError(t, err)
	<-inLoop
	require.NoError(t, o.Pause(ctx))
	close(pause)

	select {
	case <-decided:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, o.Resume(ctx))
	select {
	case d := <-decided:
		assert.Equal(t, Continue, d)
	case <-time.After(waitFor):
		t.Fatal("checkpoint did not resume")
	}
}

func TestDrain_ContinuesAfterErrorAndPanic(t *testing.T) {
	rec := &recorder{}
	var mu sync.Mutex
	calls := 0
	o := startOrchestrator(t, settings.NewMemoryStore(), runnerFunc(func(_ context.Context, j *Job, _ Control) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		rec.add(j.Scope)
		switch n {
		case 1:
			return errors.New("provider down")
		case 2:
			panic("boom")
		}
		return nil
	}))
	ctx := context.Background()

	_, err := o.Enqueue(ctx, manual(run.ScopeBoth))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.scopes()) == 2 && o.Status().State == StateIdle }, waitFor, 5*time.Millisecond)

	_, err = o.Enqueue(ctx, manual(run.ScopeTargets))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.scopes()) == 3 }, waitFor, 5*time.Millisecond)
}

func TestStop_InvalidatesSession(t *testing.T) {
	inLoop := make(chan struct{})
	decided := make(chan Decision, 1)
	store := settings.NewMemoryStore()
	o := NewOrchestrator(nil, store, nil, nil)
	o.runner = runnerFunc(func(ctx context.Context, _ *Job, ctl Control) error {
		close(inLoop)
		<-ctx.Done()
		decided <- ctl.Checkpoint(ctx)
		return nil
	})
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	_, err := o.Enqueue(ctx, manual(run.ScopeTargets))
	require.NoError(t, err)
	<-inLoop
	session := o.Status().SessionID

	o.Stop()
	o.Wait()

	assert.Equal(t, Cancel, <-decided)
	st := o.Status()
	assert.Greater(t, st.SessionID, session)
	assert.Nil(t, st.CurrentJob)
	assert.Equal(t, 0, st.QueueLength)

	_, err = o.Enqueue(ctx, manual(run.ScopeTargets))
	assert.True(t, apperror.Is(err, apperror.Unavailable))
}

// gatedRunner refuses work with reason until it is cleared.
type gatedRunner struct {
	runnerFunc
	mu     sync.Mutex
	reason string
	err    error
}

func (g *gatedRunner) Gate(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason, g.err
}

func TestEnqueue_ManualRejectedByGate(t *testing.T) {
	ran := make(chan *Job, 4)
	g := &gatedRunner{
		runnerFunc: func(_ context.Context, j *Job, _ Control) error {
			ran <- j
			return nil
		},
		reason: "managed ingestion is disabled by rollout flags",
	}
	o := startOrchestrator(t, settings.NewMemoryStore(), g)
	ctx := context.Background()

	_, err := o.Enqueue(ctx, manual(run.ScopeBoth))
	require.True(t, apperror.Is(err, apperror.FailedPrecondition), "got %v", err)
	assert.Equal(t, 0, o.Status().QueueLength)

	// Background jobs are queued; the runner skips them itself.
	res, err := o.Enqueue(ctx, EnqueueRequest{Scope: run.ScopeTargets, Mode: run.ModeScheduled})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	select {
	case j := <-ran:
		assert.Equal(t, run.ModeScheduled, j.Mode)
	case <-time.After(waitFor):
		t.Fatal("scheduled job did not run")
	}

	g.mu.Lock()
	g.reason, g.err = "", errors.New("settings unavailable")
	g.mu.Unlock()
	_, err = o.Enqueue(ctx, manual(run.ScopeTargets))
	require.Error(t, err)
	assert.False(t, apperror.Is(err, apperror.FailedPrecondition))

	g.mu.Lock()
	g.err = nil
	g.mu.Unlock()
	res, err = o.Enqueue(ctx, manual(run.ScopeTargets))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
}

func TestRestart_NewSessionDrains(t *testing.T) {
	ran := make(chan run.Scope, 4)
	o := NewOrchestrator(runnerFunc(func(_ context.Context, j *Job, _ Control) error {
		ran <- j.Scope
		return nil
	}), settings.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, o.Start(ctx))
		_, err := o.Enqueue(ctx, manual(run.ScopeUniverse))
		require.NoError(t, err)
		select {
		case s := <-ran:
			assert.Equal(t, run.ScopeUniverse, s)
		case <-time.After(waitFor):
			t.Fatalf("session %d did not drain", i+1)
		}
		o.Stop()
		o.Wait()
	}
}
