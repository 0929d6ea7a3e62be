package job

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/metrics"
	"github.com/ahmethakanbesel/marketdata/internal/run"
	"github.com/ahmethakanbesel/marketdata/internal/settings"
)

// Orchestrator is the only path to the Runner. It keeps a FIFO of jobs with
// at most one queued or running job per scope and drains it on a single
// goroutine per session.
type Orchestrator struct {
	runner  Runner
	store   settings.Store
	metrics *metrics.Collector
	log     *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	started     bool
	session     uint64
	stopSession context.CancelFunc
	done        chan struct{}
	// notify wakes the drain loop of the current session. Non-blocking
	// sends, buffer of one.
	notify          chan struct{}
	queue           []*Job
	paused          bool
	cancelRequested bool
	current         *Job
	currentRunID    *int64
	updatedAt       time.Time
	// wake is closed and replaced whenever paused waiters must re-check
	// state: on resume, cancel and stop.
	wake chan struct{}
}

func NewOrchestrator(runner Runner, store settings.Store, log *slog.Logger, m *metrics.Collector) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		runner:  runner,
		store:   store,
		metrics: m,
		log:     log,
		now:     time.Now,
		wake:    make(chan struct{}),
	}
}

// Start opens a new session: it restores the persisted pause flag, resets
// transient state and launches the drain goroutine. The session ends when
// Stop is called or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	var cs settings.ControlState
	if _, err := o.store.Get(ctx, settings.KeyControl, &cs); err != nil {
		return fmt.Errorf("load ingest control: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return apperror.New(apperror.Conflict, "orchestrator already started")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	o.started = true
	o.session++
	o.stopSession = cancel
	o.done = make(chan struct{})
	o.notify = make(chan struct{}, 1)
	o.queue = nil
	o.paused = cs.Paused
	o.cancelRequested = false
	o.current = nil
	o.currentRunID = nil
	o.touch()
	o.metrics.Paused(o.paused)
	o.metrics.QueueLength(0)

	go o.drain(sessionCtx, o.session, o.notify, o.done)

	o.log.Info("ingest orchestrator started", "session", o.session, "paused", o.paused)
	return nil
}

// Stop ends the session. In-flight work observes Cancel at its next
// checkpoint; Stop itself does not wait for it. Use Wait for that.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}
	o.started = false
	o.session++
	o.stopSession()
	o.queue = nil
	o.current = nil
	o.currentRunID = nil
	o.cancelRequested = false
	o.broadcast()
	o.touch()
	o.metrics.QueueLength(0)

	o.log.Info("ingest orchestrator stopped", "session", o.session)
}

// Wait blocks until the drain goroutine of the last session has exited.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Enqueue adds one job per scope, expanding both. A scope that is already
// queued or running is skipped. Manual jobs the runner would refuse are
// rejected with FailedPrecondition before anything is queued.
func (o *Orchestrator) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Mode == run.ModeManual {
		if err := o.checkGate(ctx); err != nil {
			return nil, err
		}
	}
	source := req.Source
	if source == "" {
		source = string(req.Mode)
	}

	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil, apperror.New(apperror.Unavailable, "ingest orchestrator is not running")
	}

	res := &EnqueueResult{Jobs: []Job{}}
	for _, scope := range req.Scope.Expand() {
		if o.busy(scope) {
			res.Skipped++
			o.metrics.JobSkipped(string(scope))
			continue
		}
		j := &Job{
			ID:         uuid.NewString(),
			Scope:      scope,
			Mode:       req.Mode,
			Source:     source,
			Meta:       maps.Clone(req.Meta),
			EnqueuedAt: o.now().UTC(),
		}
		o.queue = append(o.queue, j)
		res.Enqueued++
		res.Jobs = append(res.Jobs, *j)
		o.metrics.JobEnqueued(string(scope), string(req.Mode))
	}
	if res.Enqueued > 0 {
		o.touch()
	}
	queued := len(o.queue)
	o.mu.Unlock()

	o.metrics.QueueLength(queued)
	if res.Enqueued > 0 {
		o.log.Info("ingest jobs enqueued", "scope", req.Scope, "mode", req.Mode, "source", source,
			"enqueued", res.Enqueued, "skipped", res.Skipped)
		o.kick()
	}
	return res, nil
}

// Pause persists the paused flag. The running job blocks at its next
// checkpoint; queued jobs wait.
func (o *Orchestrator) Pause(ctx context.Context) error {
	return o.setPaused(ctx, true)
}

// Resume clears the paused flag and wakes blocked checkpoints and the
// drain loop.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if err := o.setPaused(ctx, false); err != nil {
		return err
	}
	o.kick()
	return nil
}

func (o *Orchestrator) setPaused(ctx context.Context, paused bool) error {
	if err := o.store.Put(ctx, settings.KeyControl, settings.ControlState{Paused: paused}); err != nil {
		return fmt.Errorf("persist ingest control: %w", err)
	}

	o.mu.Lock()
	changed := o.paused != paused
	o.paused = paused
	if !paused {
		o.broadcast()
	}
	o.touch()
	o.mu.Unlock()

	o.metrics.Paused(paused)
	if changed {
		o.log.Info("ingest pause toggled", "paused", paused)
	}
	return nil
}

// Cancel asks the running job to stop at its next checkpoint. Without a
// running job it does nothing.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.cancelRequested {
		return
	}
	o.cancelRequested = true
	o.broadcast()
	o.touch()
	o.log.Info("ingest cancel requested", "job", o.current.ID, "scope", o.current.Scope)
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		State:           StateIdle,
		QueueLength:     len(o.queue),
		Paused:          o.paused,
		CancelRequested: o.cancelRequested,
		SessionID:       o.session,
		UpdatedAt:       o.updatedAt,
	}
	if o.current != nil {
		cp := *o.current
		st.CurrentJob = &cp
		st.State = StateRunning
	}
	if o.currentRunID != nil {
		id := *o.currentRunID
		st.CurrentRunID = &id
	}
	switch {
	case o.cancelRequested:
		st.State = StateCanceling
	case o.paused:
		st.State = StatePaused
	}
	return st
}

func (o *Orchestrator) drain(ctx context.Context, session uint64, notify <-chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		for {
			j, ok := o.next(ctx, session)
			if !ok {
				break
			}
			o.execute(ctx, session, j)
		}

		select {
		case <-ctx.Done():
			return
		case <-notify:
		}
	}
}

// next pops the queue head, blocking while paused. It reports false when the
// queue is empty or the session has ended.
func (o *Orchestrator) next(ctx context.Context, session uint64) (*Job, bool) {
	for {
		o.mu.Lock()
		if o.session != session || ctx.Err() != nil || len(o.queue) == 0 {
			o.mu.Unlock()
			return nil, false
		}
		if o.paused {
			wake := o.wake
			o.mu.Unlock()
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return nil, false
			}
		}

		j := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.current = j
		o.currentRunID = nil
		o.cancelRequested = false
		o.touch()
		queued := len(o.queue)
		o.mu.Unlock()

		o.metrics.QueueLength(queued)
		return j, true
	}
}

func (o *Orchestrator) execute(ctx context.Context, session uint64, j *Job) {
	log := o.log.With("job", j.ID, "scope", j.Scope, "mode", j.Mode)
	defer func() {
		if r := recover(); r != nil {
			log.Error("ingest job panicked", "panic", r)
		}
		o.mu.Lock()
		if o.session == session && o.current == j {
			o.current = nil
			o.currentRunID = nil
			o.cancelRequested = false
			o.touch()
		}
		o.mu.Unlock()
	}()

	log.Info("ingest job started")
	start := o.now()
	if err := o.runner.Execute(ctx, j, &control{o: o, session: session, job: j}); err != nil {
		log.Error("ingest job failed", "error", err, "elapsed", o.now().Sub(start))
		return
	}
	log.Info("ingest job finished", "elapsed", o.now().Sub(start))
}

func (o *Orchestrator) checkGate(ctx context.Context) error {
	g, ok := o.runner.(Gater)
	if !ok {
		return nil
	}
	reason, err := g.Gate(ctx)
	if err != nil {
		return fmt.Errorf("check ingest gate: %w", err)
	}
	if reason != "" {
		return apperror.New(apperror.FailedPrecondition, reason)
	}
	return nil
}

// busy must be called with mu held.
func (o *Orchestrator) busy(scope run.Scope) bool {
	if o.current != nil && o.current.Scope == scope {
		return true
	}
	for _, j := range o.queue {
		if j.Scope == scope {
			return true
		}
	}
	return false
}

// broadcast must be called with mu held.
func (o *Orchestrator) broadcast() {
	close(o.wake)
	o.wake = make(chan struct{})
}

func (o *Orchestrator) touch() { o.updatedAt = o.now().UTC() }

func (o *Orchestrator) kick() {
	o.mu.Lock()
	notify := o.notify
	o.mu.Unlock()
	if notify == nil {
		return
	}
	select {
	case notify <- struct{}{}:
	default:
	}
}

// control binds a Control to one job of one session.
type control struct {
	o       *Orchestrator
	session uint64
	job     *Job
}

func (c *control) RunCreated(id int64) {
	c.o.mu.Lock()
	defer c.o.mu.Unlock()
	if c.o.session == c.session && c.o.current == c.job {
		c.o.currentRunID = &id
		c.o.touch()
	}
}

func (c *control) Checkpoint(ctx context.Context) Decision {
	for {
		c.o.mu.Lock()
		if c.o.session != c.session || ctx.Err() != nil || c.o.cancelRequested {
			c.o.mu.Unlock()
			return Cancel
		}
		if !c.o.paused {
			c.o.mu.Unlock()
			return Continue
		}
		wake := c.o.wake
		c.o.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Cancel
		}
	}
}
