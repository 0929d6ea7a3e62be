// Package job owns the ingest queue: the FIFO of pending jobs, the
// pause/resume/cancel controls and the single worker that hands jobs to the
// runner.
package job

import (
	"context"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/run"
)

// Job is one queued request to run a scope. Jobs live in memory only.
type Job struct {
	ID         string            `json:"id"`
	Scope      run.Scope         `json:"scope"`
	Mode       run.Mode          `json:"mode"`
	Source     string            `json:"source"`
	Meta       map[string]string `json:"meta,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// Decision is the answer of a checkpoint.
type Decision int

const (
	Continue Decision = iota
	Cancel
)

func (d Decision) String() string {
	if d == Cancel {
		return "cancel"
	}
	return "continue"
}

// Control is handed to the runner for the duration of one job.
type Control interface {
	// RunCreated reports the ledger id of the run backing the job.
	RunCreated(id int64)
	// Checkpoint must be called between units of work. It blocks while
	// ingestion is paused and returns Cancel once cancellation was requested
	// or the session ended.
	Checkpoint(ctx context.Context) Decision
}

// Runner executes one job to completion.
type Runner interface {
	Execute(ctx context.Context, j *Job, ctl Control) error
}

// Gater is implemented by runners that can refuse work up front. A non-empty
// reason rejects manual jobs at enqueue time.
type Gater interface {
	Gate(ctx context.Context) (reason string, err error)
}

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCanceling State = "canceling"
)

type Status struct {
	State           State     `json:"state"`
	QueueLength     int       `json:"queueLength"`
	Paused          bool      `json:"paused"`
	CancelRequested bool      `json:"cancelRequested"`
	CurrentJob      *Job      `json:"currentJob,omitempty"`
	CurrentRunID    *int64    `json:"currentRunId,omitempty"`
	SessionID       uint64    `json:"sessionId"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
