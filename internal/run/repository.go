package run

import (
	"context"
	"errors"
)

// ErrAlreadyFinished is returned when sealing a run that is no longer running.
var ErrAlreadyFinished = errors.New("run already finished")

type ListFilter struct {
	Scope  Scope
	Status Status
	Limit  int
	Offset int
}

type Repository interface {
	Create(ctx context.Context, r *Run) error
	// Finish seals a running run. It returns ErrAlreadyFinished if the run
	// was sealed before.
	Finish(ctx context.Context, r *Run) error
	Get(ctx context.Context, id int64) (*Run, error)
	List(ctx context.Context, f ListFilter) ([]Run, int64, error)
	// RecoverStale seals runs left running by a previous process as failed.
	RecoverStale(ctx context.Context) (int64, error)
}
