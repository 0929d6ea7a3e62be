package job

import (
	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/run"
)

type EnqueueRequest struct {
	Scope  run.Scope         `json:"scope"`
	Mode   run.Mode          `json:"mode"`
	Source string            `json:"source"`
	Meta   map[string]string `json:"meta,omitempty"`
}

func (r EnqueueRequest) Validate() *apperror.AppError {
	if r.Scope != run.ScopeBoth && !r.Scope.Valid() {
		return apperror.New(apperror.BadRequest, "scope must be targets, universe or both")
	}
	if !r.Mode.Valid() {
		return apperror.New(apperror.BadRequest, "mode must be manual, scheduled, on_demand or startup")
	}
	return nil
}

type EnqueueResult struct {
	Enqueued int   `json:"enqueued"`
	Skipped  int   `json:"skipped"`
	Jobs     []Job `json:"jobs"`
}
