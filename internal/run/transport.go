package run

import "github.com/ahmethakanbesel/marketdata/internal/apperror"

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type GetRunRequest struct {
	ID int64
}

func (r GetRunRequest) Validate() *apperror.AppError {
	if r.ID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid run id")
	}
	return nil
}

type ListRunsRequest struct {
	Scope  Scope
	Status Status
	Limit  int
	Offset int
}

func (r ListRunsRequest) Validate() *apperror.AppError {
	if r.Scope != "" && !r.Scope.Valid() {
		return apperror.New(apperror.BadRequest, "scope must be targets or universe")
	}
	if r.Status != "" && !r.Status.Valid() {
		return apperror.New(apperror.BadRequest, "unknown status")
	}
	if r.Limit < 0 || r.Limit > MaxPageSize {
		return apperror.New(apperror.BadRequest, "limit must be between 0 and 500")
	}
	if r.Offset < 0 {
		return apperror.New(apperror.BadRequest, "offset must not be negative")
	}
	return nil
}

type ListRunsResponse struct {
	Runs   []Run `json:"runs"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
