package run

import (
	"context"
	"log/slog"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) RecoverStaleRuns(ctx context.Context) error {
	n, err := s.repo.RecoverStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("sealed interrupted runs", "count", n)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, req GetRunRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

func (s *Service) List(ctx context.Context, req ListRunsRequest) (*ListRunsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = DefaultPageSize
	}
	runs, total, err := s.repo.List(ctx, ListFilter(req))
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []Run{}
	}
	return &ListRunsResponse{Runs: runs, Total: total, Limit: req.Limit, Offset: req.Offset}, nil
}
