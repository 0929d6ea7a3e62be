package run

import (
	"context"
	"sync"
	"testing"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
)

type mockRepo struct {
	mu         sync.Mutex
	runs       map[int64]*Run
	nextID     int64
	staleCount int64
	lastFilter ListFilter
}

func newMockRepo() *mockRepo {
	return &mockRepo{runs: make(map[int64]*Run), nextID: 1}
}

func (m *mockRepo) Create(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID
	m.nextID++
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *mockRepo) Finish(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[r.ID].Status != StatusRunning {
		return ErrAlreadyFinished
	}
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id int64) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "run not found")
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]Run, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = f
	var out []Run
	for _, r := range m.runs {
		if f.Scope != "" && r.Scope != f.Scope {
			continue
		}
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

func (m *mockRepo) RecoverStale(_ context.Context) (int64, error) {
	return m.staleCount, nil
}

func TestService_RecoverStaleRuns(t *testing.T) {
	repo := newMockRepo()
	repo.staleCount = 2
	if err := NewService(repo).RecoverStaleRuns(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_Get(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := repo.Create(ctx, &Run{Scope: ScopeTargets, Mode: ModeManual, Status: StatusRunning}); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(ctx, GetRunRequest{ID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Scope != ScopeTargets {
		t.Errorf("expected targets, got %s", got.Scope)
	}

	if _, err := svc.Get(ctx, GetRunRequest{ID: 0}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := svc.Get(ctx, GetRunRequest{ID: 42}); !apperror.Is(err, apperror.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_List_DefaultsPageSize(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_ = repo.Create(ctx, &Run{Scope: ScopeTargets, Status: StatusSuccess})
	_ = repo.Create(ctx, &Run{Scope: ScopeUniverse, Status: StatusSuccess})

	resp, err := svc.List(ctx, ListRunsRequest{Scope: ScopeUniverse})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Runs) != 1 || resp.Total != 1 {
		t.Errorf("expected 1 run, got %d (total %d)", len(resp.Runs), resp.Total)
	}
	if repo.lastFilter.Limit != DefaultPageSize {
		t.Errorf("expected default limit %d, got %d", DefaultPageSize, repo.lastFilter.Limit)
	}
}

func TestListRunsRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ListRunsRequest
		wantErr bool
	}{
		{"empty", ListRunsRequest{}, false},
		{"bad scope", ListRunsRequest{Scope: "both"}, true},
		{"bad status", ListRunsRequest{Status: "done"}, true},
		{"limit too large", ListRunsRequest{Limit: 501}, true},
		{"negative offset", ListRunsRequest{Offset: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScope_Expand(t *testing.T) {
	got := ScopeBoth.Expand()
	if len(got) != 2 || got[0] != ScopeTargets || got[1] != ScopeUniverse {
		t.Errorf("unexpected expansion: %v", got)
	}
	if got := ScopeTargets.Expand(); len(got) != 1 {
		t.Errorf("unexpected expansion: %v", got)
	}
}
