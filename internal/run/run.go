package run

import "time"

// Scope selects the instrument universe a job covers.
type Scope string

const (
	ScopeTargets  Scope = "targets"
	ScopeUniverse Scope = "universe"
	// ScopeBoth is only valid on enqueue; it expands to targets and universe.
	ScopeBoth Scope = "both"
)

func (s Scope) Valid() bool { return s == ScopeTargets || s == ScopeUniverse }

// Expand returns the concrete scopes s stands for.
func (s Scope) Expand() []Scope {
	if s == ScopeBoth {
		return []Scope{ScopeTargets, ScopeUniverse}
	}
	return []Scope{s}
}

// Mode records why a run was started.
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeScheduled Mode = "scheduled"
	ModeOnDemand  Mode = "on_demand"
	ModeStartup   Mode = "startup"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeScheduled, ModeOnDemand, ModeStartup:
		return true
	}
	return false
}

type Status string

const (
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusPartial, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

type Run struct {
	ID            int64             `json:"id"`
	Scope         Scope             `json:"scope"`
	Mode          Mode              `json:"mode"`
	Status        Status            `json:"status"`
	AsOfTradeDate *time.Time        `json:"asOfTradeDate,omitempty"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    *time.Time        `json:"finishedAt,omitempty"`
	SymbolCount   int64             `json:"symbolCount"`
	Inserted      int64             `json:"inserted"`
	Updated       int64             `json:"updated"`
	Errors        int64             `json:"errors"`
	ErrorMessage  *string           `json:"errorMessage,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
}
