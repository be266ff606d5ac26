// Package health serves liveness and readiness for the worker's admin port.
// Readiness fails only when a critical dependency (Temporal, Redis when
// sessions are enabled) is unhealthy.
package health

import (
	"context"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// rank orders statuses from best to worst
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

type Result struct {
	Component string         `json:"component"`
	Status    Status         `json:"status"`
	Critical  bool           `json:"critical"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	LatencyMS int64          `json:"latency_ms"`
	CheckedAt time.Time      `json:"checked_at"`
}

func healthy(msg string) Result { return Result{Status: StatusHealthy, Message: msg} }

func unhealthy(msg string, err error) Result {
	r := Result{Status: StatusUnhealthy, Message: msg}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) Result
}

// Report aggregates one round of checks
type Report struct {
	Status     Status    `json:"status"`
	Ready      bool      `json:"ready"`
	Message    string    `json:"message"`
	Components []Result  `json:"components"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Component returns the result for name, if it was checked
func (r Report) Component(name string) (Result, bool) {
	for _, c := range r.Components {
		if c.Component == name {
			return c, true
		}
	}
	return Result{}, false
}
