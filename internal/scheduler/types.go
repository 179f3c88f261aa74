package scheduler

import (
	"context"
	"time"
)

// TaskFunc is an in-process maintenance task (index rebuild, registry
// verification, ...).
type TaskFunc func(ctx context.Context) error

// TaskResult captures the outcome of one task execution.
type TaskResult struct {
	EventID   string
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Error     error
}

// TaskHistory tracks historical execution data for a maintenance event.
type TaskHistory struct {
	EventID      string    `json:"event_id"`
	LastRun      time.Time `json:"last_run"`
	LastStatus   string    `json:"last_status"` // "success", "failure", "timeout"
	LastDuration int64     `json:"last_duration_ms"`
	RunCount     int       `json:"run_count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}
